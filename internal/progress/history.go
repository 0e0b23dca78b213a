package progress

import (
	"fmt"
	"math"
	"strconv"

	"github.com/brainbank/osce/internal/model"
)

const historyLayout = "02 Jan 2006, 3:04 PM"

// NoDataLabel is the single label of an empty chart.
const NoDataLabel = "No Data"

// Option is one entry of the attempt selector.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
	ID    string `json:"id,omitempty"`
	AI    bool   `json:"isAIGenerated"`
}

// History lists attempts oldest first as selector options. Each option
// value is the attempt's index in that order; the label shows the date
// and the rounded domain scores with their sum.
func (g *Aggregator) History(attempts []model.Attempt) []Option {
	sorted := model.SortAttempts(attempts)
	opts := make([]Option, 0, len(sorted))
	for i, a := range sorted {
		dg := math.Round(a.DataGathering.Value())
		mg := math.Round(a.Management.Value())
		is := math.Round(a.InterpersonalSkills.Value())
		opts = append(opts, Option{
			Value: strconv.Itoa(i),
			Label: fmt.Sprintf("%s (Total: %.0f, DG: %.0f, MG: %.0f, IS: %.0f)",
				a.Timestamp.In(g.loc).Format(historyLayout), dg+mg+is, dg, mg, is),
			ID: a.ID,
			AI: a.AI,
		})
	}
	return opts
}

// Pick returns the attempt a History option value refers to.
func Pick(attempts []model.Attempt, value string) (model.Attempt, bool) {
	i, err := strconv.Atoi(value)
	if err != nil {
		return model.Attempt{}, false
	}
	sorted := model.SortAttempts(attempts)
	if i < 0 || i >= len(sorted) {
		return model.Attempt{}, false
	}
	return sorted[i], true
}

// WithPlaceholder returns ts unchanged when it has points, otherwise a
// single zero point labelled NoDataLabel so charts still render.
func (ts TimeSeries) WithPlaceholder() TimeSeries {
	if len(ts.Labels) > 0 {
		return ts
	}
	return TimeSeries{
		Labels:              []string{NoDataLabel},
		DataGathering:       []float64{0},
		Management:          []float64{0},
		InterpersonalSkills: []float64{0},
	}
}
