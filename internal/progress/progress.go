// Package progress aggregates a user's attempt history into dashboard
// metrics: averages, time series, completion counts and history options.
package progress

import (
	"math"
	"time"

	"github.com/brainbank/osce/internal/label"
	"github.com/brainbank/osce/internal/model"
)

// Aggregator computes metrics with calendar dates in a fixed location.
type Aggregator struct {
	loc *time.Location
}

// New returns an Aggregator that labels dates in loc (UTC when nil).
func New(loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{loc: loc}
}

// DomainAverages holds one number per domain.
type DomainAverages struct {
	DataGathering       float64 `json:"dataGathering"`
	Management          float64 `json:"management"`
	InterpersonalSkills float64 `json:"interpersonalSkills"`
}

func (d *DomainAverages) add(a model.Attempt) {
	d.DataGathering += a.DataGathering.Value()
	d.Management += a.Management.Value()
	d.InterpersonalSkills += a.InterpersonalSkills.Value()
}

func (d DomainAverages) div(n int) DomainAverages {
	if n == 0 {
		return DomainAverages{}
	}
	f := float64(n)
	return DomainAverages{d.DataGathering / f, d.Management / f, d.InterpersonalSkills / f}
}

// Summary is the headline of the performance view.
type Summary struct {
	OverallScore   float64 `json:"overallScore"`
	CasesCompleted int     `json:"casesCompleted"`
}

// TimeSeries has one point per attempt, oldest first.
type TimeSeries struct {
	Labels              []string  `json:"labels"`
	DataGathering       []float64 `json:"dataGathering"`
	Management          []float64 `json:"management"`
	InterpersonalSkills []float64 `json:"interpersonalSkills"`
}

// TopicScore is the average case total within one topic.
type TopicScore struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Performance is the detailed performance summary of one user.
type Performance struct {
	Summary  Summary        `json:"summary"`
	OverTime TimeSeries     `json:"overTime"`
	Domain   DomainAverages `json:"domain"`
	Topics   []TopicScore   `json:"topics"`
}

// Performance aggregates rec over the given cases. Averages use only the
// latest attempt of each case; the time series uses every attempt.
// Unparseable scores count as 0 and no completed cases give all zeros.
func (g *Aggregator) Performance(rec *model.AttemptRecord, cases []model.CaseRecord) Performance {
	p := Performance{
		OverTime: TimeSeries{
			Labels:              []string{},
			DataGathering:       []float64{},
			Management:          []float64{},
			InterpersonalSkills: []float64{},
		},
		Topics: []TopicScore{},
	}

	var history []model.Attempt
	for _, c := range cases {
		history = append(history, rec.Attempts(c.CaseName)...)
	}
	for _, a := range model.SortAttempts(history) {
		p.OverTime.Labels = append(p.OverTime.Labels, a.Timestamp.In(g.loc).Format(time.DateOnly))
		p.OverTime.DataGathering = append(p.OverTime.DataGathering, a.DataGathering.Value())
		p.OverTime.Management = append(p.OverTime.Management, a.Management.Value())
		p.OverTime.InterpersonalSkills = append(p.OverTime.InterpersonalSkills, a.InterpersonalSkills.Value())
	}

	type bucket struct {
		total float64
		count int
	}
	var (
		overall    float64
		domainSum  DomainAverages
		topicOrder []string
		topics     = map[string]*bucket{}
	)
	for _, c := range cases {
		latest, ok := model.Latest(rec.Attempts(c.CaseName))
		if !ok {
			continue
		}
		p.Summary.CasesCompleted++
		total := latest.Total()
		overall += total
		domainSum.add(latest)

		name := label.Sentence(c.Topic)
		b, ok := topics[name]
		if !ok {
			b = &bucket{}
			topics[name] = b
			topicOrder = append(topicOrder, name)
		}
		b.total += total
		b.count++
	}

	if n := p.Summary.CasesCompleted; n > 0 {
		p.Summary.OverallScore = overall / float64(n)
	}
	p.Domain = domainSum.div(p.Summary.CasesCompleted)
	for _, name := range topicOrder {
		b := topics[name]
		p.Topics = append(p.Topics, TopicScore{Name: name, Score: b.total / float64(b.count)})
	}
	return p
}

// Widget is the compact dashboard summary.
type Widget struct {
	Progress struct {
		Total     int `json:"total"`
		Completed int `json:"completed"`
	} `json:"progress"`
	Performance DomainAverages `json:"performance"`
	// Topics maps each topic label to its completion percentage.
	Topics []TopicScore `json:"topics"`
}

// Widget computes completion and domain averages for the dashboard widget.
func (g *Aggregator) Widget(rec *model.AttemptRecord, cases []model.CaseRecord) Widget {
	var w Widget
	w.Topics = []TopicScore{}
	perf := g.Performance(rec, cases)
	w.Progress.Total = len(cases)
	w.Progress.Completed = perf.Summary.CasesCompleted
	w.Performance = perf.Domain

	type count struct{ total, done int }
	var order []string
	counts := map[string]*count{}
	for _, c := range cases {
		name := label.Sentence(c.Topic)
		ct, ok := counts[name]
		if !ok {
			ct = &count{}
			counts[name] = ct
			order = append(order, name)
		}
		ct.total++
		if rec.HasAttempt(c.CaseName) {
			ct.done++
		}
	}
	for _, name := range order {
		ct := counts[name]
		w.Topics = append(w.Topics, TopicScore{Name: name, Score: round2(100 * float64(ct.done) / float64(ct.total))})
	}
	return w
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
