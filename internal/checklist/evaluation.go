package checklist

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/brainbank/osce/internal/model"
)

type evaluation struct {
	Checklist []struct {
		Domain string `json:"Domain"`
		Status string `json:"Status"`
	} `json:"Checklist"`
}

// FromEvaluation turns an AI evaluation of the form
// {"Checklist": [{"Domain": ..., "Status": "covered|partial|missed"}]} into
// a new attempt. Each domain score is the mean item score times four.
// items is the checklist the evaluation was made against; its hash is
// recorded on the attempt.
func FromEvaluation(raw []byte, items []model.ChecklistItem, now time.Time) (model.Attempt, error) {
	var ev evaluation
	if err := json.Unmarshal(raw, &ev); err != nil {
		return model.Attempt{}, fmt.Errorf("parse evaluation: %w", err)
	}
	if ev.Checklist == nil {
		return model.Attempt{}, fmt.Errorf("parse evaluation: missing Checklist")
	}

	arrays := map[model.Domain][]float64{}
	for _, d := range model.Domains {
		arrays[d] = []float64{}
	}
	for _, it := range ev.Checklist {
		d, ok := model.ParseDomain(it.Domain)
		if !ok {
			continue
		}
		arrays[d] = append(arrays[d], statusValue(it.Status))
	}

	a := model.Attempt{Timestamp: now, AI: true}
	if items != nil {
		a.ChecklistHash = Hash(items)
	}
	for _, d := range model.Domains {
		a.SetDomain(d, &model.DomainScore{
			Score:      model.FormatScore(mean(arrays[d]) * 4),
			ScoreArray: arrays[d],
		})
	}
	return a, nil
}

func statusValue(s string) float64 {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case Covered:
		return 1
	case Partial:
		return 0.5
	default:
		return 0
	}
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}
