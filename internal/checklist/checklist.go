// Package checklist reconciles a case checklist with stored attempt scores.
//
// Attempt scores are positional: the n-th entry of a domain's scoreArray
// belongs to the n-th checklist item of that domain. Reordering a
// checklist after attempts exist misaligns old attempts; Hash lets callers
// detect that.
package checklist

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/brainbank/osce/internal/model"
)

// Status classifies one checklist point.
type Status string

const (
	Covered Status = "covered"
	Partial Status = "partial"
	Missed  Status = "missed"
)

// ItemResult is the classification of one checklist item.
type ItemResult struct {
	Domain model.Domain `json:"domain"`
	Point  string       `json:"point"`
	Status Status       `json:"status"`
}

// DomainResult groups the points of one domain by status.
type DomainResult struct {
	Score    model.Score         `json:"score"`
	Covered  []string            `json:"covered"`
	Partial  []string            `json:"partial"`
	Missed   []string            `json:"missed"`
	Remarks  string              `json:"remarks,omitempty"`
	Encoding model.ScoreEncoding `json:"-"`
}

// Result is the scored checklist of one attempt.
type Result struct {
	DataGathering       DomainResult `json:"dataGathering"`
	Management          DomainResult `json:"management"`
	InterpersonalSkills DomainResult `json:"interpersonalSkills"`
	Items               []ItemResult `json:"-"`

	// Misaligned is set when the attempt was scored against a different
	// version of the checklist.
	Misaligned bool `json:"misaligned,omitempty"`
}

// Domain returns the result for d, or nil for an unknown domain.
func (r *Result) Domain(d model.Domain) *DomainResult {
	switch d {
	case model.DataGathering:
		return &r.DataGathering
	case model.Management:
		return &r.Management
	case model.InterpersonalSkills:
		return &r.InterpersonalSkills
	}
	return nil
}

// Score classifies every checklist item against attempt. Items of an
// unknown domain are skipped. Each domain has its own positional index.
func Score(items []model.ChecklistItem, attempt model.Attempt) Result {
	var r Result
	for _, d := range model.Domains {
		ds := attempt.Domain(d)
		dr := r.Domain(d)
		dr.Score = "0.00"
		dr.Encoding = ds.Encoding()
		dr.Covered, dr.Partial, dr.Missed = []string{}, []string{}, []string{}
		if ds != nil {
			if ds.Score != "" {
				dr.Score = ds.Score
			}
			dr.Remarks = ds.Remarks
		}
	}

	index := map[model.Domain]int{}
	for _, item := range items {
		d, ok := model.ParseDomain(string(item.Domain))
		if !ok {
			continue
		}
		i := index[d]
		index[d]++

		status := classify(attempt.Domain(d), i)
		dr := r.Domain(d)
		switch status {
		case Covered:
			dr.Covered = append(dr.Covered, item.Point)
		case Partial:
			dr.Partial = append(dr.Partial, item.Point)
		default:
			dr.Missed = append(dr.Missed, item.Point)
		}
		r.Items = append(r.Items, ItemResult{Domain: d, Point: item.Point, Status: status})
	}

	r.Misaligned = attempt.ChecklistHash != "" && attempt.ChecklistHash != Hash(items)
	return r
}

func classify(ds *model.DomainScore, i int) Status {
	switch ds.Encoding() {
	case model.EncodingTriState:
		if i >= len(ds.ScoreArray) {
			return Missed
		}
		switch ds.ScoreArray[i] {
		case 1:
			return Covered
		case 0.5:
			return Partial
		}
		return Missed
	case model.EncodingBoolean:
		if i < len(ds.BooleanArray) && ds.BooleanArray[i] {
			return Covered
		}
		return Missed
	default:
		return Missed
	}
}

// Hash fingerprints the ordered domain and point pairs of a checklist.
func Hash(items []model.ChecklistItem) string {
	h := sha256.New()
	for _, it := range items {
		h.Write([]byte(it.Domain))
		h.Write([]byte{0x1f})
		h.Write([]byte(it.Point))
		h.Write([]byte{0x1e})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Parse decodes a stored checklist. It accepts a bare item array, a
// {"Checklist": [...]} wrapper, or either of those JSON-encoded inside a
// string. Anything else yields an empty checklist.
func Parse(raw json.RawMessage) []model.ChecklistItem {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	switch raw[0] {
	case '[':
		var items []model.ChecklistItem
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil
		}
		return items
	case '{':
		var wrapped struct {
			Checklist []model.ChecklistItem `json:"Checklist"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil
		}
		return wrapped.Checklist
	case '"':
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil || inner == "" || inner[0] == '"' {
			return nil
		}
		return Parse(json.RawMessage(inner))
	}
	return nil
}

// Grouped lists checklist points per domain.
type Grouped struct {
	DataGathering       []string `json:"dataGathering"`
	Management          []string `json:"management"`
	InterpersonalSkills []string `json:"interpersonalSkills"`
}

// Group splits items by domain, preserving order and skipping unknown
// domains.
func Group(items []model.ChecklistItem) Grouped {
	g := Grouped{DataGathering: []string{}, Management: []string{}, InterpersonalSkills: []string{}}
	for _, it := range items {
		d, ok := model.ParseDomain(string(it.Domain))
		if !ok {
			continue
		}
		switch d {
		case model.DataGathering:
			g.DataGathering = append(g.DataGathering, it.Point)
		case model.Management:
			g.Management = append(g.Management, it.Point)
		case model.InterpersonalSkills:
			g.InterpersonalSkills = append(g.InterpersonalSkills, it.Point)
		}
	}
	return g
}
