package page

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/brainbank/osce/internal/casebank"
	"github.com/brainbank/osce/internal/channel"
	"github.com/brainbank/osce/internal/checklist"
	"github.com/brainbank/osce/internal/i18n"
	"github.com/brainbank/osce/internal/model"
	"github.com/brainbank/osce/internal/progress"
	"github.com/brainbank/osce/internal/tree"
)

// optionValue is an attempt selector value. Pages send it as a string or
// as a bare number.
type optionValue string

func (v *optionValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = optionValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode selector value: %w", err)
	}
	*v = optionValue(n.String())
	return nil
}

// results is a scored attempt as shown to the learner.
type results struct {
	checklist.Result
	Notice string `json:"notice,omitempty"`
}

func scored(ctx context.Context, items []model.ChecklistItem, a model.Attempt) results {
	r := results{Result: checklist.Score(items, a)}
	if r.Misaligned {
		r.Notice = i18n.T(ctx, "ChecklistChanged")
	}
	return r
}

// history is the attempt selector of one case with the newest attempt
// preselected.
type history struct {
	Options []progress.Option
	Latest  string
	Results results
}

func (s *session) history(ctx context.Context, rec *model.AttemptRecord, c *model.CaseRecord) (history, bool) {
	attempts := rec.Attempts(c.CaseName)
	if len(attempts) == 0 {
		return history{}, false
	}
	opts := s.agg.History(attempts)
	latest := opts[len(opts)-1].Value
	a, _ := progress.Pick(attempts, latest)
	return history{
		Options: opts,
		Latest:  latest,
		Results: scored(ctx, checklist.Parse(c.Checklist), a),
	}, true
}

// resultsAt scores the attempt behind a selector value of the selected
// case. It reports false when no case is selected, the value names no
// attempt, or the selection changed while loading.
func (s *session) resultsAt(ctx context.Context, value optionValue) (results, bool, error) {
	c, tok, err := s.selectedCase(ctx)
	if err != nil || c == nil {
		return results{}, false, err
	}
	rec, err := s.record(ctx)
	if err != nil {
		return results{}, false, err
	}
	a, ok := progress.Pick(rec.Attempts(c.CaseName), string(value))
	if !ok || !s.sel.Still(tok) {
		return results{}, false, nil
	}
	return scored(ctx, checklist.Parse(c.Checklist), a), true, nil
}

// allowedCase loads name if the user's plans cover it.
func (s *session) allowedCase(ctx context.Context, name string) (*model.CaseRecord, error) {
	_, allowed := s.deps.Plans.AllowedTopics(ctx, s.user)
	return s.deps.Cases.Open(ctx, name, allowed)
}

// selectedCase reloads the selected case under the same plan check as
// openCase, so a plan that lapsed mid-session stops further writes. It
// returns a nil case when nothing is selected.
func (s *session) selectedCase(ctx context.Context) (*model.CaseRecord, channel.Token, error) {
	name, tok := s.sel.Current()
	if name == "" {
		return nil, tok, nil
	}
	c, err := s.allowedCase(ctx, name)
	if errors.Is(err, casebank.ErrAccessDenied) || errors.Is(err, casebank.ErrCaseNotFound) {
		s.sel.Clear(tok)
	}
	if err != nil {
		return nil, tok, err
	}
	return c, tok, nil
}

// openCase selects name and loads it with the user's record, enforcing
// the user's plan. A case that cannot be opened does not stay selected.
// The returned token must still be current before any of the loaded data
// is sent.
func (s *session) openCase(ctx context.Context, name string) (*model.CaseRecord, *model.AttemptRecord, channel.Token, error) {
	tok := s.sel.Select(name)
	c, err := s.allowedCase(ctx, name)
	if err != nil {
		s.sel.Clear(tok)
		return nil, nil, tok, err
	}
	rec, err := s.record(ctx)
	if err != nil {
		return nil, nil, tok, err
	}
	return c, rec, tok, nil
}

// selectNode routes a tree click: leaves open the case, other nodes
// expand.
func (s *session) selectNode(ctx context.Context, id string, open func(context.Context, string) error) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	if name, ok := tree.CaseID(id); ok {
		return open(ctx, name)
	}
	return s.expand(ctx, id)
}
