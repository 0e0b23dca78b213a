// Package casebank serves the case collection: cached listings and tree
// structures, entitlement-checked case content, and editor updates.
package casebank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/brainbank/osce/internal/cache"
	"github.com/brainbank/osce/internal/entitlement"
	"github.com/brainbank/osce/internal/model"
	"github.com/brainbank/osce/internal/progress"
	"github.com/brainbank/osce/internal/tree"
)

var (
	ErrCaseNotFound   = errors.New("case not found")
	ErrAccessDenied   = errors.New("case not included in plan")
	ErrUnknownSection = errors.New("unknown case section")
)

// DefaultSimulatorGender is used when a case does not name one.
const DefaultSimulatorGender = "Female"

const (
	summariesKey = "cases:summaries"
	communityKey = "progress:community"

	summariesTTL = time.Hour
	communityTTL = 10 * time.Minute
)

// CaseStore is the persistent case collection.
type CaseStore interface {
	ListCases(ctx context.Context, summary bool) ([]model.CaseRecord, error)
	GetCase(ctx context.Context, caseName string) (*model.CaseRecord, error)
	UpsertCase(ctx context.Context, c model.CaseRecord) error
}

// RecordLister lists every user's attempt record.
type RecordLister interface {
	ListAttemptRecords(ctx context.Context) ([]*model.AttemptRecord, error)
}

type Service struct {
	cases CaseStore
	cache cache.Cache
	now   func() time.Time
}

// New returns a Service. A nil cache disables caching.
func New(cases CaseStore, c cache.Cache) *Service {
	if c == nil {
		c = cache.NewMemory()
	}
	return &Service{cases: cases, cache: c, now: time.Now}
}

// Cases returns the summaries of every case, from the cache when present.
// Cache failures fall back to the store.
func (s *Service) Cases(ctx context.Context) ([]model.CaseRecord, error) {
	var cached []model.CaseRecord
	ok, err := cache.GetJSON(ctx, s.cache, summariesKey, &cached)
	if err != nil {
		slog.Warn("case summary cache unavailable", "error", err)
	}
	if ok {
		return cached, nil
	}

	cases, err := s.cases.ListCases(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	if err := cache.SetJSON(ctx, s.cache, summariesKey, cases, summariesTTL); err != nil {
		slog.Warn("failed to cache case summaries", "error", err)
	}
	return cases, nil
}

// FreeCases returns the summaries of cases flagged as free.
func (s *Service) FreeCases(ctx context.Context) ([]model.CaseRecord, error) {
	all, err := s.Cases(ctx)
	if err != nil {
		return nil, err
	}
	var free []model.CaseRecord
	for _, c := range all {
		if c.IsFreeCase {
			free = append(free, c)
		}
	}
	return free, nil
}

// Structure builds the tree of every case.
func (s *Service) Structure(ctx context.Context) (*tree.Structure, error) {
	cases, err := s.Cases(ctx)
	if err != nil {
		return nil, err
	}
	return tree.Build(cases), nil
}

// FreeStructure builds the tree of free cases only.
func (s *Service) FreeStructure(ctx context.Context) (*tree.Structure, error) {
	free, err := s.FreeCases(ctx)
	if err != nil {
		return nil, err
	}
	return tree.Build(free), nil
}

// Open loads the full content of a case the caller may access. Display
// fields are normalized: the findings image becomes a plain HTTPS URL and
// a missing simulator gender defaults to DefaultSimulatorGender.
func (s *Service) Open(ctx context.Context, caseName string, allowed entitlement.TopicSet) (*model.CaseRecord, error) {
	c, err := s.cases.GetCase(ctx, caseName)
	if err != nil {
		return nil, fmt.Errorf("get case %s: %w", caseName, err)
	}
	if c == nil {
		return nil, ErrCaseNotFound
	}
	if !entitlement.CanAccessCase(*c, allowed) {
		return nil, ErrAccessDenied
	}
	c.FindingsImage = ImageURL(c.FindingsImage)
	if c.SimulatorGender == "" {
		c.SimulatorGender = DefaultSimulatorGender
	}
	return c, nil
}

// Get loads a case for editing, without entitlement checks or display
// normalization.
func (s *Service) Get(ctx context.Context, caseName string) (*model.CaseRecord, error) {
	c, err := s.cases.GetCase(ctx, caseName)
	if err != nil {
		return nil, fmt.Errorf("get case %s: %w", caseName, err)
	}
	if c == nil {
		return nil, ErrCaseNotFound
	}
	return c, nil
}

// Editable case sections.
const (
	SectionCandidateInfo  = "CandidateInfo"
	SectionFindingsText   = "FindingsText"
	SectionPatientInfo    = "PatientInfo"
	SectionKeyPoints      = "KeyPoints"
	SectionChecklist      = "Checklist"
	SectionInTimeSections = "InTimeSections"
)

// SaveSection replaces one editable section of a case and stamps the edit.
func (s *Service) SaveSection(ctx context.Context, caseName, section string, data json.RawMessage, editedBy string) (*model.CaseRecord, error) {
	c, err := s.Get(ctx, caseName)
	if err != nil {
		return nil, err
	}

	switch section {
	case SectionCandidateInfo:
		var info model.CandidateInfo
		if err := json.Unmarshal(data, &info); err != nil {
			return nil, fmt.Errorf("decode %s: %w", section, err)
		}
		c.CandidateInfo = info
	case SectionFindingsText, SectionPatientInfo, SectionKeyPoints:
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return nil, fmt.Errorf("decode %s: %w", section, err)
		}
		switch section {
		case SectionFindingsText:
			c.FindingsText = text
		case SectionPatientInfo:
			c.PatientInfo = text
		default:
			c.KeyPoints = text
		}
	case SectionChecklist, SectionInTimeSections:
		if !json.Valid(data) {
			return nil, fmt.Errorf("decode %s: invalid JSON", section)
		}
		raw := append(json.RawMessage(nil), data...)
		if section == SectionChecklist {
			c.Checklist = raw
		} else {
			c.InTimeSections = raw
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSection, section)
	}

	now := s.now().UTC()
	c.LastEdited = &now
	c.EditedBy = editedBy
	if err := s.cases.UpsertCase(ctx, *c); err != nil {
		return nil, fmt.Errorf("save case %s: %w", caseName, err)
	}
	s.Invalidate(ctx)
	slog.Info("case section saved", "case", caseName, "section", section, "editor", editedBy)
	return c, nil
}

// Invalidate drops cached listings so the next read hits the store.
func (s *Service) Invalidate(ctx context.Context) {
	if err := s.cache.Delete(ctx, summariesKey, communityKey); err != nil {
		slog.Warn("failed to invalidate case cache", "error", err)
	}
}

// Community returns the community progress over all users, recomputed
// at most every few minutes.
func (s *Service) Community(ctx context.Context, records RecordLister) (progress.Community, error) {
	var cached progress.Community
	if ok, err := cache.GetJSON(ctx, s.cache, communityKey, &cached); err != nil {
		slog.Warn("community cache unavailable", "error", err)
	} else if ok {
		return cached, nil
	}

	cases, err := s.Cases(ctx)
	if err != nil {
		return nil, err
	}
	all, err := records.ListAttemptRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("list attempt records: %w", err)
	}
	community := progress.ComputeCommunity(all, cases)
	if err := cache.SetJSON(ctx, s.cache, communityKey, community, communityTTL); err != nil {
		slog.Warn("failed to cache community progress", "error", err)
	}
	return community, nil
}

const (
	wixImagePrefix = "wix:image://v1/"
	wixMediaURL    = "https://static.wixstatic.com/media/"
)

var imageFile = regexp.MustCompile(`(?i)^(.+?\.(?:png|jpg|jpeg|gif|webp))(/.*)?$`)

// ImageURL turns a wix:image://v1/<id>/<name>#<params> media reference
// into its static HTTPS address. Other values are returned unchanged.
func ImageURL(ref string) string {
	if !strings.HasPrefix(ref, wixImagePrefix) {
		return ref
	}
	url := wixMediaURL + strings.TrimPrefix(ref, wixImagePrefix)
	url, _, _ = strings.Cut(url, "#")
	if m := imageFile.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	return url
}
