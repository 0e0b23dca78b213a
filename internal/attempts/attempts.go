// Package attempts loads and mutates per-user attempt records with
// optimistic concurrency.
package attempts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/brainbank/osce/internal/model"
	"github.com/brainbank/osce/internal/store"
	"github.com/brainbank/osce/internal/streak"
)

// Repository persists attempt records. SaveAttemptRecord must return
// store.ErrVersionConflict when rec.Version is stale.
type Repository interface {
	GetAttemptRecord(ctx context.Context, userID string) (*model.AttemptRecord, error)
	SaveAttemptRecord(ctx context.Context, rec *model.AttemptRecord) error
}

const defaultMaxRetries = 5

// Store is the read-modify-write front of a Repository.
type Store struct {
	repo       Repository
	now        func() time.Time
	maxRetries int
}

// New returns a Store over repo.
func New(repo Repository) *Store {
	return &Store{repo: repo, now: time.Now, maxRetries: defaultMaxRetries}
}

// Load returns the user's record, or an unsaved empty default when none
// exists. Nothing is written until the first mutation.
func (s *Store) Load(ctx context.Context, userID string) (*model.AttemptRecord, error) {
	rec, err := s.repo.GetAttemptRecord(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load attempts for %s: %w", userID, err)
	}
	if rec == nil {
		return model.NewAttemptRecord(userID), nil
	}
	if rec.Responses == nil {
		rec.Responses = map[string][]model.Attempt{}
	}
	return rec, nil
}

// Update applies fn to a fresh copy of the user's record and saves it.
// On a version conflict the record is reloaded and fn re-applied, so fn
// must be safe to run more than once.
func (s *Store) Update(ctx context.Context, userID string, fn func(*model.AttemptRecord) error) (*model.AttemptRecord, error) {
	for try := 1; ; try++ {
		rec, err := s.Load(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := fn(rec); err != nil {
			return nil, err
		}
		err = s.repo.SaveAttemptRecord(ctx, rec)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) || try >= s.maxRetries {
			return nil, fmt.Errorf("save attempts for %s: %w", userID, err)
		}
		slog.Debug("attempt record changed concurrently, retrying", "user", userID, "try", try)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// AppendAttempt adds a to the user's history for caseName. A missing id
// or timestamp is filled in.
func (s *Store) AppendAttempt(ctx context.Context, userID, caseName string, a model.Attempt) (*model.AttemptRecord, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = s.now().UTC()
	}
	return s.Update(ctx, userID, func(rec *model.AttemptRecord) error {
		rec.Responses[caseName] = append(rec.Responses[caseName], a)
		return nil
	})
}

// AppendFeedback adds a feedback entry for caseName.
func (s *Store) AppendFeedback(ctx context.Context, userID, caseName string, fb model.Feedback) (*model.AttemptRecord, error) {
	if fb.Timestamp.IsZero() {
		fb.Timestamp = s.now().UTC()
	}
	return s.Update(ctx, userID, func(rec *model.AttemptRecord) error {
		if rec.Feedback == nil {
			rec.Feedback = map[string][]model.Feedback{}
		}
		rec.Feedback[caseName] = append(rec.Feedback[caseName], fb)
		return nil
	})
}

// SaveExamDate overwrites the user's exam date.
func (s *Store) SaveExamDate(ctx context.Context, userID, examDate string) (*model.AttemptRecord, error) {
	return s.Update(ctx, userID, func(rec *model.AttemptRecord) error {
		rec.ExamDate = examDate
		return nil
	})
}

// SaveStreak overwrites the three streak fields.
func (s *Store) SaveStreak(ctx context.Context, userID string, res streak.Result) (*model.AttemptRecord, error) {
	return s.Update(ctx, userID, func(rec *model.AttemptRecord) error {
		res.Apply(rec)
		return nil
	})
}

// RecordChatHistory stores the URL of a saved chat transcript under the
// case and the session timestamp.
func (s *Store) RecordChatHistory(ctx context.Context, userID, caseName, timestamp, url string) (*model.AttemptRecord, error) {
	return s.Update(ctx, userID, func(rec *model.AttemptRecord) error {
		if rec.ChatHistory == nil {
			rec.ChatHistory = map[string]map[string]string{}
		}
		if rec.ChatHistory[caseName] == nil {
			rec.ChatHistory[caseName] = map[string]string{}
		}
		rec.ChatHistory[caseName][timestamp] = url
		return nil
	})
}
