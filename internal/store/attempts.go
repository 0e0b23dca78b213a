package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/brainbank/osce/internal/model"
)

// GetAttemptRecord returns the stored record for userID, or nil if the
// user has never saved one. The returned record carries its version.
func (s *Store) GetAttemptRecord(ctx context.Context, userID string) (*model.AttemptRecord, error) {
	var (
		doc     string
		version int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT doc, version FROM attempt_records WHERE user_id = ?`, userID,
	).Scan(&doc, &version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec model.AttemptRecord
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, fmt.Errorf("decode attempt record for %s: %w", userID, err)
	}
	rec.UserID = userID
	rec.Version = version
	return &rec, nil
}

// SaveAttemptRecord writes rec if its version still matches the stored
// one (zero meaning "not stored yet") and bumps rec.Version on success.
// It returns ErrVersionConflict when another writer got there first.
func (s *Store) SaveAttemptRecord(ctx context.Context, rec *model.AttemptRecord) error {
	now := time.Now().UTC()
	rec.LastUpdated = &now
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode attempt record: %w", err)
	}

	var res sql.Result
	if rec.Version == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO attempt_records (user_id, doc, version, updated_at) VALUES (?, ?, 1, ?)
			 ON CONFLICT(user_id) DO NOTHING`,
			rec.UserID, string(doc), now,
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE attempt_records SET doc = ?, version = version + 1, updated_at = ?
			 WHERE user_id = ? AND version = ?`,
			string(doc), now, rec.UserID, rec.Version,
		)
	}
	if err != nil {
		return fmt.Errorf("save attempt record for %s: %w", rec.UserID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save attempt record for %s: %w", rec.UserID, err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	rec.Version++
	return nil
}

// ListAttemptRecords returns every stored attempt record.
func (s *Store) ListAttemptRecords(ctx context.Context) ([]*model.AttemptRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, doc, version FROM attempt_records ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []*model.AttemptRecord
	for rows.Next() {
		var (
			userID, doc string
			version     int64
		)
		if err := rows.Scan(&userID, &doc, &version); err != nil {
			return nil, err
		}
		rec := &model.AttemptRecord{}
		if err := json.Unmarshal([]byte(doc), rec); err != nil {
			return nil, fmt.Errorf("decode attempt record for %s: %w", userID, err)
		}
		rec.UserID = userID
		rec.Version = version
		records = append(records, rec)
	}
	return records, rows.Err()
}
