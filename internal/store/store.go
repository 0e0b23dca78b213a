package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brainbank/osce/internal/model"

	_ "modernc.org/sqlite"
)

// ErrVersionConflict is returned when an attempt record was written by
// someone else since it was read.
var ErrVersionConflict = errors.New("attempt record version conflict")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cases (
		case_name TEXT PRIMARY KEY,
		topic TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		sub_category TEXT NOT NULL DEFAULT '',
		is_free INTEGER NOT NULL DEFAULT 0,
		doc TEXT NOT NULL,
		seq INTEGER NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS attempt_records (
		user_id TEXT PRIMARY KEY,
		doc TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'member',
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		plan_name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// UpsertCase inserts a case or replaces the stored one with the same name.
// A replaced case keeps its original position in the listing order.
func (s *Store) UpsertCase(ctx context.Context, c model.CaseRecord) error {
	if c.CaseName == "" {
		return fmt.Errorf("upsert case: empty case name")
	}
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode case %s: %w", c.CaseName, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cases (case_name, topic, category, sub_category, is_free, doc, seq, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM cases), ?)
		 ON CONFLICT(case_name) DO UPDATE SET
		   topic = excluded.topic, category = excluded.category, sub_category = excluded.sub_category,
		   is_free = excluded.is_free, doc = excluded.doc, updated_at = excluded.updated_at`,
		c.CaseName, c.Topic, c.Category, c.SubCategory, c.IsFreeCase, string(doc), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("upsert case %s: %w", c.CaseName, err)
	}
	return nil
}

// GetCase returns a case by name, or nil if it does not exist.
func (s *Store) GetCase(ctx context.Context, caseName string) (*model.CaseRecord, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM cases WHERE case_name = ?`, caseName).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var c model.CaseRecord
	if err := json.Unmarshal([]byte(doc), &c); err != nil {
		return nil, fmt.Errorf("decode case %s: %w", caseName, err)
	}
	return &c, nil
}

// ListCases returns every case in first-inserted order. With summary set,
// content fields are stripped.
func (s *Store) ListCases(ctx context.Context, summary bool) ([]model.CaseRecord, error) {
	return s.listCases(ctx, `SELECT doc FROM cases ORDER BY seq`, summary)
}

func (s *Store) listCases(ctx context.Context, query string, summary bool) ([]model.CaseRecord, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cases := []model.CaseRecord{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var c model.CaseRecord
		if err := json.Unmarshal([]byte(doc), &c); err != nil {
			return nil, fmt.Errorf("decode case: %w", err)
		}
		if summary {
			c = c.Summary()
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// CaseCount returns the number of cases in the bank.
func (s *Store) CaseCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cases`).Scan(&count)
	return count, err
}
