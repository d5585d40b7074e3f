package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"dcwatch/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:dcwatch.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transitions (
			id TEXT PRIMARY KEY,
			ts INTEGER NOT NULL,
			rule_name TEXT NOT NULL,
			element TEXT NOT NULL,
			rule_class TEXT,
			status TEXT NOT NULL,
			severity TEXT,
			description TEXT,
			actions_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_ts ON transitions(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_rule ON transitions(rule_name, ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SaveTransition(ctx context.Context, t model.Transition) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions (id, ts, rule_name, element, rule_class, status, severity, description, actions_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.Timestamp,
		t.RuleName,
		t.Element,
		t.RuleClass,
		string(t.Status),
		t.Severity,
		t.Description,
		encodeJSON(t.Actions),
	)
	return err
}
