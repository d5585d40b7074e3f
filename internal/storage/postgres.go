package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"dcwatch/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/dcwatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transitions (
			id UUID PRIMARY KEY,
			ts BIGINT NOT NULL,
			rule_name TEXT NOT NULL,
			element TEXT NOT NULL,
			rule_class TEXT,
			status TEXT NOT NULL,
			severity TEXT,
			description TEXT,
			actions_json JSONB
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

func (s *postgresStore) SaveTransition(ctx context.Context, t model.Transition) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions (id, ts, rule_name, element, rule_class, status, severity, description, actions_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
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
