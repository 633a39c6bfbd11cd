// Package store persists the knowledge graph and the analysis audit trail
// in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/brunobiangulo/medreason/knowledge"
	"github.com/brunobiangulo/medreason/metrics"
)

// AnalysisRecord is a row in the analysis_history table.
type AnalysisRecord struct {
	ID               string          `json:"id"`
	ReportType       string          `json:"report_type"`
	SourceExcerpt    string          `json:"source_excerpt"`
	Summary          string          `json:"summary"`
	RiskLevel        string          `json:"risk_level"`
	Response         json.RawMessage `json:"response,omitempty"`
	Confidence       float64         `json:"confidence"`
	ModelUsed        string          `json:"model_used"`
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Counts reports the number of rows per collection and the applied schema version.
type Counts struct {
	Entities      int `json:"entities"`
	Relationships int `json:"relationships"`
	Analyses      int `json:"analyses"`
	SchemaVersion int `json:"schema_version"`
}

// Store wraps the SQLite database for all medreason persistence.
type Store struct {
	db  *sql.DB
	rec metrics.Recorder
}

var _ knowledge.Backend = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path, applies the
// schema and runs pending migrations. A nil recorder disables metrics.
func New(dbPath string, rec metrics.Recorder) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, rec: metrics.OrNoop(rec)}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// --- medical_knowledge ---

// SaveEntity upserts an entity record by id.
func (s *Store) SaveEntity(ctx context.Context, rec knowledge.Record) (err error) {
	done := metrics.TimeStoreOp(s.rec, "save_entity")
	defer func() { done(err == nil) }()

	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO medical_knowledge (id, entity_type, name, payload, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			entity_type = excluded.entity_type,
			name = excluded.name,
			payload = excluded.payload,
			last_updated = excluded.last_updated
	`, rec.ID, string(rec.Type), rec.Name, string(rec.Payload), updated.UTC())
	return err
}

// LoadEntities returns every entity record ordered by id.
func (s *Store) LoadEntities(ctx context.Context) (recs []knowledge.Record, err error) {
	done := metrics.TimeStoreOp(s.rec, "load_entities")
	defer func() { done(err == nil) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, name, payload, last_updated
		FROM medical_knowledge ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var r knowledge.Record
		var typ, payload string
		if err := rows.Scan(&r.ID, &typ, &r.Name, &payload, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Type = knowledge.EntityType(typ)
		r.Payload = []byte(payload)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// getEntity returns a single entity record, or sql.ErrNoRows.
func (s *Store) getEntity(ctx context.Context, id string) (*knowledge.Record, error) {
	var r knowledge.Record
	var typ, payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, entity_type, name, payload, last_updated
		FROM medical_knowledge WHERE id = ?
	`, id).Scan(&r.ID, &typ, &r.Name, &payload, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Type = knowledge.EntityType(typ)
	r.Payload = []byte(payload)
	return &r, nil
}

// --- medical_relationships ---

// SaveRelationship appends a relationship record.
func (s *Store) SaveRelationship(ctx context.Context, rel knowledge.Relationship) (err error) {
	done := metrics.TimeStoreOp(s.rec, "save_relationship")
	defer func() { done(err == nil) }()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO medical_relationships (from_id, to_id, relation_type, weight)
		VALUES (?, ?, ?, ?)
	`, rel.From, rel.To, rel.Type, rel.Weight)
	return err
}

// LoadRelationships returns every relationship in insertion order.
func (s *Store) LoadRelationships(ctx context.Context) (rels []knowledge.Relationship, err error) {
	done := metrics.TimeStoreOp(s.rec, "load_relationships")
	defer func() { done(err == nil) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT from_id, to_id, relation_type, weight
		FROM medical_relationships ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var r knowledge.Relationship
		if err := rows.Scan(&r.From, &r.To, &r.Type, &r.Weight); err != nil {
			return nil, err
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

// SaveBatch writes entities and relationships in one transaction.
func (s *Store) SaveBatch(ctx context.Context, recs []knowledge.Record, rels []knowledge.Relationship) (err error) {
	done := metrics.TimeStoreOp(s.rec, "save_batch")
	defer func() { done(err == nil) }()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		entStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO medical_knowledge (id, entity_type, name, payload, last_updated)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				entity_type = excluded.entity_type,
				name = excluded.name,
				payload = excluded.payload,
				last_updated = excluded.last_updated
		`)
		if err != nil {
			return err
		}
		defer entStmt.Close()

		for _, r := range recs {
			if _, err := entStmt.ExecContext(ctx, r.ID, string(r.Type), r.Name, string(r.Payload), r.UpdatedAt.UTC()); err != nil {
				return fmt.Errorf("saving entity %s: %w", r.ID, err)
			}
		}

		relStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO medical_relationships (from_id, to_id, relation_type, weight)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer relStmt.Close()

		for _, r := range rels {
			if _, err := relStmt.ExecContext(ctx, r.From, r.To, r.Type, r.Weight); err != nil {
				return fmt.Errorf("saving relationship %s->%s: %w", r.From, r.To, err)
			}
		}
		return nil
	})
}

// --- analysis_history ---

// SaveAnalysis inserts an audit record.
func (s *Store) SaveAnalysis(ctx context.Context, a AnalysisRecord) (err error) {
	done := metrics.TimeStoreOp(s.rec, "save_analysis")
	defer func() { done(err == nil) }()

	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	var response sql.NullString
	if len(a.Response) > 0 {
		response = sql.NullString{String: string(a.Response), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analysis_history
			(id, report_type, source_excerpt, summary, risk_level, response, confidence,
			 model_used, prompt_tokens, completion_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.ReportType, a.SourceExcerpt, a.Summary, a.RiskLevel, response, a.Confidence,
		a.ModelUsed, a.PromptTokens, a.CompletionTokens, created.UTC())
	return err
}

// RecentAnalyses returns up to limit audit records, newest first.
func (s *Store) RecentAnalyses(ctx context.Context, limit int) ([]AnalysisRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, report_type, source_excerpt, COALESCE(summary, ''), COALESCE(risk_level, ''),
			response, COALESCE(confidence, 0), COALESCE(model_used, ''),
			COALESCE(prompt_tokens, 0), COALESCE(completion_tokens, 0), created_at
		FROM analysis_history ORDER BY created_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AnalysisRecord
	for rows.Next() {
		var a AnalysisRecord
		var response sql.NullString
		if err := rows.Scan(&a.ID, &a.ReportType, &a.SourceExcerpt, &a.Summary, &a.RiskLevel,
			&response, &a.Confidence, &a.ModelUsed, &a.PromptTokens, &a.CompletionTokens, &a.CreatedAt); err != nil {
			return nil, err
		}
		if response.Valid {
			a.Response = json.RawMessage(response.String)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Counts returns row counts for the three collections.
func (s *Store) Counts(ctx context.Context) (*Counts, error) {
	c := &Counts{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM medical_knowledge", &c.Entities},
		{"SELECT COUNT(*) FROM medical_relationships", &c.Relationships},
		{"SELECT COUNT(*) FROM analysis_history", &c.Analyses},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	v, err := s.schemaVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading schema version: %w", err)
	}
	c.SchemaVersion = v
	return c, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
