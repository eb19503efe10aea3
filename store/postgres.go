package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-formflow/document"
	"github.com/goliatone/go-formflow/schema"
	"github.com/goliatone/go-formflow/workflow"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a PostgreSQL Store backed by a pgx connection pool.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore. Call Migrate once before use.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// pgQueryer is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQueryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	form_id TEXT NOT NULL,
	form_version INT NOT NULL,
	workflow_id TEXT NOT NULL,
	workflow_version INT NOT NULL,
	phase TEXT NOT NULL,
	field_values JSONB NOT NULL,
	version BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS documents_form_idx ON documents (form_id);
CREATE INDEX IF NOT EXISTS documents_phase_idx ON documents (phase);
CREATE TABLE IF NOT EXISTS document_history (
	document_id TEXT NOT NULL REFERENCES documents (id),
	seq INT NOT NULL,
	transition_id TEXT NOT NULL DEFAULT '',
	from_phase TEXT NOT NULL DEFAULT '',
	phase TEXT NOT NULL,
	actor TEXT NOT NULL DEFAULT '',
	at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (document_id, seq)
);
CREATE TABLE IF NOT EXISTS form_versions (
	id TEXT NOT NULL,
	version INT NOT NULL,
	body JSONB NOT NULL,
	PRIMARY KEY (id, version)
);
CREATE TABLE IF NOT EXISTS workflow_versions (
	id TEXT NOT NULL,
	version INT NOT NULL,
	body JSONB NOT NULL,
	PRIMARY KEY (id, version)
);`

// Migrate creates the tables and indexes if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store not configured")
	}
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("postgres schema: %w", err)
	}
	return nil
}

const documentColumns = `id, form_id, form_version, workflow_id, workflow_version,
	phase, field_values::text, version, created_at, updated_at`

func scanPgDocument(row pgx.Row) (*document.Document, error) {
	var (
		doc    document.Document
		values string
	)
	err := row.Scan(
		&doc.ID,
		&doc.Form.ID,
		&doc.Form.Version,
		&doc.Workflow.ID,
		&doc.Workflow.Version,
		&doc.Phase,
		&values,
		&doc.Version,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if doc.Values, err = decodeValues(values); err != nil {
		return nil, err
	}
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	return &doc, nil
}

func (s *PostgresStore) LoadDocument(ctx context.Context, id string) (*document.Document, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("postgres store not configured")
	}
	return s.loadDocument(ctx, s.db, normalizeID(id), false)
}

func (s *PostgresStore) loadDocument(ctx context.Context, q pgQueryer, id string, lock bool) (*document.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	doc, err := scanPgDocument(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if doc.History, err = loadPgHistory(ctx, q, id); err != nil {
		return nil, err
	}
	return doc, nil
}

func loadPgHistory(ctx context.Context, q pgQueryer, id string) ([]document.HistoryRecord, error) {
	rows, err := q.Query(ctx, `SELECT transition_id, from_phase, phase, actor, at FROM document_history
		WHERE document_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []document.HistoryRecord
	for rows.Next() {
		var rec document.HistoryRecord
		if err := rows.Scan(&rec.TransitionID, &rec.From, &rec.Phase, &rec.Actor, &rec.At); err != nil {
			return nil, err
		}
		rec.At = rec.At.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func insertPgHistory(ctx context.Context, q pgQueryer, id string, seq int, rec document.HistoryRecord) error {
	_, err := q.Exec(ctx, `INSERT INTO document_history (document_id, seq, transition_id, from_phase, phase, actor, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, id, seq, rec.TransitionID, rec.From, rec.Phase, rec.Actor, rec.At)
	return err
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *document.Document) (*document.Document, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("postgres store not configured")
	}
	row, err := prepareCreate(doc)
	if err != nil {
		return nil, err
	}
	values, err := encodeValues(row.Values)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `INSERT INTO documents (id, form_id, form_version, workflow_id, workflow_version,
		phase, field_values, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, 1, $8, $9) ON CONFLICT (id) DO NOTHING`,
		row.ID, row.Form.ID, row.Form.Version, row.Workflow.ID, row.Workflow.Version,
		row.Phase, values, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("document %s: %w", row.ID, ErrDuplicate)
	}
	for i, rec := range row.History {
		if err := insertPgHistory(ctx, tx, row.ID, i+1, rec); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return row, nil
}

// Commit locks the document row, checks its version and writes the new
// state and history record in one transaction.
func (s *PostgresStore) Commit(ctx context.Context, id string, expected int64, c Commit) (*document.Document, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("postgres store not configured")
	}
	id = normalizeID(id)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := s.loadDocument(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if cur.Version != expected {
		return nil, fmt.Errorf("document %s at version %d, expected %d: %w", id, cur.Version, expected, ErrVersionConflict)
	}
	next := apply(cur, c)
	values, err := encodeValues(next.Values)
	if err != nil {
		return nil, err
	}
	tag, err := tx.Exec(ctx, `UPDATE documents SET phase = $1, field_values = $2::jsonb, version = $3, updated_at = $4
		WHERE id = $5 AND version = $6`, next.Phase, values, next.Version, next.UpdatedAt, id, expected)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("document %s: %w", id, ErrVersionConflict)
	}
	if err := insertPgHistory(ctx, tx, id, len(next.History), next.History[len(next.History)-1]); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, f Filter) ([]*document.Document, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("postgres store not configured")
	}
	var (
		where []string
		args  []any
	)
	if f.FormID != "" {
		args = append(args, f.FormID)
		where = append(where, fmt.Sprintf("form_id = $%d", len(args)))
	}
	if f.Phase != "" {
		args = append(args, f.Phase)
		where = append(where, fmt.Sprintf("phase = $%d", len(args)))
	}
	query := `SELECT ` + documentColumns + ` FROM documents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var out []*document.Document
	for rows.Next() {
		doc, err := scanPgDocument(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, doc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, doc := range out {
		if doc.History, err = loadPgHistory(ctx, s.db, doc.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *PostgresStore) SaveForm(ctx context.Context, form schema.Form) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store not configured")
	}
	if form.Version <= 0 {
		return fmt.Errorf("form %s: version required", form.ID)
	}
	body, err := encodeForm(form)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO form_versions (id, version, body) VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (id, version) DO NOTHING`, form.ID, form.Version, body)
	return err
}

func (s *PostgresStore) SaveWorkflow(ctx context.Context, def workflow.Definition) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store not configured")
	}
	if def.Version <= 0 {
		return fmt.Errorf("workflow %s: version required", def.ID)
	}
	body, err := encodeWorkflow(def)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO workflow_versions (id, version, body) VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (id, version) DO NOTHING`, def.ID, def.Version, body)
	return err
}

func (s *PostgresStore) loadBody(ctx context.Context, table, id string, version int) (string, error) {
	var (
		body string
		err  error
	)
	if version > 0 {
		err = s.db.QueryRow(ctx, fmt.Sprintf(`SELECT body::text FROM %s WHERE id = $1 AND version = $2`, table),
			id, version).Scan(&body)
	} else {
		err = s.db.QueryRow(ctx, fmt.Sprintf(`SELECT body::text FROM %s WHERE id = $1 ORDER BY version DESC LIMIT 1`, table),
			id).Scan(&body)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%s v%d: %w", id, version, ErrNotFound)
	}
	return body, err
}

func (s *PostgresStore) LoadForm(ctx context.Context, id string, version int) (schema.Form, error) {
	if s == nil || s.db == nil {
		return schema.Form{}, errors.New("postgres store not configured")
	}
	body, err := s.loadBody(ctx, "form_versions", id, version)
	if err != nil {
		return schema.Form{}, err
	}
	return decodeForm(body)
}

func (s *PostgresStore) LoadWorkflow(ctx context.Context, id string, version int) (workflow.Definition, error) {
	if s == nil || s.db == nil {
		return workflow.Definition{}, errors.New("postgres store not configured")
	}
	body, err := s.loadBody(ctx, "workflow_versions", id, version)
	if err != nil {
		return workflow.Definition{}, err
	}
	return decodeWorkflow(body)
}

func (s *PostgresStore) listBodies(ctx context.Context, table string) ([]string, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(`SELECT body::text FROM %s ORDER BY id, version`, table))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PostgresStore) ListForms(ctx context.Context) ([]schema.Form, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("postgres store not configured")
	}
	bodies, err := s.listBodies(ctx, "form_versions")
	if err != nil {
		return nil, err
	}
	out := make([]schema.Form, 0, len(bodies))
	for _, body := range bodies {
		form, err := decodeForm(body)
		if err != nil {
			return nil, err
		}
		out = append(out, form)
	}
	return out, nil
}

func (s *PostgresStore) ListWorkflows(ctx context.Context) ([]workflow.Definition, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("postgres store not configured")
	}
	bodies, err := s.listBodies(ctx, "workflow_versions")
	if err != nil {
		return nil, err
	}
	out := make([]workflow.Definition, 0, len(bodies))
	for _, body := range bodies {
		def, err := decodeWorkflow(body)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, nil
}

// Ping checks connectivity within timeout.
func (s *PostgresStore) Ping(ctx context.Context, timeout time.Duration) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.db.Ping(ctx)
}
