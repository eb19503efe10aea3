package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-formflow/document"
	"github.com/goliatone/go-formflow/schema"
	"github.com/goliatone/go-formflow/workflow"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists documents and definitions in SQLite through
// database/sql. Tables are created on first use.
type SQLiteStore struct {
	db     *sql.DB
	prefix string

	schemaOnce sync.Once
	schemaErr  error
}

// OpenSQLite opens a SQLite database file. SQLite allows one writer at a
// time, so the pool is limited to one connection.
func OpenSQLite(dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite dsn required")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewSQLiteStore builds a store on db. prefix namespaces the table names.
func NewSQLiteStore(db *sql.DB, prefix string) *SQLiteStore {
	if prefix == "" {
		prefix = "formflow"
	}
	return &SQLiteStore{db: db, prefix: prefix}
}

func (s *SQLiteStore) table(name string) string { return s.prefix + "_" + name }

type sqlQueryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) ready(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite store not configured")
	}
	s.schemaOnce.Do(func() { s.schemaErr = s.ensureSchema(context.WithoutCancel(ctx), s.db) })
	return s.schemaErr
}

func (s *SQLiteStore) ensureSchema(ctx context.Context, exec sqlQueryer) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		form_id TEXT NOT NULL,
		form_version INTEGER NOT NULL,
		workflow_id TEXT NOT NULL,
		workflow_version INTEGER NOT NULL,
		phase TEXT NOT NULL,
		field_values TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`, s.table("documents")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_form_idx ON %s (form_id)`, s.table("documents"), s.table("documents")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_phase_idx ON %s (phase)`, s.table("documents"), s.table("documents")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		document_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		transition_id TEXT,
		from_phase TEXT,
		phase TEXT NOT NULL,
		actor TEXT,
		at TEXT NOT NULL,
		PRIMARY KEY (document_id, seq)
	)`, s.table("history")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT NOT NULL,
		version INTEGER NOT NULL,
		body TEXT NOT NULL,
		PRIMARY KEY (id, version)
	)`, s.table("forms")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT NOT NULL,
		version INTEGER NOT NULL,
		body TEXT NOT NULL,
		PRIMARY KEY (id, version)
	)`, s.table("workflows")),
	}
	for _, stmt := range stmts {
		if _, err := exec.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) LoadDocument(ctx context.Context, id string) (*document.Document, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return s.loadDocument(ctx, s.db, normalizeID(id))
}

func (s *SQLiteStore) loadDocument(ctx context.Context, q sqlQueryer, id string) (*document.Document, error) {
	row := q.QueryRowContext(ctx, fmt.Sprintf(`SELECT id, form_id, form_version, workflow_id, workflow_version,
		phase, field_values, version, created_at, updated_at FROM %s WHERE id = ?`, s.table("documents")), id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if doc.History, err = s.loadHistory(ctx, q, id); err != nil {
		return nil, err
	}
	return doc, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*document.Document, error) {
	var (
		doc                  document.Document
		values               string
		createdAt, updatedAt string
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
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if doc.Values, err = decodeValues(values); err != nil {
		return nil, err
	}
	doc.CreatedAt = parseTime(createdAt)
	doc.UpdatedAt = parseTime(updatedAt)
	return &doc, nil
}

func (s *SQLiteStore) loadHistory(ctx context.Context, q sqlQueryer, id string) ([]document.HistoryRecord, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`SELECT transition_id, from_phase, phase, actor, at FROM %s
		WHERE document_id = ? ORDER BY seq`, s.table("history")), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []document.HistoryRecord
	for rows.Next() {
		var (
			rec                       document.HistoryRecord
			transitionID, from, actor sql.NullString
			at                        string
		)
		if err := rows.Scan(&transitionID, &from, &rec.Phase, &actor, &at); err != nil {
			return nil, err
		}
		rec.TransitionID = transitionID.String
		rec.From = from.String
		rec.Actor = actor.String
		rec.At = parseTime(at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) insertHistory(ctx context.Context, q sqlQueryer, id string, seq int, rec document.HistoryRecord) error {
	_, err := q.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (document_id, seq, transition_id, from_phase, phase, actor, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, s.table("history")),
		id, seq, rec.TransitionID, rec.From, rec.Phase, rec.Actor, formatTime(rec.At))
	return err
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *document.Document) (*document.Document, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	row, err := prepareCreate(doc)
	if err != nil {
		return nil, err
	}
	values, err := encodeValues(row.Values)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT OR IGNORE INTO %s (id, form_id, form_version, workflow_id,
		workflow_version, phase, field_values, version, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		s.table("documents")),
		row.ID, row.Form.ID, row.Form.Version, row.Workflow.ID, row.Workflow.Version,
		row.Phase, values, formatTime(row.CreatedAt), formatTime(row.UpdatedAt))
	if err != nil {
		return nil, err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("document %s: %w", row.ID, ErrDuplicate)
	}
	for i, rec := range row.History {
		if err := s.insertHistory(ctx, tx, row.ID, i+1, rec); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return row, nil
}

// Commit runs the conditional update and the history insert in one
// transaction.
func (s *SQLiteStore) Commit(ctx context.Context, id string, expected int64, c Commit) (*document.Document, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	id = normalizeID(id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := s.loadDocument(ctx, tx, id)
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
	result, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET phase = ?, field_values = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`, s.table("documents")),
		next.Phase, values, next.Version, formatTime(next.UpdatedAt), id, expected)
	if err != nil {
		return nil, err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("document %s: %w", id, ErrVersionConflict)
	}
	if err := s.insertHistory(ctx, tx, id, len(next.History), next.History[len(next.History)-1]); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, f Filter) ([]*document.Document, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	var (
		where []string
		args  []any
	)
	if f.FormID != "" {
		where = append(where, "form_id = ?")
		args = append(args, f.FormID)
	}
	if f.Phase != "" {
		where = append(where, "phase = ?")
		args = append(args, f.Phase)
	}
	q := fmt.Sprintf(`SELECT id, form_id, form_version, workflow_id, workflow_version,
		phase, field_values, version, created_at, updated_at FROM %s`, s.table("documents"))
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at, id"
	if f.Limit > 0 || f.Offset > 0 {
		limit := f.Limit
		if limit <= 0 {
			limit = -1
		}
		q += " LIMIT ? OFFSET ?"
		args = append(args, limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var out []*document.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, doc := range out {
		if doc.History, err = s.loadHistory(ctx, s.db, doc.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) SaveForm(ctx context.Context, form schema.Form) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if form.Version <= 0 {
		return fmt.Errorf("form %s: version required", form.ID)
	}
	body, err := encodeForm(form)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`INSERT OR IGNORE INTO %s (id, version, body) VALUES (?, ?, ?)`,
		s.table("forms")), form.ID, form.Version, body)
	return err
}

func (s *SQLiteStore) SaveWorkflow(ctx context.Context, def workflow.Definition) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if def.Version <= 0 {
		return fmt.Errorf("workflow %s: version required", def.ID)
	}
	body, err := encodeWorkflow(def)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`INSERT OR IGNORE INTO %s (id, version, body) VALUES (?, ?, ?)`,
		s.table("workflows")), def.ID, def.Version, body)
	return err
}

func (s *SQLiteStore) loadBody(ctx context.Context, table, id string, version int) (string, error) {
	var (
		body string
		err  error
	)
	if version > 0 {
		err = s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT body FROM %s WHERE id = ? AND version = ?`, table),
			id, version).Scan(&body)
	} else {
		err = s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT body FROM %s WHERE id = ? ORDER BY version DESC LIMIT 1`, table),
			id).Scan(&body)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s v%d: %w", id, version, ErrNotFound)
	}
	return body, err
}

func (s *SQLiteStore) LoadForm(ctx context.Context, id string, version int) (schema.Form, error) {
	if err := s.ready(ctx); err != nil {
		return schema.Form{}, err
	}
	body, err := s.loadBody(ctx, s.table("forms"), id, version)
	if err != nil {
		return schema.Form{}, err
	}
	return decodeForm(body)
}

func (s *SQLiteStore) LoadWorkflow(ctx context.Context, id string, version int) (workflow.Definition, error) {
	if err := s.ready(ctx); err != nil {
		return workflow.Definition{}, err
	}
	body, err := s.loadBody(ctx, s.table("workflows"), id, version)
	if err != nil {
		return workflow.Definition{}, err
	}
	return decodeWorkflow(body)
}

func (s *SQLiteStore) listBodies(ctx context.Context, table string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT body FROM %s ORDER BY id, version`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		out = append(out, body)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListForms(ctx context.Context) ([]schema.Form, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	bodies, err := s.listBodies(ctx, s.table("forms"))
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

func (s *SQLiteStore) ListWorkflows(ctx context.Context) ([]workflow.Definition, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	bodies, err := s.listBodies(ctx, s.table("workflows"))
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
