// Package store persists documents and published definitions. Every
// implementation provides read-your-writes consistency and a conditional
// commit keyed on the document version.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-formflow/document"
	"github.com/goliatone/go-formflow/field"
	"github.com/goliatone/go-formflow/schema"
	"github.com/goliatone/go-formflow/workflow"
)

var (
	// ErrVersionConflict indicates the compare-and-set on the document version failed.
	ErrVersionConflict = errors.New("document version conflict")
	// ErrNotFound indicates the requested document or definition does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate indicates a document with the same id already exists.
	ErrDuplicate = errors.New("document already exists")
)

// Commit is the complete state change written by one successful transition.
type Commit struct {
	Phase  string
	Values field.ValueMap
	Record document.HistoryRecord
}

// Filter narrows ListDocuments. Zero members match everything.
type Filter struct {
	FormID string
	Phase  string
	Limit  int
	Offset int
}

// DocumentStore persists documents.
type DocumentStore interface {
	// LoadDocument returns the document with its current version stamp.
	LoadDocument(ctx context.Context, id string) (*document.Document, error)
	// CreateDocument inserts doc at version 1. It fails with ErrDuplicate
	// when the id is taken.
	CreateDocument(ctx context.Context, doc *document.Document) (*document.Document, error)
	// Commit writes phase, values and one history record if the stored
	// version equals expected. Either all of it is applied or none of it.
	Commit(ctx context.Context, id string, expected int64, c Commit) (*document.Document, error)
	ListDocuments(ctx context.Context, f Filter) ([]*document.Document, error)
}

// DefinitionStore persists published form and workflow versions.
type DefinitionStore interface {
	SaveForm(ctx context.Context, form schema.Form) error
	SaveWorkflow(ctx context.Context, def workflow.Definition) error
	// LoadForm returns a form version; version 0 means latest.
	LoadForm(ctx context.Context, id string, version int) (schema.Form, error)
	// LoadWorkflow returns a workflow version; version 0 means latest.
	LoadWorkflow(ctx context.Context, id string, version int) (workflow.Definition, error)
	// ListForms returns every stored version, ordered by id then version.
	ListForms(ctx context.Context) ([]schema.Form, error)
	ListWorkflows(ctx context.Context) ([]workflow.Definition, error)
}

// Store is the storage port used by the orchestration service.
type Store interface {
	DocumentStore
	DefinitionStore
}

func normalizeID(id string) string { return strings.TrimSpace(id) }

// prepareCreate checks doc and returns the row to insert at version 1.
func prepareCreate(doc *document.Document) (*document.Document, error) {
	if doc == nil {
		return nil, errors.New("document required")
	}
	out := doc.Clone()
	out.ID = normalizeID(out.ID)
	if out.ID == "" {
		return nil, errors.New("document id required")
	}
	if out.Phase == "" {
		return nil, errors.New("document phase required")
	}
	now := time.Now().UTC()
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.CreatedAt = out.CreatedAt.UTC()
	out.UpdatedAt = out.CreatedAt
	out.Version = 1
	for i := range out.History {
		if out.History[i].At.IsZero() {
			out.History[i].At = out.CreatedAt
		}
		out.History[i].At = out.History[i].At.UTC()
	}
	if out.Values == nil {
		out.Values = field.ValueMap{}
	}
	return out, nil
}

// apply returns the document that results from committing c over doc.
func apply(doc *document.Document, c Commit) *document.Document {
	out := doc.Clone()
	at := c.Record.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	c.Record.At = at.UTC()
	out.Phase = c.Phase
	out.Values = c.Values.Clone()
	if out.Values == nil {
		out.Values = field.ValueMap{}
	}
	out.History = append(out.History, c.Record)
	out.Version++
	out.UpdatedAt = c.Record.At
	return out
}
