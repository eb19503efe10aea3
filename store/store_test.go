package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	formflow "github.com/goliatone/go-formflow"
	"github.com/goliatone/go-formflow/document"
	"github.com/goliatone/go-formflow/field"
	"github.com/goliatone/go-formflow/schema"
	"github.com/goliatone/go-formflow/workflow"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDoc(id, form, phase string) *document.Document {
	return &document.Document{
		ID:       id,
		Form:     formflow.Ref{ID: form, Version: 1},
		Workflow: formflow.Ref{ID: "approval", Version: 1},
		Phase:    phase,
		Values: field.ValueMap{
			"name":   field.TextValue("Alice"),
			"amount": field.NumberValue(decimal.RequireFromString("12.50")),
		},
		History: []document.HistoryRecord{{Phase: phase, Actor: "u-1"}},
	}
}

// runStoreContract exercises the behaviour every Store must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create and load", func(t *testing.T) {
		s := newStore(t)
		created, err := s.CreateDocument(ctx, newDoc("doc-1", "invoice", "draft"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), created.Version)

		loaded, err := s.LoadDocument(ctx, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, "draft", loaded.Phase)
		assert.True(t, created.Values.Equal(loaded.Values))
		require.Len(t, loaded.History, 1)
		assert.Equal(t, "u-1", loaded.History[0].Actor)
		assert.False(t, loaded.History[0].At.IsZero())

		_, err = s.CreateDocument(ctx, newDoc("doc-1", "invoice", "draft"))
		assert.ErrorIs(t, err, ErrDuplicate)

		_, err = s.LoadDocument(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("commit is conditional", func(t *testing.T) {
		s := newStore(t)
		_, err := s.CreateDocument(ctx, newDoc("doc-2", "invoice", "draft"))
		require.NoError(t, err)

		values := field.ValueMap{"name": field.TextValue("Bob")}
		at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
		next, err := s.Commit(ctx, "doc-2", 1, Commit{
			Phase:  "review",
			Values: values,
			Record: document.HistoryRecord{TransitionID: "submit", From: "draft", Phase: "review", Actor: "u-1", At: at},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), next.Version)

		_, err = s.Commit(ctx, "doc-2", 1, Commit{Phase: "approved", Values: values})
		assert.ErrorIs(t, err, ErrVersionConflict)

		loaded, err := s.LoadDocument(ctx, "doc-2")
		require.NoError(t, err)
		assert.Equal(t, "review", loaded.Phase)
		assert.Equal(t, int64(2), loaded.Version)
		assert.Equal(t, "Bob", loaded.Values["name"].Text())
		assert.False(t, loaded.Values.Has("amount"))
		require.Len(t, loaded.History, 2)
		assert.Equal(t, "submit", loaded.History[1].TransitionID)
		assert.True(t, at.Equal(loaded.History[1].At))

		_, err = s.Commit(ctx, "nope", 1, Commit{Phase: "x"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("racing commits", func(t *testing.T) {
		s := newStore(t)
		_, err := s.CreateDocument(ctx, newDoc("doc-3", "invoice", "draft"))
		require.NoError(t, err)

		var wg sync.WaitGroup
		results := make([]error, 8)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, results[i] = s.Commit(ctx, "doc-3", 1, Commit{Phase: fmt.Sprintf("p%d", i)})
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range results {
			if err == nil {
				wins++
				continue
			}
			assert.True(t, errors.Is(err, ErrVersionConflict), "unexpected error %v", err)
		}
		assert.Equal(t, 1, wins)
	})

	t.Run("list filters", func(t *testing.T) {
		s := newStore(t)
		for i, spec := range []struct{ form, phase string }{
			{"invoice", "draft"}, {"invoice", "review"}, {"expense", "draft"}, {"invoice", "draft"},
		} {
			doc := newDoc(fmt.Sprintf("doc-%d", i), spec.form, spec.phase)
			doc.CreatedAt = time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC)
			_, err := s.CreateDocument(ctx, doc)
			require.NoError(t, err)
		}

		all, err := s.ListDocuments(ctx, Filter{})
		require.NoError(t, err)
		assert.Len(t, all, 4)

		drafts, err := s.ListDocuments(ctx, Filter{FormID: "invoice", Phase: "draft"})
		require.NoError(t, err)
		require.Len(t, drafts, 2)
		assert.Equal(t, "doc-0", drafts[0].ID)
		assert.Equal(t, "doc-3", drafts[1].ID)
		assert.Len(t, drafts[0].History, 1)

		page, err := s.ListDocuments(ctx, Filter{Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "doc-1", page[0].ID)
	})

	t.Run("definitions", func(t *testing.T) {
		s := newStore(t)
		def := workflow.Definition{
			ID: "approval", Version: 1, Initial: "draft",
			Phases:      []workflow.Phase{{ID: "draft"}, {ID: "done", Terminal: true}},
			Transitions: []workflow.Transition{{ID: "finish", From: "draft", To: "done", Guard: workflow.Guard{Roles: []string{"manager"}}}},
		}
		require.NoError(t, s.SaveWorkflow(ctx, def))
		def.Version = 2
		require.NoError(t, s.SaveWorkflow(ctx, def))

		latest, err := s.LoadWorkflow(ctx, "approval", 0)
		require.NoError(t, err)
		assert.Equal(t, 2, latest.Version)
		assert.Equal(t, []string{"manager"}, latest.Transitions[0].Guard.Roles)

		min := decimal.NewFromInt(0)
		form := schema.Form{
			ID: "invoice", Version: 1, WorkflowID: "approval", WorkflowVersion: 2,
			Fields: []schema.Field{
				{Name: "amount", Kind: field.KindNumeric, Required: true, Constraints: field.Constraints{Min: &min}},
				{Name: "level", Kind: field.KindSelect, Constraints: field.Constraints{AllowedValues: []string{"a", "b"}}, Default: "a"},
			},
		}
		require.NoError(t, s.SaveForm(ctx, form))
		require.NoError(t, s.SaveForm(ctx, form))

		loaded, err := s.LoadForm(ctx, "invoice", 1)
		require.NoError(t, err)
		assert.Equal(t, 2, loaded.WorkflowVersion)
		require.Len(t, loaded.Fields, 2)
		assert.True(t, loaded.Fields[0].Constraints.Min.Equal(min))
		assert.Equal(t, "a", loaded.Fields[1].Default)

		forms, err := s.ListForms(ctx)
		require.NoError(t, err)
		assert.Len(t, forms, 1)
		wfs, err := s.ListWorkflows(ctx)
		require.NoError(t, err)
		assert.Len(t, wfs, 2)

		_, err = s.LoadForm(ctx, "invoice", 9)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(*testing.T) Store { return NewMemoryStore() })
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		db, err := OpenSQLite(filepath.Join(t.TempDir(), "formflow.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		return NewSQLiteStore(db, "")
	})
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.CreateDocument(ctx, newDoc("doc-1", "invoice", "draft"))
	require.NoError(t, err)

	loaded, err := s.LoadDocument(ctx, "doc-1")
	require.NoError(t, err)
	loaded.Values["name"] = field.TextValue("mutated")
	loaded.History[0].Actor = "someone"

	again, err := s.LoadDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", again.Values["name"].Text())
	assert.Equal(t, "u-1", again.History[0].Actor)
}
