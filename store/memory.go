package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/goliatone/go-formflow/document"
	"github.com/goliatone/go-formflow/schema"
	"github.com/goliatone/go-formflow/workflow"
)

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu        sync.RWMutex
	docs      map[string]*document.Document
	order     []string
	forms     map[string]map[int]schema.Form
	workflows map[string]map[int]workflow.Definition
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:      make(map[string]*document.Document),
		forms:     make(map[string]map[int]schema.Form),
		workflows: make(map[string]map[int]workflow.Definition),
	}
}

// LoadDocument returns a clone of the stored document.
func (s *MemoryStore) LoadDocument(_ context.Context, id string) (*document.Document, error) {
	if s == nil {
		return nil, errors.New("in-memory store not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[normalizeID(id)]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) CreateDocument(_ context.Context, doc *document.Document) (*document.Document, error) {
	if s == nil {
		return nil, errors.New("in-memory store not configured")
	}
	row, err := prepareCreate(doc)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[row.ID]; exists {
		return nil, fmt.Errorf("document %s: %w", row.ID, ErrDuplicate)
	}
	s.docs[row.ID] = row
	s.order = append(s.order, row.ID)
	return row.Clone(), nil
}

// Commit performs the compare-and-set. The new document is built aside and
// swapped in only once complete.
func (s *MemoryStore) Commit(_ context.Context, id string, expected int64, c Commit) (*document.Document, error) {
	if s == nil {
		return nil, errors.New("in-memory store not configured")
	}
	id = normalizeID(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if cur.Version != expected {
		return nil, fmt.Errorf("document %s at version %d, expected %d: %w", id, cur.Version, expected, ErrVersionConflict)
	}
	next := apply(cur, c)
	s.docs[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) ListDocuments(_ context.Context, f Filter) ([]*document.Document, error) {
	if s == nil {
		return nil, errors.New("in-memory store not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*document.Document
	skipped := 0
	for _, id := range s.order {
		doc := s.docs[id]
		if f.FormID != "" && doc.Form.ID != f.FormID {
			continue
		}
		if f.Phase != "" && doc.Phase != f.Phase {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, doc.Clone())
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveForm(_ context.Context, form schema.Form) error {
	if s == nil {
		return errors.New("in-memory store not configured")
	}
	if form.Version <= 0 {
		return fmt.Errorf("form %s: version required", form.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.forms[form.ID]
	if versions == nil {
		versions = make(map[int]schema.Form)
		s.forms[form.ID] = versions
	}
	if _, exists := versions[form.Version]; !exists {
		versions[form.Version] = form.Clone()
	}
	return nil
}

func (s *MemoryStore) SaveWorkflow(_ context.Context, def workflow.Definition) error {
	if s == nil {
		return errors.New("in-memory store not configured")
	}
	if def.Version <= 0 {
		return fmt.Errorf("workflow %s: version required", def.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.workflows[def.ID]
	if versions == nil {
		versions = make(map[int]workflow.Definition)
		s.workflows[def.ID] = versions
	}
	if _, exists := versions[def.Version]; !exists {
		versions[def.Version] = def.Clone()
	}
	return nil
}

func (s *MemoryStore) LoadForm(_ context.Context, id string, version int) (schema.Form, error) {
	if s == nil {
		return schema.Form{}, errors.New("in-memory store not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := pick(s.forms[id], version)
	if !ok {
		return schema.Form{}, fmt.Errorf("form %s v%d: %w", id, version, ErrNotFound)
	}
	f := s.forms[id][v]
	return f.Clone(), nil
}

func (s *MemoryStore) LoadWorkflow(_ context.Context, id string, version int) (workflow.Definition, error) {
	if s == nil {
		return workflow.Definition{}, errors.New("in-memory store not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := pick(s.workflows[id], version)
	if !ok {
		return workflow.Definition{}, fmt.Errorf("workflow %s v%d: %w", id, version, ErrNotFound)
	}
	return s.workflows[id][v].Clone(), nil
}

func (s *MemoryStore) ListForms(_ context.Context) ([]schema.Form, error) {
	if s == nil {
		return nil, errors.New("in-memory store not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []schema.Form
	for _, id := range sortedKeys(s.forms) {
		for _, v := range sortedKeys(s.forms[id]) {
			f := s.forms[id][v]
			out = append(out, f.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) ListWorkflows(_ context.Context) ([]workflow.Definition, error) {
	if s == nil {
		return nil, errors.New("in-memory store not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []workflow.Definition
	for _, id := range sortedKeys(s.workflows) {
		for _, v := range sortedKeys(s.workflows[id]) {
			out = append(out, s.workflows[id][v].Clone())
		}
	}
	return out, nil
}

// pick resolves version 0 to the highest stored version.
func pick[T any](versions map[int]T, version int) (int, bool) {
	if len(versions) == 0 {
		return 0, false
	}
	if version > 0 {
		_, ok := versions[version]
		return version, ok
	}
	latest := 0
	for v := range versions {
		if v > latest {
			latest = v
		}
	}
	return latest, true
}

func sortedKeys[K string | int, V any](m map[K]V) []K {
	out := make([]K, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
