package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	formflow "github.com/goliatone/go-formflow"
	"github.com/goliatone/go-formflow/document"
	"github.com/goliatone/go-formflow/field"
	"github.com/goliatone/go-formflow/logging"
	"github.com/goliatone/go-formflow/schema"
	"github.com/goliatone/go-formflow/store"
	"github.com/goliatone/go-formflow/workflow"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func approvalWorkflow() workflow.Definition {
	return workflow.Definition{
		ID:      "approval",
		Initial: "draft",
		Phases: []workflow.Phase{
			{ID: "draft"},
			{ID: "review"},
			{ID: "approved", Terminal: true},
		},
		Transitions: []workflow.Transition{
			{ID: "submit", From: "draft", To: "review", Guard: workflow.Guard{RequiredFields: []string{"name"}}},
			{ID: "send_back", From: "review", To: "draft", Guard: workflow.Guard{Roles: []string{"manager"}}},
			{ID: "approve", From: "review", To: "approved", Guard: workflow.Guard{Roles: []string{"manager"}}},
		},
	}
}

func personForm() schema.Form {
	zero := decimal.Zero
	return schema.Form{
		ID:         "person",
		WorkflowID: "approval",
		Fields: []schema.Field{
			{Name: "name", Kind: field.KindText, Required: true},
			{Name: "age", Kind: field.KindNumeric, Required: true, Constraints: field.Constraints{Min: &zero}},
			{Name: "note", Kind: field.KindText},
		},
	}
}

var (
	author  = workflow.Actor{ID: "u-1", Roles: []string{"author"}}
	manager = workflow.Actor{ID: "u-2", Roles: []string{"manager"}}
)

// faultyStore wraps a store and injects failures.
type faultyStore struct {
	store.Store
	commitErr   error
	commitFails atomic.Int32
	commits     atomic.Int32
	saveFormErr error
	loadGate    *sync.WaitGroup
}

func (f *faultyStore) LoadDocument(ctx context.Context, id string) (*document.Document, error) {
	doc, err := f.Store.LoadDocument(ctx, id)
	if f.loadGate != nil {
		f.loadGate.Done()
		f.loadGate.Wait()
	}
	return doc, err
}

func (f *faultyStore) Commit(ctx context.Context, id string, expected int64, c store.Commit) (*document.Document, error) {
	f.commits.Add(1)
	if f.commitErr != nil && f.commitFails.Add(-1) >= 0 {
		return nil, f.commitErr
	}
	return f.Store.Commit(ctx, id, expected, c)
}

func (f *faultyStore) SaveForm(ctx context.Context, form schema.Form) error {
	if f.saveFormErr != nil {
		return f.saveFormErr
	}
	return f.Store.SaveForm(ctx, form)
}

func newService(t *testing.T, st store.Store, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Nop{})}, opts...)
	svc := New(schema.NewRegistry(), st, opts...)
	ctx := context.Background()
	_, err := svc.PublishWorkflow(ctx, approvalWorkflow())
	require.NoError(t, err)
	_, err = svc.PublishForm(ctx, personForm())
	require.NoError(t, err)
	return svc
}

func submitAlice(t *testing.T, svc *Service) *document.Document {
	t.Helper()
	doc, err := svc.Submit(context.Background(), SubmitRequest{
		FormID: "person",
		Values: map[string]any{"name": "Alice", "age": 30},
		Actor:  author,
	})
	require.NoError(t, err)
	return doc
}

func TestSubmitMissingRequiredWritesNothing(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newService(t, st)

	_, err := svc.Submit(context.Background(), SubmitRequest{
		FormID: "person",
		Values: map[string]any{"name": "Alice"},
	})
	require.Error(t, err)
	assert.True(t, formflow.HasCode(err, formflow.ErrCodeValidationFailed))
	errs := field.ErrorsOf(err)
	require.Len(t, errs, 1)
	assert.Equal(t, "age", errs[0].Field)
	assert.Equal(t, field.CodeMissingRequired, errs[0].Code)

	docs, err := st.ListDocuments(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestSubmitPlacesDocumentAtInitialPhase(t *testing.T) {
	svc := newService(t, store.NewMemoryStore(), WithIDGenerator(func() string { return "doc-1" }))
	doc := submitAlice(t, svc)

	assert.Equal(t, "doc-1", doc.ID)
	assert.Equal(t, "draft", doc.Phase)
	assert.Equal(t, int64(1), doc.Version)
	assert.Equal(t, formflow.Ref{ID: "person", Version: 1}, doc.Form)
	assert.Equal(t, formflow.Ref{ID: "approval", Version: 1}, doc.Workflow)
	require.Len(t, doc.History, 1)
	assert.Equal(t, "u-1", doc.History[0].Actor)
	assert.Equal(t, "30", doc.Values["age"].Number().String())

	_, err := svc.Submit(context.Background(), SubmitRequest{
		FormID: "person", Values: map[string]any{"name": "Bob", "age": 1},
	})
	assert.True(t, formflow.HasCode(err, formflow.ErrCodeConflict), "duplicate id should conflict: %v", err)

	_, err = svc.Submit(context.Background(), SubmitRequest{FormID: "missing"})
	assert.True(t, formflow.HasCode(err, formflow.ErrCodeNotFound))
}

func TestApplyTransitionRejectionKinds(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, store.NewMemoryStore())
	doc := submitAlice(t, svc)

	res, err := svc.ApplyTransition(ctx, ApplyRequest{DocumentID: doc.ID, TransitionID: "submit", Actor: author})
	require.NoError(t, err)
	assert.Equal(t, "review", res.Document.Phase)
	assert.Equal(t, "draft", res.FromPhase)
	assert.Equal(t, int64(2), res.Document.Version)
	last, _ := res.Document.LastRecord()
	assert.Equal(t, "submit", last.TransitionID)
	assert.Equal(t, "draft", last.From)

	_, err = svc.ApplyTransition(ctx, ApplyRequest{DocumentID: doc.ID, TransitionID: "submit", Actor: author})
	assert.True(t, workflow.IsKind(err, workflow.IllegalOrigin), "got %v", err)
	assert.True(t, formflow.HasCode(err, formflow.ErrCodeTransitionFailed))

	_, err = svc.ApplyTransition(ctx, ApplyRequest{DocumentID: doc.ID, TransitionID: "approve", Actor: author})
	assert.True(t, workflow.IsKind(err, workflow.Unauthorized), "got %v", err)

	_, err = svc.ApplyTransition(ctx, ApplyRequest{DocumentID: doc.ID, TransitionID: "publish", Actor: manager})
	assert.True(t, workflow.IsKind(err, workflow.UnknownTransition), "got %v", err)

	res, err = svc.ApplyTransition(ctx, ApplyRequest{DocumentID: doc.ID, TransitionID: "approve", Actor: manager})
	require.NoError(t, err)
	assert.Equal(t, "approved", res.Document.Phase)
	assert.Len(t, res.Document.History, 3)
}

func TestApplyTransitionMergesAndValidatesDelta(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	svc := newService(t, st)
	doc := submitAlice(t, svc)

	_, err := svc.ApplyTransition(ctx, ApplyRequest{
		DocumentID:   doc.ID,
		TransitionID: "submit",
		Delta:        map[string]any{"age": -1, "colour": "red", "name": nil},
		Actor:        author,
	})
	require.Error(t, err)
	assert.True(t, formflow.HasCode(err, formflow.ErrCodeValidationFailed))
	assert.ElementsMatch(t, []string{"name", "age", "colour"}, field.ErrorsOf(err).Fields())

	stored, err := st.LoadDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
	assert.Equal(t, "draft", stored.Phase)

	res, err := svc.ApplyTransition(ctx, ApplyRequest{
		DocumentID:   doc.ID,
		TransitionID: "submit",
		Delta:        map[string]any{"note": "ready"},
		Actor:        author,
	})
	require.NoError(t, err)
	assert.Equal(t, "ready", res.Document.Values["note"].Text())
	assert.Equal(t, "Alice", res.Document.Values["name"].Text())
}

func TestIgnorePolicyDropsUnknownDeltaKeys(t *testing.T) {
	svc := newService(t, store.NewMemoryStore(), WithUnknownFieldPolicy(document.IgnoreUnknown))
	doc := submitAlice(t, svc)

	res, err := svc.ApplyTransition(context.Background(), ApplyRequest{
		DocumentID: doc.ID, TransitionID: "submit", Delta: map[string]any{"colour": "red"}, Actor: author,
	})
	require.NoError(t, err)
	assert.False(t, res.Document.Values.Has("colour"))
}

func TestStorageFailureLeavesDocumentUntouched(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	st := &faultyStore{Store: mem, commitErr: errors.New("disk full")}
	st.commitFails.Store(1)
	svc := newService(t, st)
	doc := submitAlice(t, svc)

	_, err := svc.ApplyTransition(ctx, ApplyRequest{DocumentID: doc.ID, TransitionID: "submit", Actor: author})
	require.Error(t, err)
	assert.True(t, formflow.HasCode(err, formflow.ErrCodeStorage), "got %v", err)

	stored, err := mem.LoadDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "draft", stored.Phase)
	assert.Equal(t, int64(1), stored.Version)
	assert.Len(t, stored.History, 1)
	assert.Equal(t, int32(1), st.commits.Load())
}

func TestRejectedAttemptsNeverReachStorage(t *testing.T) {
	st := &faultyStore{Store: store.NewMemoryStore()}
	svc := newService(t, st)
	doc := submitAlice(t, svc)

	_, err := svc.ApplyTransition(context.Background(), ApplyRequest{DocumentID: doc.ID, TransitionID: "approve", Actor: manager})
	require.Error(t, err)
	assert.Zero(t, st.commits.Load())
}

func TestRacingTransitionsExactlyOneWins(t *testing.T) {
	gate := &sync.WaitGroup{}
	st := &faultyStore{Store: store.NewMemoryStore()}
	svc := newService(t, st)
	doc := submitAlice(t, svc)

	gate.Add(2)
	st.loadGate = gate

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ApplyTransition(context.Background(), ApplyRequest{
				DocumentID: doc.ID, TransitionID: "submit", Actor: author,
			})
		}(i)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case formflow.HasCode(err, formflow.ErrCodeConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, conflicts)
}

func TestApplyTransitionWithRetryRecoversFromConflict(t *testing.T) {
	st := &faultyStore{Store: store.NewMemoryStore(), commitErr: store.ErrVersionConflict}
	st.commitFails.Store(2)
	svc := newService(t, st, WithRetry(ExponentialBackoffStrategy{Base: time.Millisecond, Factor: 2, Max: 5 * time.Millisecond}, 3))
	doc := submitAlice(t, svc)

	res, err := svc.ApplyTransitionWithRetry(context.Background(), ApplyRequest{
		DocumentID: doc.ID, TransitionID: "submit", Actor: author,
	})
	require.NoError(t, err)
	assert.Equal(t, "review", res.Document.Phase)
	assert.Equal(t, int32(3), st.commits.Load())
}

func TestApplyTransitionWithRetryGivesUp(t *testing.T) {
	st := &faultyStore{Store: store.NewMemoryStore(), commitErr: store.ErrVersionConflict}
	st.commitFails.Store(10)
	svc := newService(t, st, WithRetry(NoDelayStrategy{}, 2))
	doc := submitAlice(t, svc)

	_, err := svc.ApplyTransitionWithRetry(context.Background(), ApplyRequest{
		DocumentID: doc.ID, TransitionID: "submit", Actor: author,
	})
	assert.True(t, formflow.HasCode(err, formflow.ErrCodeConflict))
	assert.Equal(t, int32(2), st.commits.Load())
}

func TestExpectedVersionMismatchIsConflict(t *testing.T) {
	st := &faultyStore{Store: store.NewMemoryStore()}
	svc := newService(t, st)
	doc := submitAlice(t, svc)

	_, err := svc.ApplyTransitionWithRetry(context.Background(), ApplyRequest{
		DocumentID: doc.ID, TransitionID: "submit", Actor: author, ExpectedVersion: 7,
	})
	assert.True(t, formflow.HasCode(err, formflow.ErrCodeConflict))
	assert.Zero(t, st.commits.Load())
}

func TestCancelledContextWritesNothing(t *testing.T) {
	st := &faultyStore{Store: store.NewMemoryStore()}
	svc := newService(t, st)
	doc := submitAlice(t, svc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.ApplyTransition(ctx, ApplyRequest{DocumentID: doc.ID, TransitionID: "submit", Actor: author})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, st.commits.Load())
}

func TestLifecycleHooks(t *testing.T) {
	var mu sync.Mutex
	var stages []LifecycleStage
	record := HookFunc(func(_ context.Context, evt LifecycleEvent) error {
		mu.Lock()
		defer mu.Unlock()
		stages = append(stages, evt.Stage)
		return nil
	})

	svc := newService(t, store.NewMemoryStore(), WithLifecycleHooks(record))
	doc := submitAlice(t, svc)
	ctx := context.Background()

	_, err := svc.ApplyTransition(ctx, ApplyRequest{DocumentID: doc.ID, TransitionID: "submit", Actor: author})
	require.NoError(t, err)
	_, err = svc.ApplyTransition(ctx, ApplyRequest{DocumentID: doc.ID, TransitionID: "approve", Actor: author})
	require.Error(t, err)

	assert.Equal(t, []LifecycleStage{StageAttempted, StageCommitted, StageAttempted, StageRejected}, stages)
}

func TestFailClosedHookAbortsBeforeCommit(t *testing.T) {
	veto := HookFunc(func(_ context.Context, evt LifecycleEvent) error {
		if evt.Stage == StageAttempted {
			return errors.New("audit sink down")
		}
		return nil
	})
	st := &faultyStore{Store: store.NewMemoryStore()}
	svc := newService(t, st, WithLifecycleHooks(veto), WithHookFailureMode(HookFailClosed))
	doc := submitAlice(t, svc)

	_, err := svc.ApplyTransition(context.Background(), ApplyRequest{DocumentID: doc.ID, TransitionID: "submit", Actor: author})
	assert.True(t, formflow.HasCode(err, formflow.ErrCodePreconditionFailed), "got %v", err)
	assert.Zero(t, st.commits.Load())

	open := newService(t, store.NewMemoryStore(), WithLifecycleHooks(veto))
	doc = submitAlice(t, open)
	_, err = open.ApplyTransition(context.Background(), ApplyRequest{DocumentID: doc.ID, TransitionID: "submit", Actor: author})
	assert.NoError(t, err)
}

func TestFailClosedRejectedHookKeepsTheCause(t *testing.T) {
	broken := HookFunc(func(_ context.Context, evt LifecycleEvent) error {
		if evt.Stage == StageRejected {
			return errors.New("audit sink down")
		}
		return nil
	})
	svc := newService(t, store.NewMemoryStore(), WithLifecycleHooks(broken), WithHookFailureMode(HookFailClosed))
	doc := submitAlice(t, svc)
	ctx := context.Background()

	_, err := svc.ApplyTransition(ctx, ApplyRequest{DocumentID: doc.ID, TransitionID: "approve", Actor: manager})
	assert.True(t, workflow.IsKind(err, workflow.IllegalOrigin), "got %v", err)

	_, err = svc.ApplyTransition(ctx, ApplyRequest{
		DocumentID:   doc.ID,
		TransitionID: "submit",
		Delta:        map[string]any{"age": "old"},
		Actor:        author,
	})
	assert.True(t, formflow.HasCode(err, formflow.ErrCodeValidationFailed), "got %v", err)
	assert.NotEmpty(t, field.ErrorsOf(err))
}

func TestAvailableTransitions(t *testing.T) {
	svc := newService(t, store.NewMemoryStore())
	doc := submitAlice(t, svc)
	ctx := context.Background()
	_, err := svc.ApplyTransition(ctx, ApplyRequest{DocumentID: doc.ID, TransitionID: "submit", Actor: author})
	require.NoError(t, err)

	opts, err := svc.Available(ctx, doc.ID, author)
	require.NoError(t, err)
	require.Len(t, opts, 2)
	for _, opt := range opts {
		assert.False(t, opt.Allowed, opt.Transition.ID)
	}

	opts, err = svc.Available(ctx, doc.ID, manager)
	require.NoError(t, err)
	for _, opt := range opts {
		assert.True(t, opt.Allowed, opt.Transition.ID)
	}

	_, err = svc.Available(ctx, "missing", manager)
	assert.True(t, formflow.HasCode(err, formflow.ErrCodeNotFound))
}

func TestDocumentsStayPinnedToTheirVersions(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, store.NewMemoryStore())
	doc := submitAlice(t, svc)

	next := personForm()
	next.Fields = append(next.Fields, schema.Field{Name: "email", Kind: field.KindText, Required: true})
	published, err := svc.PublishForm(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, 2, published.Version)

	res, err := svc.ApplyTransition(ctx, ApplyRequest{DocumentID: doc.ID, TransitionID: "submit", Actor: author})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Document.Form.Version)
}

func TestPublishAndHydrate(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	svc := newService(t, mem)
	doc := submitAlice(t, svc)

	fresh := New(schema.NewRegistry(), mem, WithLogger(logging.Nop{}))
	_, err := fresh.Get(ctx, doc.ID)
	require.NoError(t, err)
	_, err = fresh.ApplyTransition(ctx, ApplyRequest{DocumentID: doc.ID, TransitionID: "submit", Actor: author})
	assert.True(t, formflow.HasCode(err, formflow.ErrCodeNotFound), "got %v", err)

	require.NoError(t, fresh.Hydrate(ctx))
	require.Len(t, fresh.ListForms(), 1)
	require.Len(t, fresh.ListWorkflows(), 1)
	_, err = fresh.ApplyTransition(ctx, ApplyRequest{DocumentID: doc.ID, TransitionID: "submit", Actor: author})
	require.NoError(t, err)

	docs, err := fresh.List(ctx, store.Filter{FormID: "person", Phase: "review"})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestPublishFormStorageFailureLeavesRegistryUnchanged(t *testing.T) {
	st := &faultyStore{Store: store.NewMemoryStore()}
	svc := newService(t, st)
	st.saveFormErr = errors.New("read-only")

	next := personForm()
	_, err := svc.PublishForm(context.Background(), next)
	assert.True(t, formflow.HasCode(err, formflow.ErrCodeStorage), "got %v", err)
	latest, ok := svc.Registry().ResolveForm("person", 0)
	require.True(t, ok)
	assert.Equal(t, 1, latest.Version)
}

func TestPublishReportsSchemaIssues(t *testing.T) {
	svc := New(schema.NewRegistry(), store.NewMemoryStore(), WithLogger(logging.Nop{}))
	_, err := svc.PublishForm(context.Background(), personForm())
	require.Error(t, err)
	assert.True(t, formflow.HasCode(err, formflow.ErrCodeSchema))
	assert.True(t, formflow.SchemaIssuesOf(err).Has(formflow.IssueDanglingWorkflowReference))
}

type countingRecorder struct {
	mu        sync.Mutex
	successes map[string]int
	errors    map[string]int
}

func (c *countingRecorder) RecordDuration(string, time.Duration) {}
func (c *countingRecorder) RecordError(op, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors[op+":"+code]++
}
func (c *countingRecorder) RecordSuccess(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successes[op]++
}

func TestMetricsRecorderSeesOutcomes(t *testing.T) {
	rec := &countingRecorder{successes: map[string]int{}, errors: map[string]int{}}
	svc := newService(t, store.NewMemoryStore(), WithMetrics(rec))
	doc := submitAlice(t, svc)
	ctx := context.Background()

	_, err := svc.ApplyTransition(ctx, ApplyRequest{DocumentID: doc.ID, TransitionID: "approve", Actor: author})
	require.Error(t, err)
	_, err = svc.ApplyTransition(ctx, ApplyRequest{DocumentID: doc.ID, TransitionID: "submit", Actor: author})
	require.NoError(t, err)

	assert.Equal(t, 1, rec.successes[OpSubmit])
	assert.Equal(t, 1, rec.successes[OpApplyTransition])
	assert.Equal(t, 1, rec.errors[OpApplyTransition+":"+formflow.ErrCodeTransitionFailed])
	assert.Equal(t, 1, rec.successes[OpPublishForm])
}
