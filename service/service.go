// Package service orchestrates document submission and workflow
// transitions over the schema registry, the validator, the workflow engine
// and a store.
//
// ApplyTransition runs load, merge, validate, attempt and commit in that
// order. Every failure before the commit leaves storage untouched, and the
// commit itself is a single conditional write keyed on the version read at
// load time. Losing that race yields formflow.ErrConflict; callers may retry
// from scratch or use ApplyTransitionWithRetry.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	formflow "github.com/goliatone/go-formflow"
	"github.com/goliatone/go-formflow/document"
	"github.com/goliatone/go-formflow/logging"
	"github.com/goliatone/go-formflow/schema"
	"github.com/goliatone/go-formflow/store"
	"github.com/goliatone/go-formflow/workflow"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/goliatone/go-formflow/service"

// Service is safe for concurrent use.
type Service struct {
	registry  *schema.Registry
	store     store.Store
	engine    *workflow.Engine
	validator document.Validator
	strict    document.Validator

	logger      logging.Logger
	hooks       []Hook
	hookMode    HookFailureMode
	metrics     MetricsRecorder
	tracer      trace.Tracer
	retry       RetryStrategy
	maxAttempts int
	now         func() time.Time
	newID       func() string
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithPredicates resolves guard predicates from reg.
func WithPredicates(reg *workflow.PredicateRegistry) Option {
	return func(s *Service) { s.engine = workflow.NewEngine(reg) }
}

// WithUnknownFieldPolicy sets how ApplyTransition treats undeclared keys in
// the delta. Submit always rejects them.
func WithUnknownFieldPolicy(policy document.UnknownFieldPolicy) Option {
	return func(s *Service) { s.validator = document.NewValidator(policy) }
}

// WithLifecycleHooks appends lifecycle hooks.
func WithLifecycleHooks(hooks ...Hook) Option {
	return func(s *Service) { s.hooks = append(s.hooks, hooks...) }
}

// WithHookFailureMode sets the lifecycle hook failure mode.
func WithHookFailureMode(mode HookFailureMode) Option {
	return func(s *Service) { s.hookMode = ParseHookFailureMode(string(mode)) }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(recorder MetricsRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithRetry configures ApplyTransitionWithRetry.
func WithRetry(strategy RetryStrategy, maxAttempts int) Option {
	return func(s *Service) {
		if strategy != nil {
			s.retry = strategy
		}
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
	}
}

// WithClock replaces time.Now for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator replaces the UUID generator used for document and
// execution ids.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// New builds a service over a registry and a store.
func New(registry *schema.Registry, st store.Store, opts ...Option) *Service {
	s := &Service{
		registry:    registry,
		store:       st,
		engine:      workflow.NewEngine(nil),
		validator:   document.NewValidator(document.RejectUnknown),
		strict:      document.NewValidator(document.RejectUnknown),
		hookMode:    HookFailOpen,
		metrics:     nopRecorder{},
		tracer:      otel.Tracer(tracerName),
		retry:       NoDelayStrategy{},
		maxAttempts: 3,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = logging.Normalize(s.logger)
	return s
}

// Registry returns the schema registry the service resolves against.
func (s *Service) Registry() *schema.Registry { return s.registry }

// SubmitRequest creates a document.
type SubmitRequest struct {
	FormID string
	// FormVersion 0 selects the latest published version.
	FormVersion int
	// DocumentID is generated when empty.
	DocumentID string
	Values     map[string]any
	Actor      workflow.Actor
}

// ApplyRequest asks for one transition on one document.
type ApplyRequest struct {
	DocumentID   string
	TransitionID string
	// Delta is merged over the current values; a nil entry clears a field.
	Delta map[string]any
	Actor workflow.Actor
	// ExpectedVersion, when positive, must equal the stored version.
	ExpectedVersion int64
}

// ApplyResult describes a committed transition.
type ApplyResult struct {
	Document    *document.Document
	Transition  workflow.Transition
	FromPhase   string
	ExecutionID string
}

// Submit validates values against the form, fills declared defaults and
// stores a new document at the workflow's initial phase.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (doc *document.Document, err error) {
	formID := strings.TrimSpace(req.FormID)
	ctx, done := s.observe(ctx, OpSubmit, attribute.String("form_id", formID))
	defer func() { done(err) }()

	fields := map[string]any{"form_id": formID}
	if formID == "" {
		return nil, formflow.CloneError(formflow.ErrPreconditionFailed, "form id is required", nil, nil)
	}
	docID := strings.TrimSpace(req.DocumentID)
	if docID == "" {
		docID = s.newID()
	} else if !formflow.ValidIdentifier(docID) {
		return nil, formflow.CloneError(formflow.ErrPreconditionFailed,
			fmt.Sprintf("invalid document id %q", docID), nil, fields)
	}
	fields["document_id"] = docID
	logger := logging.WithFields(s.logger.WithContext(ctx), fields)

	form, ok := s.registry.ResolveForm(formID, req.FormVersion)
	if !ok {
		return nil, notFound("form", formflow.Ref{ID: formID, Version: req.FormVersion}, fields)
	}
	wf, ok := s.registry.ResolveWorkflow(form.WorkflowID, form.WorkflowVersion)
	if !ok {
		return nil, notFound("workflow", form.WorkflowRef(), fields)
	}

	values, err := s.strict.Validate(form, document.WithDefaults(form, req.Values))
	if err != nil {
		logger.Debug("submit rejected: %v", err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	initial := wf.Initial().ID
	created, err := s.store.CreateDocument(context.WithoutCancel(ctx), &document.Document{
		ID:        docID,
		Form:      form.Ref(),
		Workflow:  wf.Ref(),
		Phase:     initial,
		Values:    values,
		History:   []document.HistoryRecord{{Phase: initial, Actor: req.Actor.ID, At: now}},
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		logger.Error("submit store failed: %v", err)
		return nil, storageError(err, "create document", fields)
	}
	logger.Info("document submitted form=%s phase=%s", form.Ref(), initial)
	return created, nil
}

// ApplyTransition moves a document along one workflow transition. Nothing
// is written unless the merged values validate, the engine accepts the
// transition and the stored version is still the one that was read.
func (s *Service) ApplyTransition(ctx context.Context, req ApplyRequest) (res *ApplyResult, err error) {
	docID := strings.TrimSpace(req.DocumentID)
	transitionID := strings.TrimSpace(req.TransitionID)
	ctx, done := s.observe(ctx, OpApplyTransition,
		attribute.String("document_id", docID),
		attribute.String("transition_id", transitionID),
	)
	defer func() { done(err) }()

	if docID == "" {
		return nil, formflow.CloneError(formflow.ErrPreconditionFailed, "document id is required", nil, nil)
	}
	if transitionID == "" {
		return nil, formflow.CloneError(formflow.ErrPreconditionFailed, "transition id is required", nil,
			map[string]any{"document_id": docID})
	}
	executionID := s.newID()
	fields := map[string]any{
		"document_id":   docID,
		"transition_id": transitionID,
		"execution_id":  executionID,
	}
	logger := logging.WithFields(s.logger.WithContext(ctx), fields)
	logger.Debug("apply transition requested")

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := s.store.LoadDocument(ctx, docID)
	if err != nil {
		logger.Error("apply transition load failed: %v", err)
		return nil, storageError(err, "load document", fields)
	}

	evt := LifecycleEvent{
		DocumentID:   doc.ID,
		Form:         doc.Form,
		Workflow:     doc.Workflow,
		TransitionID: transitionID,
		ExecutionID:  executionID,
		FromPhase:    doc.Phase,
		Version:      doc.Version,
		Actor:        req.Actor,
	}
	reject := func(cause error) error {
		logger.Info("transition rejected: %v", cause)
		rejected := evt
		rejected.Stage = StageRejected
		rejected.ErrorCode = formflow.ErrorCode(cause)
		rejected.ErrorMessage = cause.Error()
		rejected.OccurredAt = s.now().UTC()
		// the rejection is already final; a hook failure must not mask its cause
		if hookErr := notify(ctx, s.hooks, rejected, s.hookMode, logger); hookErr != nil {
			logger.Error("rejected hook failed: %v", hookErr)
		}
		return cause
	}

	if req.ExpectedVersion > 0 && doc.Version != req.ExpectedVersion {
		return nil, reject(formflow.CloneError(formflow.ErrConflict,
			fmt.Sprintf("expected version %d, got %d", req.ExpectedVersion, doc.Version), nil, fields))
	}

	form, wf, err := s.resolve(doc, fields)
	if err != nil {
		return nil, reject(err)
	}

	attempted := evt
	attempted.Stage = StageAttempted
	attempted.OccurredAt = s.now().UTC()
	if err := notify(ctx, s.hooks, attempted, s.hookMode, logger); err != nil {
		return nil, reject(err)
	}

	values, err := s.validator.Validate(form, document.Merge(doc.Values, req.Delta))
	if err != nil {
		return nil, reject(err)
	}
	to, err := s.engine.Attempt(wf, doc.Phase, transitionID, workflow.Context{Actor: req.Actor, Submitted: values})
	if err != nil {
		return nil, reject(err)
	}
	tr, _ := wf.Transition(transitionID)

	// Past this point the write is issued on a detached context and runs
	// to completion.
	if err := ctx.Err(); err != nil {
		return nil, reject(err)
	}
	next, err := s.store.Commit(context.WithoutCancel(ctx), doc.ID, doc.Version, store.Commit{
		Phase:  to.ID,
		Values: values,
		Record: document.HistoryRecord{
			TransitionID: transitionID,
			From:         doc.Phase,
			Phase:        to.ID,
			Actor:        req.Actor.ID,
			At:           s.now().UTC(),
		},
	})
	if err != nil {
		logger.Warn("transition commit failed: %v", err)
		return nil, reject(storageError(err, "commit transition", fields))
	}

	committed := evt
	committed.Stage = StageCommitted
	committed.ToPhase = to.ID
	committed.Version = next.Version
	committed.OccurredAt = s.now().UTC()
	if err := notify(ctx, s.hooks, committed, s.hookMode, logger); err != nil {
		// the commit is durable; a committed-stage hook cannot undo it
		logger.Error("committed hook failed after commit: %v", err)
	}
	logger.Info("transition applied from=%s to=%s version=%d", doc.Phase, to.ID, next.Version)

	return &ApplyResult{Document: next, Transition: tr, FromPhase: doc.Phase, ExecutionID: executionID}, nil
}

// ApplyTransitionWithRetry re-runs ApplyTransition from the load step when
// it fails with ErrConflict, up to the configured number of attempts. A
// request carrying ExpectedVersion is never retried.
func (s *Service) ApplyTransitionWithRetry(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		res, err := s.ApplyTransition(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if req.ExpectedVersion > 0 || !formflow.HasCode(err, formflow.ErrCodeConflict) {
			return nil, err
		}
		if attempt == s.maxAttempts-1 {
			break
		}
		s.logger.WithContext(ctx).Debug("retrying transition %s on %s after conflict (attempt %d)",
			req.TransitionID, req.DocumentID, attempt+1)
		if err := sleep(ctx, s.retry.SleepDuration(attempt, err)); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// Get returns a document.
func (s *Service) Get(ctx context.Context, id string) (doc *document.Document, err error) {
	id = strings.TrimSpace(id)
	ctx, done := s.observe(ctx, OpGet, attribute.String("document_id", id))
	defer func() { done(err) }()

	doc, err = s.store.LoadDocument(ctx, id)
	if err != nil {
		return nil, storageError(err, "load document", map[string]any{"document_id": id})
	}
	return doc, nil
}

// List returns documents matching filter.
func (s *Service) List(ctx context.Context, filter store.Filter) (docs []*document.Document, err error) {
	ctx, done := s.observe(ctx, OpList,
		attribute.String("form_id", filter.FormID),
		attribute.String("phase", filter.Phase),
	)
	defer func() { done(err) }()

	docs, err = s.store.ListDocuments(ctx, filter)
	if err != nil {
		return nil, storageError(err, "list documents", map[string]any{"form_id": filter.FormID})
	}
	return docs, nil
}

// Available lists the transitions leaving the document's current phase and
// whether actor could take each of them with the current values.
func (s *Service) Available(ctx context.Context, id string, actor workflow.Actor) (opts []workflow.Option, err error) {
	id = strings.TrimSpace(id)
	ctx, done := s.observe(ctx, OpAvailable, attribute.String("document_id", id))
	defer func() { done(err) }()

	fields := map[string]any{"document_id": id}
	doc, err := s.store.LoadDocument(ctx, id)
	if err != nil {
		return nil, storageError(err, "load document", fields)
	}
	_, wf, err := s.resolve(doc, fields)
	if err != nil {
		return nil, err
	}
	return s.engine.Available(wf, doc.Phase, workflow.Context{Actor: actor, Submitted: doc.Values}), nil
}

// resolve finds the exact form and workflow versions doc was created with.
func (s *Service) resolve(doc *document.Document, fields map[string]any) (*schema.Form, *workflow.Workflow, error) {
	form, ok := s.registry.ResolveForm(doc.Form.ID, doc.Form.Version)
	if !ok || doc.Form.Version <= 0 {
		return nil, nil, notFound("form", doc.Form, fields)
	}
	wf, ok := s.registry.ResolveWorkflow(doc.Workflow.ID, doc.Workflow.Version)
	if !ok || doc.Workflow.Version <= 0 {
		return nil, nil, notFound("workflow", doc.Workflow, fields)
	}
	return form, wf, nil
}

func notFound(what string, ref formflow.Ref, fields map[string]any) error {
	target := ref.ID
	if ref.Version > 0 {
		target = ref.String()
	}
	return formflow.CloneError(formflow.ErrNotFound, fmt.Sprintf("%s %s is not registered", what, target), nil, fields)
}

// storageError maps store errors to the package taxonomy. Errors that
// already carry a formflow code pass through.
func storageError(err error, action string, fields map[string]any) error {
	if err == nil {
		return nil
	}
	if formflow.ErrorCode(err) != "" {
		return err
	}
	switch {
	case errors.Is(err, store.ErrVersionConflict):
		return formflow.CloneError(formflow.ErrConflict, action+": document was modified concurrently", err, fields)
	case errors.Is(err, store.ErrDuplicate):
		return formflow.CloneError(formflow.ErrConflict, action+": document already exists", err, fields)
	case errors.Is(err, store.ErrNotFound):
		return formflow.CloneError(formflow.ErrNotFound, action+": not found", err, fields)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return formflow.CloneError(formflow.ErrStorage, action+" failed", err, fields)
}
