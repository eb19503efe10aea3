package service

import (
	"context"
	"maps"
	"strings"
	"time"

	formflow "github.com/goliatone/go-formflow"
	"github.com/goliatone/go-formflow/logging"
	"github.com/goliatone/go-formflow/workflow"
)

// LifecycleStage identifies where in ApplyTransition an event is emitted.
type LifecycleStage string

const (
	StageAttempted LifecycleStage = "attempted"
	StageCommitted LifecycleStage = "committed"
	StageRejected  LifecycleStage = "rejected"
)

// HookFailureMode controls what a failing lifecycle hook does to the
// operation that emitted the event. Only the attempted stage can abort a
// transition; committed and rejected hook failures are logged.
type HookFailureMode string

const (
	HookFailOpen   HookFailureMode = "fail_open"
	HookFailClosed HookFailureMode = "fail_closed"
)

// ParseHookFailureMode reads a configured mode; unknown values fail open.
func ParseHookFailureMode(s string) HookFailureMode {
	switch HookFailureMode(strings.ToLower(strings.TrimSpace(s))) {
	case HookFailClosed:
		return HookFailClosed
	default:
		return HookFailOpen
	}
}

// LifecycleEvent is the audit record handed to hooks.
type LifecycleEvent struct {
	Stage        LifecycleStage
	DocumentID   string
	Form         formflow.Ref
	Workflow     formflow.Ref
	TransitionID string
	ExecutionID  string
	FromPhase    string
	ToPhase      string
	Version      int64
	Actor        workflow.Actor
	ErrorCode    string
	ErrorMessage string
	Metadata     map[string]any
	OccurredAt   time.Time
}

// Hook receives lifecycle events.
type Hook interface {
	Notify(ctx context.Context, evt LifecycleEvent) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, evt LifecycleEvent) error

func (f HookFunc) Notify(ctx context.Context, evt LifecycleEvent) error { return f(ctx, evt) }

// notify fans evt out to every hook. In fail-closed mode the first hook
// error aborts the fan-out and is returned as a precondition failure;
// otherwise failures are logged and skipped.
func notify(ctx context.Context, hooks []Hook, evt LifecycleEvent, mode HookFailureMode, logger logging.Logger) error {
	if len(hooks) == 0 {
		return nil
	}
	fields := map[string]any{
		"document_id":   evt.DocumentID,
		"transition_id": evt.TransitionID,
		"execution_id":  evt.ExecutionID,
		"stage":         string(evt.Stage),
	}
	logger = logging.WithFields(logging.Normalize(logger).WithContext(ctx), fields)

	for idx, hook := range hooks {
		if hook == nil {
			continue
		}
		cp := evt
		cp.Metadata = maps.Clone(evt.Metadata)
		if err := hook.Notify(ctx, cp); err != nil {
			if mode == HookFailClosed {
				return formflow.CloneError(formflow.ErrPreconditionFailed, "lifecycle hook failed", err, fields)
			}
			logger.Warn("lifecycle hook failed at index=%d: %v", idx, err)
		}
	}
	return nil
}
