package workflow

import (
	stderrors "errors"
	"fmt"
	"strings"

	formflow "github.com/goliatone/go-formflow"
)

// TransitionErrorKind classifies why the engine refused a transition.
type TransitionErrorKind string

const (
	UnknownTransition   TransitionErrorKind = "unknown_transition"
	IllegalOrigin       TransitionErrorKind = "illegal_origin"
	Unauthorized        TransitionErrorKind = "unauthorized"
	MissingRequiredData TransitionErrorKind = "missing_required_data"
)

// TransitionError is the engine's rejection reason.
type TransitionError struct {
	Kind       TransitionErrorKind `json:"kind"`
	Transition string              `json:"transition"`
	Phase      string              `json:"phase,omitempty"`
	From       string              `json:"from,omitempty"`
	Missing    []string            `json:"missing,omitempty"`
	Reason     string              `json:"reason,omitempty"`
}

func (e *TransitionError) Error() string {
	switch e.Kind {
	case UnknownTransition:
		return fmt.Sprintf("unknown transition %q", e.Transition)
	case IllegalOrigin:
		return fmt.Sprintf("transition %q starts at %q, document is in %q", e.Transition, e.From, e.Phase)
	case Unauthorized:
		if e.Reason != "" {
			return fmt.Sprintf("transition %q not authorized: %s", e.Transition, e.Reason)
		}
		return fmt.Sprintf("transition %q not authorized", e.Transition)
	case MissingRequiredData:
		return fmt.Sprintf("transition %q requires fields: %s", e.Transition, strings.Join(e.Missing, ", "))
	default:
		return fmt.Sprintf("transition %q rejected: %s", e.Transition, e.Kind)
	}
}

// Err wraps e into a formflow ErrTransitionFailed error.
func (e *TransitionError) Err() error {
	meta := map[string]any{
		"transition_id": e.Transition,
		"kind":          string(e.Kind),
	}
	if e.Phase != "" {
		meta["phase"] = e.Phase
	}
	if len(e.Missing) > 0 {
		meta["missing"] = append([]string(nil), e.Missing...)
	}
	return formflow.CloneError(formflow.ErrTransitionFailed, e.Error(), e, meta)
}

// AsTransitionError finds the engine rejection carried by err.
func AsTransitionError(err error) (*TransitionError, bool) {
	if err == nil {
		return nil, false
	}
	var te *TransitionError
	if stderrors.As(err, &te) {
		return te, true
	}
	if src, ok := formflow.SourceOf(err).(*TransitionError); ok {
		return src, true
	}
	return nil, false
}

// IsKind reports whether err is a transition rejection of the given kind.
func IsKind(err error, kind TransitionErrorKind) bool {
	te, ok := AsTransitionError(err)
	return ok && te.Kind == kind
}
