package workflow

import (
	"fmt"
	"slices"

	"github.com/goliatone/go-formflow/field"
)

// Actor is the caller identity supplied by the orchestration layer.
type Actor struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles,omitempty"`
}

// HasAnyRole reports whether the actor holds at least one of roles.
func (a Actor) HasAnyRole(roles []string) bool {
	for _, r := range roles {
		if slices.Contains(a.Roles, r) {
			return true
		}
	}
	return false
}

// Context is what a transition attempt is evaluated against. Submitted is
// the validated, merged value map, never the raw payload.
type Context struct {
	Actor     Actor
	Submitted field.ValueMap
}

// Engine decides transitions. It holds no document state and never
// mutates anything, so one Engine may serve any number of goroutines.
type Engine struct {
	predicates *PredicateRegistry
}

// NewEngine builds an engine resolving guard predicates from predicates.
// A nil registry makes every predicate-guarded transition fail.
func NewEngine(predicates *PredicateRegistry) *Engine {
	return &Engine{predicates: predicates}
}

// Attempt evaluates transitionID from current and returns the target phase.
// Failures are *TransitionError values wrapped by TransitionError.Err.
func (e *Engine) Attempt(wf *Workflow, current, transitionID string, tc Context) (Phase, error) {
	tr, err := e.check(wf, current, transitionID, tc)
	if err != nil {
		return Phase{}, err.Err()
	}
	to, _ := wf.Phase(tr.To)
	return to, nil
}

func (e *Engine) check(wf *Workflow, current, transitionID string, tc Context) (Transition, *TransitionError) {
	tr, ok := wf.Transition(transitionID)
	if !ok {
		return Transition{}, &TransitionError{Kind: UnknownTransition, Transition: transitionID, Phase: current}
	}
	if tr.From != current {
		return tr, &TransitionError{Kind: IllegalOrigin, Transition: tr.ID, Phase: current, From: tr.From}
	}
	if rejection := e.authorize(tr, tc); rejection != nil {
		return tr, rejection
	}
	var missing []string
	for _, name := range tr.Guard.RequiredFields {
		if !tc.Submitted.Has(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return tr, &TransitionError{Kind: MissingRequiredData, Transition: tr.ID, Phase: current, Missing: missing}
	}
	return tr, nil
}

func (e *Engine) authorize(tr Transition, tc Context) *TransitionError {
	unauthorized := func(reason string) *TransitionError {
		return &TransitionError{Kind: Unauthorized, Transition: tr.ID, Phase: tr.From, Reason: reason}
	}
	if len(tr.Guard.Roles) > 0 && !tc.Actor.HasAnyRole(tr.Guard.Roles) {
		return unauthorized(fmt.Sprintf("actor %q holds none of the roles %v", tc.Actor.ID, tr.Guard.Roles))
	}
	if tr.Guard.Predicate == "" {
		return nil
	}
	var pred Predicate
	var found bool
	if e != nil {
		pred, found = e.predicates.Lookup(tr.Guard.Predicate)
	}
	if !found {
		return unauthorized(fmt.Sprintf("predicate %q is not registered", tr.Guard.Predicate))
	}
	if !pred(tc.Actor, tc.Submitted.Clone()) {
		return unauthorized(fmt.Sprintf("predicate %q rejected actor %q", tr.Guard.Predicate, tc.Actor.ID))
	}
	return nil
}

// Option is one transition leaving a phase together with whether it would
// pass its guard right now.
type Option struct {
	Transition Transition       `json:"transition"`
	Allowed    bool             `json:"allowed"`
	Rejection  *TransitionError `json:"rejection,omitempty"`
}

// Available lists every transition out of phase and evaluates its guard.
func (e *Engine) Available(wf *Workflow, phase string, tc Context) []Option {
	outgoing := wf.Outgoing(phase)
	out := make([]Option, 0, len(outgoing))
	for _, tr := range outgoing {
		_, rejection := e.check(wf, phase, tr.ID, tc)
		out = append(out, Option{Transition: tr, Allowed: rejection == nil, Rejection: rejection})
	}
	return out
}
