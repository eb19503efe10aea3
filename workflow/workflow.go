package workflow

import (
	formflow "github.com/goliatone/go-formflow"
)

// Workflow is a validated, immutable Definition indexed for lookups.
// Values are shared by every document that references this version.
type Workflow struct {
	def      Definition
	phases   map[string]Phase
	byID     map[string]Transition
	byOrigin map[string][]Transition
}

// Compile validates def and builds its lookup tables.
func Compile(def Definition) (*Workflow, error) {
	if issues := def.Validate(); len(issues) > 0 {
		return nil, issues.Err("workflow " + def.ID)
	}
	def = def.Clone()
	wf := &Workflow{
		def:      def,
		phases:   make(map[string]Phase, len(def.Phases)),
		byID:     make(map[string]Transition, len(def.Transitions)),
		byOrigin: make(map[string][]Transition),
	}
	for _, ph := range def.Phases {
		wf.phases[ph.ID] = ph
	}
	for _, tr := range def.Transitions {
		wf.byID[tr.ID] = tr
		wf.byOrigin[tr.From] = append(wf.byOrigin[tr.From], tr)
	}
	return wf, nil
}

// MustCompile is Compile for definitions known to be valid.
func MustCompile(def Definition) *Workflow {
	wf, err := Compile(def)
	if err != nil {
		panic(err)
	}
	return wf
}

func (w *Workflow) ID() string     { return w.def.ID }
func (w *Workflow) Name() string   { return w.def.Name }
func (w *Workflow) Version() int   { return w.def.Version }
func (w *Workflow) Initial() Phase { return w.phases[w.def.Initial] }

// Definition returns a copy of the source definition.
func (w *Workflow) Definition() Definition { return w.def.Clone() }

// Phase looks up a phase by id.
func (w *Workflow) Phase(id string) (Phase, bool) {
	ph, ok := w.phases[id]
	return ph, ok
}

// Phases lists phases in declaration order.
func (w *Workflow) Phases() []Phase {
	return append([]Phase(nil), w.def.Phases...)
}

// Transition looks up a transition by id.
func (w *Workflow) Transition(id string) (Transition, bool) {
	tr, ok := w.byID[id]
	if !ok {
		return Transition{}, false
	}
	tr.Guard = tr.Guard.clone()
	return tr, true
}

// Outgoing lists the transitions that start at phase, in declaration order.
func (w *Workflow) Outgoing(phase string) []Transition {
	list := w.byOrigin[phase]
	out := make([]Transition, len(list))
	for i, tr := range list {
		tr.Guard = tr.Guard.clone()
		out[i] = tr
	}
	return out
}

// IsTerminal reports whether phase is declared terminal.
func (w *Workflow) IsTerminal(phase string) bool {
	return w.phases[phase].Terminal
}

// Reachable returns the phases reachable from the initial phase.
func (w *Workflow) Reachable() map[string]struct{} {
	return reachable(w.def.Initial, w.def.Transitions, w.phases)
}

// Ref identifies this workflow version.
func (w *Workflow) Ref() formflow.Ref {
	return formflow.Ref{ID: w.def.ID, Version: w.def.Version}
}
