// Package workflow models Workflow definitions as flat phase and transition
// tables and decides whether a transition may fire.
package workflow

import (
	"slices"
	"sort"
	"strings"
)

// Phase is a state of a Workflow.
type Phase struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Terminal bool   `json:"terminal,omitempty"`
}

// Guard gates a Transition. Empty Roles lets any actor through; Predicate
// names a function in the PredicateRegistry; RequiredFields must all hold a
// value after validation.
type Guard struct {
	Roles          []string `json:"roles,omitempty"`
	Predicate      string   `json:"predicate,omitempty"`
	RequiredFields []string `json:"required_fields,omitempty"`
}

// IsZero reports whether the guard lets everything through.
func (g Guard) IsZero() bool {
	return len(g.Roles) == 0 && g.Predicate == "" && len(g.RequiredFields) == 0
}

// Equal compares guards ignoring the order of roles and required fields.
func (g Guard) Equal(o Guard) bool {
	return g.key() == o.key()
}

func (g Guard) key() string {
	roles := slices.Clone(g.Roles)
	sort.Strings(roles)
	roles = slices.Compact(roles)
	fields := slices.Clone(g.RequiredFields)
	sort.Strings(fields)
	fields = slices.Compact(fields)
	return strings.Join(roles, ",") + "|" + strings.TrimSpace(g.Predicate) + "|" + strings.Join(fields, ",")
}

func (g Guard) clone() Guard {
	return Guard{
		Roles:          slices.Clone(g.Roles),
		Predicate:      g.Predicate,
		RequiredFields: slices.Clone(g.RequiredFields),
	}
}

// Transition is a directed, guarded edge selected by its unique ID.
// From and To may be equal for an update-in-place transition.
type Transition struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	From  string `json:"from"`
	To    string `json:"to"`
	Guard Guard  `json:"guard"`
}

// Definition is the declarative form of a Workflow as produced by
// configuration. Version 0 asks the registry to assign the next version.
type Definition struct {
	ID          string       `json:"id"`
	Name        string       `json:"name,omitempty"`
	Version     int          `json:"version"`
	Initial     string       `json:"initial"`
	Phases      []Phase      `json:"phases"`
	Transitions []Transition `json:"transitions"`
}

// Clone returns a deep copy of d.
func (d Definition) Clone() Definition {
	out := d
	out.Phases = slices.Clone(d.Phases)
	out.Transitions = make([]Transition, len(d.Transitions))
	for i, tr := range d.Transitions {
		tr.Guard = tr.Guard.clone()
		out.Transitions[i] = tr
	}
	return out
}

// GuardFields returns every field name referenced by a transition guard.
func (d Definition) GuardFields() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, tr := range d.Transitions {
		for _, name := range tr.Guard.RequiredFields {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}
