package workflow

import (
	"fmt"

	formflow "github.com/goliatone/go-formflow"
)

// Validate reports every structural problem of d. Problems are collected,
// not short-circuited.
func (d Definition) Validate() formflow.SchemaIssues {
	subject := "workflow " + d.ID
	var issues formflow.SchemaIssues
	add := func(code formflow.SchemaIssueCode, path, format string, args ...any) {
		issues = append(issues, formflow.SchemaIssue{
			Code:    code,
			Subject: subject,
			Path:    path,
			Message: fmt.Sprintf(format, args...),
		})
	}

	if !formflow.ValidIdentifier(d.ID) {
		add(formflow.IssueInvalidIdentifier, "id", "workflow id %q is not a valid identifier", d.ID)
	}
	if d.Version < 0 {
		add(formflow.IssueVersionNotIncreasing, "version", "version %d is negative", d.Version)
	}

	phases := make(map[string]Phase, len(d.Phases))
	terminals := 0
	for i, ph := range d.Phases {
		path := fmt.Sprintf("phases[%d]", i)
		if !formflow.ValidIdentifier(ph.ID) {
			add(formflow.IssueInvalidIdentifier, path, "phase id %q is not a valid identifier", ph.ID)
		}
		if _, dup := phases[ph.ID]; dup {
			add(formflow.IssueDuplicatePhase, path, "phase %q is declared more than once", ph.ID)
			continue
		}
		phases[ph.ID] = ph
		if ph.Terminal {
			terminals++
		}
	}
	if terminals == 0 {
		add(formflow.IssueMissingTerminalPhase, "phases", "workflow declares no terminal phase")
	}

	switch _, known := phases[d.Initial]; {
	case d.Initial == "":
		add(formflow.IssueMissingInitialPhase, "initial", "workflow declares no initial phase")
	case !known:
		add(formflow.IssueUnknownPhase, "initial", "initial phase %q is not declared", d.Initial)
	}

	ids := make(map[string]struct{}, len(d.Transitions))
	edges := make(map[string]string, len(d.Transitions))
	for i, tr := range d.Transitions {
		path := fmt.Sprintf("transitions[%d]", i)
		if !formflow.ValidIdentifier(tr.ID) {
			add(formflow.IssueInvalidIdentifier, path, "transition id %q is not a valid identifier", tr.ID)
		}
		if _, dup := ids[tr.ID]; dup {
			add(formflow.IssueDuplicateTransition, path, "transition %q is declared more than once", tr.ID)
		}
		ids[tr.ID] = struct{}{}

		from, fromKnown := phases[tr.From]
		if !fromKnown {
			add(formflow.IssueUnknownPhase, path+".from", "transition %q starts at undeclared phase %q", tr.ID, tr.From)
		}
		if _, toKnown := phases[tr.To]; !toKnown {
			add(formflow.IssueUnknownPhase, path+".to", "transition %q ends at undeclared phase %q", tr.ID, tr.To)
		}
		if fromKnown && from.Terminal {
			add(formflow.IssueInvalidTerminalTransition, path, "transition %q leaves terminal phase %q", tr.ID, tr.From)
		}

		edge := tr.From + "->" + tr.To + "#" + tr.Guard.key()
		if other, dup := edges[edge]; dup {
			add(formflow.IssueDuplicateEdge, path,
				"transition %q duplicates %q: same phases %s -> %s and identical guard", tr.ID, other, tr.From, tr.To)
		} else {
			edges[edge] = tr.ID
		}
	}

	if _, ok := phases[d.Initial]; ok {
		reached := reachable(d.Initial, d.Transitions, phases)
		for i, ph := range d.Phases {
			if _, ok := reached[ph.ID]; !ok {
				add(formflow.IssueUnreachablePhase, fmt.Sprintf("phases[%d]", i),
					"phase %q cannot be reached from initial phase %q", ph.ID, d.Initial)
			}
		}
	}
	return issues
}

// reachable walks transitions breadth first from start. Edges out of
// terminal phases are not followed.
func reachable(start string, transitions []Transition, phases map[string]Phase) map[string]struct{} {
	out := make(map[string][]string)
	for _, tr := range transitions {
		out[tr.From] = append(out[tr.From], tr.To)
	}
	seen := map[string]struct{}{start: {}}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if phases[cur].Terminal {
			continue
		}
		for _, next := range out[cur] {
			if _, ok := phases[next]; !ok {
				continue
			}
			if _, ok := seen[next]; ok {
				continue
			}
			seen[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	return seen
}
