package schema

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	formflow "github.com/goliatone/go-formflow"
	"github.com/goliatone/go-formflow/workflow"
)

// Registry is the append-only table of published forms and workflows.
// Readers load an immutable snapshot and never block; writers are
// serialized and publish a new snapshot.
type Registry struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

type snapshot struct {
	forms     map[string][]*Form
	workflows map[string][]*workflow.Workflow
	apps      map[string]Application
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.snap.Store(&snapshot{
		forms:     map[string][]*Form{},
		workflows: map[string][]*workflow.Workflow{},
		apps:      map[string]Application{},
	})
	return r
}

func (r *Registry) load() *snapshot { return r.snap.Load() }

// next copies the outer maps; version slices are copied on append only.
func (s *snapshot) next() *snapshot {
	out := &snapshot{
		forms:     make(map[string][]*Form, len(s.forms)+1),
		workflows: make(map[string][]*workflow.Workflow, len(s.workflows)+1),
		apps:      make(map[string]Application, len(s.apps)+1),
	}
	for k, v := range s.forms {
		out.forms[k] = v
	}
	for k, v := range s.workflows {
		out.workflows[k] = v
	}
	for k, v := range s.apps {
		out.apps[k] = v
	}
	return out
}

func (s *snapshot) workflow(id string, version int) (*workflow.Workflow, bool) {
	versions := s.workflows[id]
	if len(versions) == 0 {
		return nil, false
	}
	if version <= 0 {
		return versions[len(versions)-1], true
	}
	for _, wf := range versions {
		if wf.Version() == version {
			return wf, true
		}
	}
	return nil, false
}

func (s *snapshot) form(id string, version int) (*Form, bool) {
	versions := s.forms[id]
	if len(versions) == 0 {
		return nil, false
	}
	if version <= 0 {
		return versions[len(versions)-1], true
	}
	for _, f := range versions {
		if f.Version == version {
			return f, true
		}
	}
	return nil, false
}

func versionIssue(subject string, requested, latest int) formflow.SchemaIssue {
	return formflow.SchemaIssue{
		Code:    formflow.IssueVersionNotIncreasing,
		Subject: subject,
		Path:    "version",
		Message: fmt.Sprintf("version %d is not greater than latest published version %d", requested, latest),
	}
}

// RegisterWorkflow validates and publishes a workflow version. Version 0
// takes the next free version.
func (r *Registry) RegisterWorkflow(def workflow.Definition) (*workflow.Workflow, error) {
	return r.PublishWorkflow(def, nil)
}

// PublishWorkflow is RegisterWorkflow with a persist step. persist runs
// after validation and before the new version becomes visible; an error
// from it leaves the registry unchanged.
func (r *Registry) PublishWorkflow(def workflow.Definition, persist func(*workflow.Workflow) error) (*workflow.Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.load()
	latest := 0
	if wf, ok := cur.workflow(def.ID, 0); ok {
		latest = wf.Version()
	}
	subject := "workflow " + def.ID
	issues := def.Validate()
	switch {
	case def.Version == 0:
		def.Version = latest + 1
	case def.Version <= latest:
		issues = append(issues, versionIssue(subject, def.Version, latest))
	}
	if len(issues) > 0 {
		return nil, issues.Err(subject)
	}
	wf, err := workflow.Compile(def)
	if err != nil {
		return nil, err
	}
	if persist != nil {
		if err := persist(wf); err != nil {
			return nil, err
		}
	}

	next := cur.next()
	next.workflows[def.ID] = appendVersion(cur.workflows[def.ID], wf)
	r.snap.Store(next)
	return wf, nil
}

// RegisterForm validates and publishes a form version. Version 0 takes the
// next free version; WorkflowVersion 0 pins the latest workflow version.
func (r *Registry) RegisterForm(form Form) (*Form, error) {
	return r.PublishForm(form, nil)
}

// PublishForm is RegisterForm with a persist step, see PublishWorkflow.
func (r *Registry) PublishForm(form Form, persist func(*Form) error) (*Form, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.load()
	latest := 0
	if f, ok := cur.form(form.ID, 0); ok {
		latest = f.Version
	}
	subject := "form " + form.ID
	issues := form.check()
	switch {
	case form.Version == 0:
		form.Version = latest + 1
	case form.Version <= latest:
		issues = append(issues, versionIssue(subject, form.Version, latest))
	}
	issues = append(issues, cur.checkWorkflowBinding(&form)...)
	if len(issues) > 0 {
		return nil, issues.Err(subject)
	}
	frozen, err := form.freeze()
	if err != nil {
		return nil, formflow.SchemaIssues{{
			Code: formflow.IssueInvalidConstraint, Subject: subject, Message: err.Error(),
		}}.Err(subject)
	}
	if persist != nil {
		if err := persist(frozen); err != nil {
			return nil, err
		}
	}

	next := cur.next()
	next.forms[form.ID] = appendVersion(cur.forms[form.ID], frozen)
	r.snap.Store(next)
	return frozen, nil
}

// checkWorkflowBinding resolves and pins the workflow of form and checks that
// every guard field exists in the form.
func (s *snapshot) checkWorkflowBinding(form *Form) formflow.SchemaIssues {
	subject := "form " + form.ID
	var issues formflow.SchemaIssues
	wf, ok := s.workflow(form.WorkflowID, form.WorkflowVersion)
	if form.WorkflowID == "" || !ok {
		target := form.WorkflowID
		if form.WorkflowVersion > 0 {
			target = fmt.Sprintf("%s@v%d", form.WorkflowID, form.WorkflowVersion)
		}
		return append(issues, formflow.SchemaIssue{
			Code:    formflow.IssueDanglingWorkflowReference,
			Subject: subject,
			Path:    "workflow",
			Message: fmt.Sprintf("workflow %q is not registered", target),
		})
	}
	form.WorkflowVersion = wf.Version()

	for _, name := range wf.Definition().GuardFields() {
		if _, ok := form.Field(name); !ok {
			issues = append(issues, formflow.SchemaIssue{
				Code:    formflow.IssueUnknownGuardField,
				Subject: subject,
				Path:    "workflow",
				Message: fmt.Sprintf("workflow %s guards on field %q which the form does not declare", wf.Ref(), name),
			})
		}
	}
	return issues
}

// RestoreWorkflow re-inserts a previously published version, e.g. when
// hydrating from storage. Existing versions are left untouched.
func (r *Registry) RestoreWorkflow(def workflow.Definition) (*workflow.Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.load()
	subject := "workflow " + def.ID
	if def.Version <= 0 {
		return nil, formflow.SchemaIssues{versionIssue(subject, def.Version, 0)}.Err(subject)
	}
	if wf, ok := cur.workflow(def.ID, def.Version); ok {
		return wf, nil
	}
	wf, err := workflow.Compile(def)
	if err != nil {
		return nil, err
	}
	next := cur.next()
	next.workflows[def.ID] = insertVersion(cur.workflows[def.ID], wf)
	r.snap.Store(next)
	return wf, nil
}

// RestoreForm re-inserts a previously published form version. Its pinned
// workflow version must already be registered.
func (r *Registry) RestoreForm(form Form) (*Form, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.load()
	subject := "form " + form.ID
	if form.Version <= 0 {
		return nil, formflow.SchemaIssues{versionIssue(subject, form.Version, 0)}.Err(subject)
	}
	if f, ok := cur.form(form.ID, form.Version); ok {
		return f, nil
	}
	issues := form.check()
	if form.WorkflowVersion <= 0 {
		issues = append(issues, formflow.SchemaIssue{
			Code: formflow.IssueDanglingWorkflowReference, Subject: subject, Path: "workflow",
			Message: "restored forms must carry a pinned workflow version",
		})
	} else {
		issues = append(issues, cur.checkWorkflowBinding(&form)...)
	}
	if len(issues) > 0 {
		return nil, issues.Err(subject)
	}
	frozen, err := form.freeze()
	if err != nil {
		return nil, err
	}
	next := cur.next()
	next.forms[form.ID] = insertVersion(cur.forms[form.ID], frozen)
	r.snap.Store(next)
	return frozen, nil
}

// RegisterApplication publishes an application after checking that every
// form and workflow it lists is registered. Applications may be replaced.
func (r *Registry) RegisterApplication(app Application) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.load()
	subject := "application " + app.ID
	var issues formflow.SchemaIssues
	if !formflow.ValidIdentifier(app.ID) {
		issues = append(issues, formflow.SchemaIssue{
			Code: formflow.IssueInvalidIdentifier, Subject: subject, Path: "id",
			Message: fmt.Sprintf("application id %q is not a valid identifier", app.ID),
		})
	}
	for i, id := range app.Forms {
		if _, ok := cur.form(id, 0); !ok {
			issues = append(issues, formflow.SchemaIssue{
				Code: formflow.IssueDanglingApplicationReference, Subject: subject,
				Path: fmt.Sprintf("forms[%d]", i), Message: fmt.Sprintf("form %q is not registered", id),
			})
		}
	}
	for i, id := range app.Workflows {
		if _, ok := cur.workflow(id, 0); !ok {
			issues = append(issues, formflow.SchemaIssue{
				Code: formflow.IssueDanglingApplicationReference, Subject: subject,
				Path: fmt.Sprintf("workflows[%d]", i), Message: fmt.Sprintf("workflow %q is not registered", id),
			})
		}
	}
	if len(issues) > 0 {
		return issues.Err(subject)
	}
	next := cur.next()
	next.apps[app.ID] = app.clone()
	r.snap.Store(next)
	return nil
}

// ResolveForm returns the requested form version; 0 means latest.
// The returned form is shared and must be treated as read-only.
func (r *Registry) ResolveForm(id string, version int) (*Form, bool) {
	return r.load().form(id, version)
}

// ResolveWorkflow returns the requested workflow version; 0 means latest.
func (r *Registry) ResolveWorkflow(id string, version int) (*workflow.Workflow, bool) {
	return r.load().workflow(id, version)
}

// ListForms returns the latest version of every form, ordered by id.
func (r *Registry) ListForms() []*Form {
	s := r.load()
	out := make([]*Form, 0, len(s.forms))
	for _, versions := range s.forms {
		out = append(out, versions[len(versions)-1])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FormVersions lists every published version of a form, oldest first.
func (r *Registry) FormVersions(id string) []*Form {
	return append([]*Form(nil), r.load().forms[id]...)
}

// ListWorkflows returns the latest version of every workflow, ordered by id.
func (r *Registry) ListWorkflows() []*workflow.Workflow {
	s := r.load()
	out := make([]*workflow.Workflow, 0, len(s.workflows))
	for _, versions := range s.workflows {
		out = append(out, versions[len(versions)-1])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// WorkflowVersions lists every published version of a workflow, oldest first.
func (r *Registry) WorkflowVersions(id string) []*workflow.Workflow {
	return append([]*workflow.Workflow(nil), r.load().workflows[id]...)
}

// Application returns a registered application.
func (r *Registry) Application(id string) (Application, bool) {
	app, ok := r.load().apps[id]
	if !ok {
		return Application{}, false
	}
	return app.clone(), true
}

// Applications lists registered applications ordered by id.
func (r *Registry) Applications() []Application {
	s := r.load()
	out := make([]Application, 0, len(s.apps))
	for _, app := range s.apps {
		out = append(out, app.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type versioned interface {
	*Form | *workflow.Workflow
}

func versionOf[T versioned](v T) int {
	switch x := any(v).(type) {
	case *Form:
		return x.Version
	case *workflow.Workflow:
		return x.Version()
	}
	return 0
}

func appendVersion[T versioned](list []T, v T) []T {
	out := make([]T, 0, len(list)+1)
	out = append(out, list...)
	return append(out, v)
}

func insertVersion[T versioned](list []T, v T) []T {
	out := appendVersion(list, v)
	sort.SliceStable(out, func(i, j int) bool { return versionOf(out[i]) < versionOf(out[j]) })
	return out
}
