package config

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/goliatone/go-formflow/schema"
	"github.com/goliatone/go-formflow/workflow"
)

// Publisher publishes definitions; *service.Service implements it.
type Publisher interface {
	PublishWorkflow(ctx context.Context, def workflow.Definition) (*workflow.Workflow, error)
	PublishForm(ctx context.Context, form schema.Form) (*schema.Form, error)
	Registry() *schema.Registry
}

// Report lists what a Publish call did, as "id@vN" refs.
type Report struct {
	Published []string
	Skipped   []string
}

// Publish sends every definition of set that the registry does not hold yet
// to p: workflows first, then forms, then applications. An entry with an
// explicit version is skipped when that version is registered; an entry
// without one is skipped when its id is registered at all. Failures are
// collected and the remaining definitions are still published.
func Publish(ctx context.Context, p Publisher, set DefinitionSet) (Report, error) {
	var report Report
	var errs []error
	reg := p.Registry()

	workflows := append([]WorkflowSpec(nil), set.Workflows...)
	sort.SliceStable(workflows, func(i, j int) bool {
		if workflows[i].ID != workflows[j].ID {
			return workflows[i].ID < workflows[j].ID
		}
		return workflows[i].Version < workflows[j].Version
	})
	for _, spec := range workflows {
		if _, ok := reg.ResolveWorkflow(spec.ID, spec.Version); ok {
			report.Skipped = append(report.Skipped, ref(spec.ID, spec.Version))
			continue
		}
		wf, err := p.PublishWorkflow(ctx, spec.Definition())
		if err != nil {
			errs = append(errs, fmt.Errorf("workflow %s: %w", spec.ID, err))
			continue
		}
		report.Published = append(report.Published, wf.Ref().String())
	}

	forms := append([]FormSpec(nil), set.Forms...)
	sort.SliceStable(forms, func(i, j int) bool {
		if forms[i].ID != forms[j].ID {
			return forms[i].ID < forms[j].ID
		}
		return forms[i].Version < forms[j].Version
	})
	for _, spec := range forms {
		if _, ok := reg.ResolveForm(spec.ID, spec.Version); ok {
			report.Skipped = append(report.Skipped, ref(spec.ID, spec.Version))
			continue
		}
		form, err := spec.Form()
		if err != nil {
			errs = append(errs, fmt.Errorf("form %s: %w", spec.ID, err))
			continue
		}
		published, err := p.PublishForm(ctx, form)
		if err != nil {
			errs = append(errs, fmt.Errorf("form %s: %w", spec.ID, err))
			continue
		}
		report.Published = append(report.Published, published.Ref().String())
	}

	for _, spec := range set.Applications {
		if err := reg.RegisterApplication(spec.Application()); err != nil {
			errs = append(errs, fmt.Errorf("application %s: %w", spec.ID, err))
		}
	}
	return report, errors.Join(errs...)
}

func ref(id string, version int) string {
	if version <= 0 {
		return id
	}
	return fmt.Sprintf("%s@v%d", id, version)
}
