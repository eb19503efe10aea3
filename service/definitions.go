package service

import (
	"context"
	"errors"

	formflow "github.com/goliatone/go-formflow"
	"github.com/goliatone/go-formflow/schema"
	"github.com/goliatone/go-formflow/workflow"
	"go.opentelemetry.io/otel/attribute"
)

// PublishWorkflow validates def, stores it and registers it. The version
// only becomes resolvable once the store accepted it.
func (s *Service) PublishWorkflow(ctx context.Context, def workflow.Definition) (wf *workflow.Workflow, err error) {
	ctx, done := s.observe(ctx, OpPublishWorkflow, attribute.String("workflow_id", def.ID))
	defer func() { done(err) }()

	fields := map[string]any{"workflow_id": def.ID}
	wf, err = s.registry.PublishWorkflow(def, func(wf *workflow.Workflow) error {
		return storageError(s.store.SaveWorkflow(context.WithoutCancel(ctx), wf.Definition()), "save workflow", fields)
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithContext(ctx).Info("workflow published %s", wf.Ref())
	return wf, nil
}

// PublishForm validates form against its workflow, stores it and registers
// it.
func (s *Service) PublishForm(ctx context.Context, form schema.Form) (published *schema.Form, err error) {
	ctx, done := s.observe(ctx, OpPublishForm, attribute.String("form_id", form.ID))
	defer func() { done(err) }()

	fields := map[string]any{"form_id": form.ID}
	published, err = s.registry.PublishForm(form, func(f *schema.Form) error {
		return storageError(s.store.SaveForm(context.WithoutCancel(ctx), f.Clone()), "save form", fields)
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithContext(ctx).Info("form published %s workflow=%s", published.Ref(), published.WorkflowRef())
	return published, nil
}

// Hydrate restores every stored workflow and form version into the
// registry. Workflows go first so form bindings resolve. Issues with
// individual versions are collected and returned together after the rest
// have been restored.
func (s *Service) Hydrate(ctx context.Context) (err error) {
	ctx, done := s.observe(ctx, OpHydrate)
	defer func() { done(err) }()

	defs, err := s.store.ListWorkflows(ctx)
	if err != nil {
		return storageError(err, "list workflows", nil)
	}
	forms, err := s.store.ListForms(ctx)
	if err != nil {
		return storageError(err, "list forms", nil)
	}

	var errs []error
	for _, def := range defs {
		if _, err := s.registry.RestoreWorkflow(def); err != nil {
			errs = append(errs, err)
		}
	}
	for _, form := range forms {
		if _, err := s.registry.RestoreForm(form); err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.WithContext(ctx).Info("registry hydrated workflows=%d forms=%d failures=%d", len(defs), len(forms), len(errs))
	if len(errs) > 0 {
		return formflow.CloneError(formflow.ErrSchema, "some stored definitions could not be restored", errors.Join(errs...), nil)
	}
	return nil
}

// ListForms returns the latest version of every registered form.
func (s *Service) ListForms() []*schema.Form { return s.registry.ListForms() }

// ListWorkflows returns the latest version of every registered workflow.
func (s *Service) ListWorkflows() []*workflow.Workflow { return s.registry.ListWorkflows() }
