package service

import (
	"context"
	"time"

	formflow "github.com/goliatone/go-formflow"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Operation names reported to the metrics recorder and used as span names.
const (
	OpSubmit          = "submit"
	OpApplyTransition = "apply_transition"
	OpGet             = "get"
	OpList            = "list"
	OpAvailable       = "available"
	OpPublishForm     = "publish_form"
	OpPublishWorkflow = "publish_workflow"
	OpHydrate         = "hydrate"
)

// MetricsRecorder observes service operations. code is the error text code
// (formflow.ErrorCode) or "unknown" for foreign errors.
type MetricsRecorder interface {
	RecordDuration(operation string, duration time.Duration)
	RecordError(operation, code string)
	RecordSuccess(operation string)
}

type nopRecorder struct{}

func (nopRecorder) RecordDuration(string, time.Duration) {}
func (nopRecorder) RecordError(string, string)           {}
func (nopRecorder) RecordSuccess(string)                 {}

// observe opens a span for operation and returns the function that closes
// it and reports the outcome.
func (s *Service) observe(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "formflow."+operation, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		s.metrics.RecordDuration(operation, time.Since(start))
		if err != nil {
			code := formflow.ErrorCode(err)
			if code == "" {
				code = "unknown"
			}
			s.metrics.RecordError(operation, code)
			span.RecordError(err)
			span.SetStatus(codes.Error, code)
		} else {
			s.metrics.RecordSuccess(operation)
		}
		span.End()
	}
}
