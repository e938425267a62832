// Package service is the orchestration layer between transport adapters
// and the store. It validates request shapes, enforces session ownership
// through the guard, and attaches logging, tracing, and metrics to every
// operation. It issues no SQL of its own.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/planvault/internal/otel"
	"github.com/basket/planvault/internal/planstore"
	"github.com/basket/planvault/internal/session"
)

// Service exposes every plan and task operation. All methods return
// typed errors from the planstore package; adapters map those to their
// wire representations.
type Service struct {
	store   *planstore.Store
	guard   *session.Guard
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *otel.Metrics
}

// Options carries optional collaborators. Zero values are usable: a nil
// tracer becomes a noop tracer and nil metrics are skipped.
type Options struct {
	Logger  *slog.Logger
	Tracer  trace.Tracer
	Metrics *otel.Metrics
}

func New(store *planstore.Store, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer(otel.TracerName)
	}
	return &Service{
		store:   store,
		guard:   session.NewGuard(store, logger),
		logger:  logger,
		tracer:  tracer,
		metrics: opts.Metrics,
	}
}

// begin opens a span for op and returns a finish func that records the
// operation duration and classifies the error onto the counters.
func (s *Service) begin(ctx context.Context, op string) (context.Context, func(err error)) {
	ctx, span := otel.StartSpan(ctx, s.tracer, op, otel.AttrOperation.String(op))
	start := time.Now()
	return ctx, func(err error) {
		defer span.End()
		if s.metrics != nil {
			s.metrics.OperationDuration.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(otel.AttrOperation.String(op)))
			var mismatch *planstore.SessionMismatchError
			var conflict *planstore.ActivePlanConflictError
			switch {
			case errors.As(err, &mismatch):
				s.metrics.Denials.Add(ctx, 1, metric.WithAttributes(otel.AttrOperation.String(op)))
			case errors.As(err, &conflict):
				s.metrics.Conflicts.Add(ctx, 1, metric.WithAttributes(otel.AttrOperation.String(op)))
			}
		}
		if err != nil {
			span.RecordError(err)
		}
	}
}

func (s *Service) countTransition(ctx context.Context, entity, status string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Transitions.Add(ctx, 1, metric.WithAttributes(
		otel.AttrOperation.String(entity),
		otel.AttrStatus.String(status),
	))
}

func requireSession(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return &planstore.ValidationError{Field: "session_id", Reason: "must not be empty"}
	}
	return nil
}

func requirePlanID(id int64) error {
	if id <= 0 {
		return &planstore.ValidationError{Field: "plan_id", Reason: "must be a positive id"}
	}
	return nil
}

func requireTaskID(id int64) error {
	if id <= 0 {
		return &planstore.ValidationError{Field: "task_id", Reason: "must be a positive id"}
	}
	return nil
}

// actorOr defaults the recorded actor to the calling session.
func actorOr(actor, sessionID string) string {
	if strings.TrimSpace(actor) == "" {
		return sessionID
	}
	return actor
}
