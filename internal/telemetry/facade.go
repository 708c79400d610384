package telemetry

import (
	"context"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/itsbridge/internal/tracker"
)

const facadeScopeName = "github.com/steveyegge/itsbridge/tracker"

// InstrumentedFacade wraps tracker.Facade with OTel tracing and metrics.
// Every remote operation gets a span and is counted in itsbridge.tracker.*
// metrics. Use WrapFacade to create one; it returns the original facade
// unchanged when telemetry is disabled.
type InstrumentedFacade struct {
	inner  tracker.Facade
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapFacade returns f decorated with OTel instrumentation.
// When telemetry is disabled, f is returned as-is with zero overhead.
func WrapFacade(f tracker.Facade) tracker.Facade {
	if !Enabled() {
		return f
	}
	return newInstrumentedFacade(f, Tracer(facadeScopeName), Meter(facadeScopeName))
}

func newInstrumentedFacade(f tracker.Facade, tracer trace.Tracer, m metric.Meter) *InstrumentedFacade {
	ops, _ := m.Int64Counter("itsbridge.tracker.operations",
		metric.WithDescription("Total tracker operations executed"),
	)
	dur, _ := m.Float64Histogram("itsbridge.tracker.operation.duration",
		metric.WithDescription("Tracker operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("itsbridge.tracker.errors",
		metric.WithDescription("Total tracker operation errors"),
	)
	return &InstrumentedFacade{
		inner:  f,
		tracer: tracer,
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

// Unwrap returns the decorated facade.
func (s *InstrumentedFacade) Unwrap() tracker.Facade {
	return s.inner
}

// op starts a span and records a metric for the named tracker operation.
func (s *InstrumentedFacade) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, []attribute.KeyValue, time.Time) {
	all := append([]attribute.KeyValue{
		attribute.String("its.system", s.inner.Name()),
		attribute.String("its.operation", name),
	}, attrs...)
	ctx, span := s.tracer.Start(ctx, "tracker."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, all, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedFacade) done(ctx context.Context, span trace.Span, attrs []attribute.KeyValue, start time.Time, err error) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func (s *InstrumentedFacade) Name() string        { return s.inner.Name() }
func (s *InstrumentedFacade) DisplayName() string { return s.inner.DisplayName() }
func (s *InstrumentedFacade) Close() error        { return s.inner.Close() }

func (s *InstrumentedFacade) CreateLinkForWebui(url, text string) string {
	return s.inner.CreateLinkForWebui(url, text)
}

func (s *InstrumentedFacade) Init(ctx context.Context, cfg *tracker.Config) error {
	ctx, span, attrs, t := s.op(ctx, "Init")
	err := s.inner.Init(ctx, cfg)
	s.done(ctx, span, attrs, t, err)
	return err
}

func (s *InstrumentedFacade) HealthCheck(ctx context.Context, check tracker.Check) (string, error) {
	ctx, span, attrs, t := s.op(ctx, "HealthCheck", attribute.String("its.check", string(check)))
	v, err := s.inner.HealthCheck(ctx, check)
	s.done(ctx, span, attrs, t, err)
	return v, err
}

func (s *InstrumentedFacade) AddComment(ctx context.Context, issueID, comment string) error {
	ctx, span, attrs, t := s.op(ctx, "AddComment", attribute.String("its.issue.id", issueID))
	err := s.inner.AddComment(ctx, issueID, comment)
	s.done(ctx, span, attrs, t, err)
	return err
}

func (s *InstrumentedFacade) AddRelatedLink(ctx context.Context, issueID string, relatedURL *url.URL, description string) error {
	ctx, span, attrs, t := s.op(ctx, "AddRelatedLink", attribute.String("its.issue.id", issueID))
	err := s.inner.AddRelatedLink(ctx, issueID, relatedURL, description)
	s.done(ctx, span, attrs, t, err)
	return err
}

func (s *InstrumentedFacade) PerformAction(ctx context.Context, issueID, action string) error {
	ctx, span, attrs, t := s.op(ctx, "PerformAction",
		attribute.String("its.issue.id", issueID),
		attribute.String("its.action", action),
	)
	err := s.inner.PerformAction(ctx, issueID, action)
	s.done(ctx, span, attrs, t, err)
	return err
}

func (s *InstrumentedFacade) Exists(ctx context.Context, issueID string) (bool, error) {
	ctx, span, attrs, t := s.op(ctx, "Exists", attribute.String("its.issue.id", issueID))
	v, err := s.inner.Exists(ctx, issueID)
	span.SetAttributes(attribute.Bool("its.issue.exists", v))
	s.done(ctx, span, attrs, t, err)
	return v, err
}

var _ tracker.Facade = (*InstrumentedFacade)(nil)
