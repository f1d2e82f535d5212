package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/techblog/sasscfg/pkg/config"
	"github.com/techblog/sasscfg/pkg/policy"
)

// Outcome labels for load and reload metrics.
const (
	StatusOK      = "ok"
	StatusInvalid = "invalid"
	StatusError   = "error"
)

// Telemetry bundles logging, tracing, metrics and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	return newTelemetry(cfg, logger)
}

// NewTelemetryWithLogger creates a telemetry instance around an existing logger.
func NewTelemetryWithLogger(cfg *Config, logger *Logger) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newTelemetry(cfg, logger)
}

func newTelemetry(cfg *Config, logger *Logger) (*Telemetry, error) {
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context,
// or nil when there is none.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown delivers pending events and spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}

// StartMetricsServer serves metrics until ctx is cancelled.
func (t *Telemetry) StartMetricsServer(ctx context.Context) (string, error) {
	return t.Metrics.StartMetricsServer(t.Logger.WithContext(ctx))
}

// InstrumentedContext carries the span, logger and timer of one operation.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation begins an instrumented operation with logging, tracing, and timing.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)
	logger := tel.Logger.WithField("operation", operation)
	if span.SpanContext().IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": span.SpanContext().TraceID().String(),
			"span_id":  span.SpanContext().SpanID().String(),
		})
	}

	return &InstrumentedContext{
		Ctx:    logger.WithContext(spanCtx),
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End finishes the instrumented operation, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span == nil {
		return
	}
	if err != nil {
		RecordError(ic.Span, err)
	} else {
		RecordSuccess(ic.Span)
	}
	ic.Span.End()
}

// loadStatus maps a load error to its metric label.
func loadStatus(err error) string {
	var invalid *config.InvalidError
	switch {
	case err == nil:
		return StatusOK
	case errors.As(err, &invalid):
		return StatusInvalid
	default:
		return StatusError
	}
}

// TrackLoad runs load inside a config.load span and records its outcome.
// Without telemetry in ctx it only calls load.
func TrackLoad(ctx context.Context, path string, load func(context.Context) (*config.LoadedConfig, error)) (*config.LoadedConfig, error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return load(ctx)
	}

	format := "unknown"
	if f, err := config.FormatForPath(path); err == nil {
		format = string(f)
	}

	ctx, span := tel.Tracer.StartLoadSpan(ctx, path, format)
	defer span.End()
	timer := NewTimer()

	lc, err := load(ctx)
	status := loadStatus(err)
	tel.Metrics.RecordLoad(format, status, timer.Duration())

	if lc != nil {
		span.SetAttributes(AttrDigest.String(lc.Digest))
		for _, d := range lc.Diagnostics {
			tel.Metrics.RecordDiagnostic(d.Severity)
			AddDiagnosticEvent(span, d.Path, d.Severity, d.Message)
		}
	}

	logger := tel.Logger.WithSource(path)
	if err != nil {
		RecordError(span, err)
		logger.WithError(err).Debug("Settings load failed")
		_ = tel.Events.PublishConfigInvalid(path, err.Error())
		return lc, err
	}

	RecordSuccess(span)
	logger.WithDigest(lc.Digest).Debugf("Loaded settings in %s", timer.Duration())
	_ = tel.Events.PublishConfigLoaded(path, format, lc.Digest, len(lc.Explicit))
	return lc, nil
}

// TrackReload records a watcher reload.
func TrackReload(ctx context.Context, path string, lc *config.LoadedConfig, changes []config.Change, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	tel.Metrics.RecordWatchReload(loadStatus(err))
	if err != nil {
		_ = tel.Events.PublishConfigInvalid(path, err.Error())
		return
	}
	_ = tel.Events.PublishConfigReloaded(path, lc.Digest, changedKeys(changes))
}

// TrackLint runs lint inside a policy.evaluate span and records every
// violation.
func TrackLint(ctx context.Context, path string, lint func(context.Context) (*policy.PolicyResult, error)) (*policy.PolicyResult, error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return lint(ctx)
	}

	ctx, span := tel.Tracer.StartLintSpan(ctx, path)
	defer span.End()

	result, err := lint(ctx)
	if err != nil {
		RecordError(span, err)
		return nil, err
	}

	tel.Metrics.RecordPolicyEvaluation(result.Allowed, result.Duration)
	for _, v := range result.Violations {
		tel.Metrics.RecordPolicyViolation(v.Policy, string(v.Severity))
		_ = tel.Events.PublishPolicyViolation(path, v.Policy, v.Key, string(v.Severity), v.Message)
	}

	span.SetAttributes(
		AttrPolicyCount.Int(len(result.EvaluatedPolicies)),
		AttrViolationCount.Int(len(result.Violations)),
		AttrAllowed.Bool(result.Allowed),
	)
	RecordSuccess(span)
	return result, nil
}

// TrackDrift records a comparison against the latest snapshot.
func TrackDrift(ctx context.Context, path string, changes []config.Change) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	tel.Metrics.RecordDriftCheck(len(changes))
	if len(changes) > 0 {
		_ = tel.Events.PublishDriftDetected(path, changedKeys(changes))
	}
}

// TrackSnapshot runs a snapshot store operation inside a span.
func TrackSnapshot(ctx context.Context, operation, path string, fn func(context.Context) error) error {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return fn(ctx)
	}

	ctx, span := tel.Tracer.StartSnapshotSpan(ctx, operation, path)
	defer span.End()

	err := fn(ctx)
	status := StatusOK
	if err != nil {
		status = StatusError
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	tel.Metrics.RecordSnapshot(operation, status)
	return err
}

func changedKeys(changes []config.Change) []string {
	keys := make([]string, len(changes))
	for i, c := range changes {
		keys[i] = c.Key
	}
	return keys
}
