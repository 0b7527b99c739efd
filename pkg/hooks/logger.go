package hooks

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// LogLevel mirrors wfcontext.LogLevel; duplicated to keep pkg/hooks free
// of a dependency on pkg/wfcontext (the logger only emits, it never reads
// a Context back).
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogContext is WorkflowLogEntry.context.
type LogContext struct {
	WorkflowID    string
	StepID        string
	Phase         string
	ExecutionTime time.Duration
}

// LogEntry is WorkflowLogEntry.
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Message   string
	Context   LogContext
	Data      interface{}
	Err       error
}

// Metrics is WorkflowMetrics accumulator.
type Metrics struct {
	mu sync.Mutex

	RunsStarted     int64
	RunsCompleted   int64
	RunsFailed      int64
	StepsStarted    int64
	StepsCompleted  int64
	StepsFailed     int64
	StepsRetried    int64
	TotalDuration   time.Duration
	PeakMemoryBytes uint64
	Parallelized    bool
	ResourceUtilization map[string]float64
}

func newMetrics() *Metrics {
	return &Metrics{ResourceUtilization: make(map[string]float64)}
}

// Snapshot returns a copy safe for reporting.
func (m *Metrics) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	util := make(map[string]float64, len(m.ResourceUtilization))
	for k, v := range m.ResourceUtilization {
		util[k] = v
	}
	cp := *m
	cp.ResourceUtilization = util
	return cp
}

func (m *Metrics) recordMemorySample() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.mu.Lock()
	if ms.Alloc > m.PeakMemoryBytes {
		m.PeakMemoryBytes = ms.Alloc
	}
	m.mu.Unlock()
}

// promMetrics is the package-level Prometheus registration, grounded on
// internal/controller/filewatcher/metrics.go's promauto package-var style:
// one counter/histogram per concern, labeled by workflow/step/event.
var promMetrics = struct {
	runsTotal    *prometheus.CounterVec
	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	retries      *prometheus.CounterVec
}{
	runsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowengine_runs_total",
		Help: "Total workflow runs by terminal status.",
	}, []string{"status"}),
	stepsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowengine_steps_total",
		Help: "Total steps executed by type and outcome.",
	}, []string{"type", "outcome"}),
	stepDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flowengine_step_duration_seconds",
		Help:    "Step execution duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"}),
	retries: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowengine_step_retries_total",
		Help: "Total step retry attempts.",
	}, []string{"step_id"}),
}

// Logger is the structured logger names: it emits LogEntry
// values via slog, accumulates Metrics, and wraps workflow/step execution
// in OpenTelemetry spans, matching the teacher's internal/tracing span
// naming ("workflow.run" / "workflow.step").
type Logger struct {
	slog    *slog.Logger
	tracer  trace.Tracer
	Metrics *Metrics
}

// NewLogger builds a Logger. tracer may be nil, in which case span
// creation is skipped (useful for tests).
func NewLogger(base *slog.Logger, tracer trace.Tracer) *Logger {
	if base == nil {
		base = slog.Default()
	}
	return &Logger{slog: base, tracer: tracer, Metrics: newMetrics()}
}

func (l *Logger) emit(e LogEntry) {
	attrs := []any{
		slog.String("workflow_id", e.Context.WorkflowID),
	}
	if e.Context.StepID != "" {
		attrs = append(attrs, slog.String("step_id", e.Context.StepID))
	}
	if e.Context.Phase != "" {
		attrs = append(attrs, slog.String("phase", e.Context.Phase))
	}
	if e.Context.ExecutionTime > 0 {
		attrs = append(attrs, slog.Duration("execution_time", e.Context.ExecutionTime))
	}
	if e.Err != nil {
		attrs = append(attrs, slog.String("error", e.Err.Error()))
	}
	if e.Data != nil {
		attrs = append(attrs, slog.Any("data", e.Data))
	}

	switch e.Level {
	case LogDebug:
		l.slog.Debug(e.Message, attrs...)
	case LogWarn:
		l.slog.Warn(e.Message, attrs...)
	case LogError:
		l.slog.Error(e.Message, attrs...)
	default:
		l.slog.Info(e.Message, attrs...)
	}
}

// Log records a structured entry at the given level.
func (l *Logger) Log(level LogLevel, message string, lctx LogContext, data interface{}, err error) {
	l.emit(LogEntry{Timestamp: time.Now().UTC(), Level: level, Message: message, Context: lctx, Data: data, Err: err})
}

// StartWorkflowSpan opens a "workflow.run" span and records a run-started
// metric, matching the teacher's StartWorkflowRun helper.
func (l *Logger) StartWorkflowSpan(ctx context.Context, workflowID, name string) (context.Context, trace.Span) {
	l.Metrics.mu.Lock()
	l.Metrics.RunsStarted++
	l.Metrics.mu.Unlock()

	if l.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return l.tracer.Start(ctx, "workflow.run: "+name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("workflow.id", workflowID),
			attribute.String("workflow.name", name),
		),
	)
}

// EndWorkflowSpan closes a workflow span and records terminal metrics.
func (l *Logger) EndWorkflowSpan(span trace.Span, success bool, runErr error, duration time.Duration) {
	l.Metrics.mu.Lock()
	if success {
		l.Metrics.RunsCompleted++
	} else {
		l.Metrics.RunsFailed++
	}
	l.Metrics.TotalDuration += duration
	l.Metrics.mu.Unlock()
	l.Metrics.recordMemorySample()

	status := "success"
	if !success {
		status = "failed"
	}
	promMetrics.runsTotal.WithLabelValues(status).Inc()

	if span == nil {
		return
	}
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// StartStepSpan opens a "workflow.step" span, matching the teacher's
// StartStep helper.
func (l *Logger) StartStepSpan(ctx context.Context, stepID, stepType string) (context.Context, trace.Span) {
	l.Metrics.mu.Lock()
	l.Metrics.StepsStarted++
	l.Metrics.mu.Unlock()

	if l.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return l.tracer.Start(ctx, "workflow.step: "+stepID,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("step.id", stepID),
			attribute.String("step.type", stepType),
		),
	)
}

// EndStepSpan closes a step span and records step-level metrics.
func (l *Logger) EndStepSpan(span trace.Span, stepType string, success bool, retried bool, stepErr error, duration time.Duration) {
	l.Metrics.mu.Lock()
	if success {
		l.Metrics.StepsCompleted++
	} else {
		l.Metrics.StepsFailed++
	}
	if retried {
		l.Metrics.StepsRetried++
	}
	l.Metrics.mu.Unlock()

	outcome := "success"
	if !success {
		outcome = "failed"
	}
	promMetrics.stepsTotal.WithLabelValues(stepType, outcome).Inc()
	promMetrics.stepDuration.WithLabelValues(stepType).Observe(duration.Seconds())

	if span == nil {
		return
	}
	if stepErr != nil {
		span.RecordError(stepErr)
		span.SetStatus(codes.Error, stepErr.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// RecordRetry records a retry attempt for stepID, for both Metrics and
// Prometheus.
func (l *Logger) RecordRetry(stepID string) {
	l.Metrics.mu.Lock()
	l.Metrics.StepsRetried++
	l.Metrics.mu.Unlock()
	promMetrics.retries.WithLabelValues(stepID).Inc()
}

// RecordResourceUtilization folds a parallel run's resource utilization
// report into Metrics.
func (l *Logger) RecordResourceUtilization(util map[string]float64, parallelized bool) {
	l.Metrics.mu.Lock()
	defer l.Metrics.mu.Unlock()
	l.Metrics.Parallelized = l.Metrics.Parallelized || parallelized
	for k, v := range util {
		l.Metrics.ResourceUtilization[k] = v
	}
}

// HookHandler adapts Logger.Log into a hooks.Handler suitable for
// Dispatcher.Register, so the logger can subscribe to every lifecycle
// event uniformly.
func (l *Logger) HookHandler() Handler {
	return func(_ context.Context, p Payload) {
		level := LogInfo
		if p.Err != nil {
			level = LogError
		}
		l.Log(level, p.Event, LogContext{WorkflowID: p.WorkflowID, StepID: p.StepID}, p.Data, p.Err)
	}
}
