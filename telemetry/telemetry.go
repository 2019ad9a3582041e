// Package telemetry records one structured entry per backend call.
//
// Information Hiding:
// - Sink selection (structured log, prometheus collectors, custom funcs)
// - Metric names, label sets and histogram buckets
package telemetry

import (
	"context"

	"go.uber.org/zap"
)

// Operation names used in records.
const (
	OpGenerate       = "generate"
	OpGenerateStream = "generate_stream"
	OpCountTokens    = "count_tokens"
	OpEmbed          = "embed"
)

// TokenUsage is the token accounting of one call.
type TokenUsage struct {
	Prompt     int
	Completion int
	Total      int
	// Estimated is set when the counts come from the character heuristic
	// or from splitting a combined count.
	Estimated bool
}

// Record describes one completed backend call.
type Record struct {
	Model      string
	DurationMs int64
	BackendID  string
	Operation  string
	Usage      TokenUsage
	// ErrorMessage is empty on success.
	ErrorMessage string
}

// Failed reports whether the call ended in an error.
func (r Record) Failed() bool {
	return r.ErrorMessage != ""
}

// Recorder receives call records. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ctx context.Context, rec Record)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, rec Record)

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, rec Record) {
	f(ctx, rec)
}

// Multi fans a record out to several recorders in order.
type Multi []Recorder

// Record forwards rec to every non-nil recorder.
func (m Multi) Record(ctx context.Context, rec Record) {
	for _, r := range m {
		if r != nil {
			r.Record(ctx, rec)
		}
	}
}

// Nop discards records.
var Nop Recorder = RecorderFunc(func(context.Context, Record) {})

// LogRecorder writes records as structured log lines. Failed calls are
// logged at warn level.
type LogRecorder struct {
	logger *zap.Logger
}

// NewLogRecorder creates a recorder writing to logger.
func NewLogRecorder(logger *zap.Logger) *LogRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogRecorder{logger: logger.With(zap.String("component", "telemetry"))}
}

// Record logs rec.
func (l *LogRecorder) Record(_ context.Context, rec Record) {
	fields := []zap.Field{
		zap.String("backend", rec.BackendID),
		zap.String("model", rec.Model),
		zap.String("operation", rec.Operation),
		zap.Int64("duration_ms", rec.DurationMs),
		zap.Int("prompt_tokens", rec.Usage.Prompt),
		zap.Int("completion_tokens", rec.Usage.Completion),
		zap.Int("total_tokens", rec.Usage.Total),
		zap.Bool("estimated", rec.Usage.Estimated),
	}
	if rec.Failed() {
		l.logger.Warn("backend call failed", append(fields, zap.String("error", rec.ErrorMessage))...)
		return
	}
	l.logger.Info("backend call", fields...)
}
