// Instrumented provider decorator.
//
// Information Hiding:
// - Timing and span lifecycle of each backend call
// - Usage estimation when a backend fails or reports nothing
// - Exactly-once record emission for streamed calls

package llm

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/richinex/threadline/model"
	"github.com/richinex/threadline/telemetry"
)

const instrumentationName = "github.com/richinex/threadline/llm"

// InstrumentedProvider wraps a Provider and emits one telemetry record
// and one span per call.
type InstrumentedProvider struct {
	inner    Provider
	recorder telemetry.Recorder
	tracer   trace.Tracer
	logger   *zap.Logger
	now      func() time.Time
}

// Instrument wraps p. A nil recorder discards records.
func Instrument(p Provider, recorder telemetry.Recorder, logger *zap.Logger) *InstrumentedProvider {
	if recorder == nil {
		recorder = telemetry.Nop
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstrumentedProvider{
		inner:    p,
		recorder: recorder,
		tracer:   otel.Tracer(instrumentationName),
		logger:   logger,
		now:      time.Now,
	}
}

// Unwrap returns the wrapped provider.
func (p *InstrumentedProvider) Unwrap() Provider {
	return p.inner
}

// Name returns the wrapped provider's name.
func (p *InstrumentedProvider) Name() string {
	return p.inner.Name()
}

// Model returns the wrapped provider's model.
func (p *InstrumentedProvider) Model() string {
	return p.inner.Model()
}

// Generate forwards to the wrapped provider and records the call.
func (p *InstrumentedProvider) Generate(ctx context.Context, req GenerationRequest) (Response, error) {
	modelID := modelFor(req, p.inner.Model())
	ctx, span := p.startSpan(ctx, telemetry.OpGenerate, modelID)
	start := p.now()

	resp, err := p.inner.Generate(ctx, req)

	usage := p.usageOrEstimate(ctx, resp.Usage, req, modelID, resp.Text(), err != nil)
	p.finish(ctx, span, telemetry.OpGenerate, modelID, start, usage, err)
	return resp, err
}

// GenerateStream forwards to the wrapped provider. The record is emitted
// once the stream terminates, whichever way it ends.
func (p *InstrumentedProvider) GenerateStream(ctx context.Context, req GenerationRequest) (<-chan Event, error) {
	modelID := modelFor(req, p.inner.Model())
	ctx, span := p.startSpan(ctx, telemetry.OpGenerateStream, modelID)
	start := p.now()

	inner, err := p.inner.GenerateStream(ctx, req)
	if err != nil {
		p.finish(ctx, span, telemetry.OpGenerateStream, modelID, start, p.usageOrEstimate(ctx, nil, req, modelID, "", true), err)
		return nil, err
	}

	out := make(chan Event, streamBuffer)
	go func() {
		defer close(out)

		var (
			usage   *TokenUsage
			text    strings.Builder
			failure error
			done    bool
		)
		var once sync.Once
		record := func() {
			once.Do(func() {
				if failure == nil && !done {
					failure = ctx.Err()
					if failure == nil {
						failure = context.Canceled
					}
				}
				u := p.usageOrEstimate(ctx, usage, req, modelID, text.String(), failure != nil)
				p.finish(ctx, span, telemetry.OpGenerateStream, modelID, start, u, failure)
			})
		}
		defer record()

		for ev := range inner {
			switch ev.Type {
			case EventTextDelta:
				text.WriteString(ev.Text)
			case EventUsage:
				usage = ev.Usage
			case EventError:
				failure = ev.Err
			case EventDone:
				done = true
			}
			// Record before the terminal event is delivered so consumers
			// that react to it observe the telemetry already in place.
			if ev.Type == EventDone || ev.Type == EventError {
				record()
			}
			if !sendEvent(ctx, out, ev) {
				// Drain so the adapter goroutine can exit.
				for range inner {
				}
				return
			}
		}
	}()

	return out, nil
}

// CountTokens forwards to the wrapped provider. Failures are recorded
// without usage; callers decide whether to estimate.
func (p *InstrumentedProvider) CountTokens(ctx context.Context, history []model.Message, modelID string) (int, error) {
	if modelID == "" {
		modelID = p.inner.Model()
	}
	ctx, span := p.startSpan(ctx, telemetry.OpCountTokens, modelID)
	start := p.now()

	n, err := p.inner.CountTokens(ctx, history, modelID)

	var usage *TokenUsage
	if err == nil {
		usage = &TokenUsage{PromptTokens: uint32(n), TotalTokens: uint32(n)}
	}
	p.finish(ctx, span, telemetry.OpCountTokens, modelID, start, usage, err)
	return n, err
}

// Embed forwards to the wrapped provider and records the call.
func (p *InstrumentedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	modelID := p.inner.Model()
	ctx, span := p.startSpan(ctx, telemetry.OpEmbed, modelID)
	start := p.now()

	vectors, err := p.inner.Embed(ctx, texts)

	estimate := uint32(EstimateTokens(strings.Join(texts, "\n")))
	usage := &TokenUsage{PromptTokens: estimate, TotalTokens: estimate, Estimated: true}
	p.finish(ctx, span, telemetry.OpEmbed, modelID, start, usage, err)
	return vectors, err
}

func (p *InstrumentedProvider) startSpan(ctx context.Context, op, modelID string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "llm."+op,
		trace.WithAttributes(
			attribute.String("llm.backend", p.inner.Name()),
			attribute.String("llm.model", modelID),
		))
}

func (p *InstrumentedProvider) finish(ctx context.Context, span trace.Span, op, modelID string, start time.Time, usage *TokenUsage, err error) {
	defer span.End()

	rec := telemetry.Record{
		Model:      modelID,
		DurationMs: p.now().Sub(start).Milliseconds(),
		BackendID:  p.inner.Name(),
		Operation:  op,
	}
	if usage != nil {
		rec.Usage = telemetry.TokenUsage{
			Prompt:     int(usage.PromptTokens),
			Completion: int(usage.CompletionTokens),
			Total:      int(usage.TotalTokens),
			Estimated:  usage.Estimated,
		}
	}

	span.SetAttributes(
		attribute.Int("llm.tokens.prompt", rec.Usage.Prompt),
		attribute.Int("llm.tokens.completion", rec.Usage.Completion),
	)
	if err != nil {
		rec.ErrorMessage = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, rec.ErrorMessage)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	p.recorder.Record(context.WithoutCancel(ctx), rec)
}

// usageOrEstimate returns reported usage, or an estimate when the backend
// failed or did not report any. The prompt side asks the backend for a
// count first and falls back to the character heuristic.
func (p *InstrumentedProvider) usageOrEstimate(ctx context.Context, reported *TokenUsage, req GenerationRequest, modelID, completionText string, failed bool) *TokenUsage {
	if reported != nil && !failed {
		return reported
	}
	prompt, _ := CountOrEstimate(ctx, p.inner, req.Contents(), modelID, p.logger)
	prompt += EstimateTokens(req.SystemInstruction)
	completion := EstimateTokens(completionText)
	return &TokenUsage{
		PromptTokens:     uint32(prompt),
		CompletionTokens: uint32(completion),
		TotalTokens:      uint32(prompt + completion),
		Estimated:        true,
	}
}

// Verify InstrumentedProvider implements Provider
var _ Provider = (*InstrumentedProvider)(nil)
