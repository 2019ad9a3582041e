package llm

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/richinex/threadline/model"
	"github.com/richinex/threadline/telemetry"
)

type captureRecorder struct {
	mu      sync.Mutex
	records []telemetry.Record
}

func (c *captureRecorder) Record(_ context.Context, rec telemetry.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
}

func (c *captureRecorder) all() []telemetry.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]telemetry.Record(nil), c.records...)
}

// streamStub replays fixed events and fails Generate on demand.
type streamStub struct {
	events  []Event
	genErr  error
	genResp Response
}

func (s *streamStub) Name() string  { return "stub" }
func (s *streamStub) Model() string { return "stub-model" }

func (s *streamStub) Generate(context.Context, GenerationRequest) (Response, error) {
	return s.genResp, s.genErr
}

func (s *streamStub) GenerateStream(ctx context.Context, _ GenerationRequest) (<-chan Event, error) {
	ch := make(chan Event, len(s.events))
	for _, ev := range s.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (s *streamStub) CountTokens(context.Context, []model.Message, string) (int, error) {
	return 0, errors.New("no counter")
}

func (s *streamStub) Embed(context.Context, []string) ([][]float32, error) {
	return nil, nil
}

func TestInstrument_StreamRecordsOnce(t *testing.T) {
	rec := &captureRecorder{}
	p := Instrument(&streamStub{events: []Event{
		{Type: EventTextDelta, Text: "hello"},
		{Type: EventUsage, Usage: &TokenUsage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12}},
		{Type: EventDone},
	}}, rec, zap.NewNop())

	events, err := p.GenerateStream(context.Background(), GenerationRequest{Model: "m1", NewMessage: model.UserMessage("hi")})
	require.NoError(t, err)
	for range events {
	}

	records := rec.all()
	require.Len(t, records, 1)
	assert.Equal(t, "m1", records[0].Model)
	assert.Equal(t, "stub", records[0].BackendID)
	assert.Equal(t, telemetry.OpGenerateStream, records[0].Operation)
	assert.Equal(t, 10, records[0].Usage.Prompt)
	assert.False(t, records[0].Usage.Estimated)
	assert.Empty(t, records[0].ErrorMessage)
}

func TestInstrument_StreamErrorEstimatesUsage(t *testing.T) {
	rec := &captureRecorder{}
	p := Instrument(&streamStub{events: []Event{
		{Type: EventTextDelta, Text: "par"},
		{Type: EventError, Err: errors.New("connection reset")},
	}}, rec, nil)

	events, err := p.GenerateStream(context.Background(), GenerationRequest{NewMessage: model.UserMessage("abcdefgh")})
	require.NoError(t, err)
	for range events {
	}

	records := rec.all()
	require.Len(t, records, 1)
	assert.Equal(t, "stub-model", records[0].Model)
	assert.Equal(t, "connection reset", records[0].ErrorMessage)
	assert.True(t, records[0].Usage.Estimated)
	assert.Greater(t, records[0].Usage.Prompt, 0)
}

func TestInstrument_GenerateFailureAndCount(t *testing.T) {
	rec := &captureRecorder{}
	p := Instrument(&streamStub{genErr: errors.New("boom")}, rec, nil)

	_, err := p.Generate(context.Background(), GenerationRequest{NewMessage: model.UserMessage("hello world")})
	require.Error(t, err)
	_, err = p.CountTokens(context.Background(), nil, "")
	require.Error(t, err)

	records := rec.all()
	require.Len(t, records, 2)
	assert.Equal(t, telemetry.OpGenerate, records[0].Operation)
	assert.Equal(t, "boom", records[0].ErrorMessage)
	assert.True(t, records[0].Usage.Estimated)
	assert.Equal(t, telemetry.OpCountTokens, records[1].Operation)
	assert.Equal(t, 0, records[1].Usage.Total)
}

func TestInstrument_SuccessWithoutUsageIsEstimated(t *testing.T) {
	rec := &captureRecorder{}
	p := Instrument(&streamStub{genResp: Response{Message: model.ModelMessage(model.TextPart("abcdefgh"))}}, rec, nil)

	_, err := p.Generate(context.Background(), GenerationRequest{NewMessage: model.UserMessage("abcd")})
	require.NoError(t, err)

	records := rec.all()
	require.Len(t, records, 1)
	assert.True(t, records[0].Usage.Estimated)
	assert.Equal(t, 2, records[0].Usage.Completion)
}
