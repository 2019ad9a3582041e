package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/richinex/threadline/agent"
	"github.com/richinex/threadline/apierror"
	"github.com/richinex/threadline/compression"
	"github.com/richinex/threadline/llm/llmtest"
	"github.com/richinex/threadline/model"
	"github.com/richinex/threadline/storage"
	"github.com/richinex/threadline/tools"
)

func newTestSession(t *testing.T, p *llmtest.Provider, input string, opts ...agent.Option) (*Session, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	s := newSession(strings.NewReader(input), out, zap.NewNop())

	cfg := agent.DefaultConfig()
	cfg.Model = "primary"
	cfg.FallbackModel = "backup"

	base := []agent.Option{
		agent.WithCompression(compression.WithContextLimit(func(string) (int, error) { return 1_000_000, nil })),
		agent.WithStorage(storage.NewInMemoryStorage()),
		agent.WithFallbackHandler(s.confirmFallback),
	}
	engine := agent.New(cfg, p, append(base, opts...)...)

	registry, err := tools.WithDefaults(t.TempDir(), os.TempDir())
	require.NoError(t, err)
	s.attach(engine, registry)
	return s, out
}

func TestSendStreamsText(t *testing.T) {
	s, out := newTestSession(t, llmtest.New(llmtest.Text("Hello", " there")), "")

	require.NoError(t, s.Send(context.Background(), "hi"))
	assert.Contains(t, out.String(), "Hello there")
	assert.Len(t, s.Engine().GetHistory(), 2)
}

func TestSendExecutesTools(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	p := llmtest.New(
		llmtest.Calls("", model.FunctionCall{ID: "c1", Name: "list_dir", Args: map[string]any{"path": dir}}),
		llmtest.Text("Found it."),
	)
	s, out := newTestSession(t, p, "")
	registry, err := tools.WithDefaults(dir)
	require.NoError(t, err)
	s.attach(s.Engine(), registry)

	require.NoError(t, s.Send(context.Background(), "what is in the folder"))

	assert.Contains(t, out.String(), "[tool] list_dir(")
	assert.Contains(t, out.String(), "Found it.")

	history := s.Engine().GetHistory()
	require.Len(t, history, 4)
	responses := history[2].FunctionResponses()
	require.Len(t, responses, 1)
	assert.Equal(t, "c1", responses[0].ID)
	assert.Equal(t, "notes.txt", responses[0].Result["output"])
}

func TestSendUnknownToolReportsError(t *testing.T) {
	p := llmtest.New(
		llmtest.Calls("", model.FunctionCall{ID: "c1", Name: "launch_rockets"}),
		llmtest.Text("ok"),
	)
	s, _ := newTestSession(t, p, "")

	require.NoError(t, s.Send(context.Background(), "go"))

	responses := s.Engine().GetHistory()[2].FunctionResponses()
	require.Len(t, responses, 1)
	assert.Contains(t, responses[0].Result["error"], "not found")
}

func TestSendSurfacesError(t *testing.T) {
	s, out := newTestSession(t, llmtest.New(llmtest.Errorf("backend exploded")), "")

	err := s.Send(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, out.String(), "Error:")
	assert.Contains(t, out.String(), "backend exploded")
}

func TestConfirmFallbackPrompts(t *testing.T) {
	rateLimited := &apierror.Error{Backend: "fake", Status: 429, Message: "slow down"}
	p := llmtest.New(llmtest.Fail(rateLimited), llmtest.Text("from backup"))
	s, out := newTestSession(t, p, "y\n")

	require.NoError(t, s.Send(context.Background(), "hi"))

	assert.Contains(t, out.String(), "Switch to backup")
	assert.Contains(t, out.String(), "[switched model: primary -> backup]")
	assert.Equal(t, "backup", s.Engine().Model())
}

func TestFallbackAfterPartialReply(t *testing.T) {
	rateLimited := &apierror.Error{Backend: "fake", Status: 429, Message: "slow down"}
	p := llmtest.New(llmtest.FailAfter(rateLimited, "half an ans"), llmtest.Text("full answer"))
	s, out := newTestSession(t, p, "y\n")

	require.NoError(t, s.Send(context.Background(), "hi"))

	text := out.String()
	discarded := strings.Index(text, "[partial reply discarded]")
	require.NotEqual(t, -1, discarded)
	assert.Less(t, strings.Index(text, "half an ans"), discarded)
	assert.Greater(t, strings.LastIndex(text, "full answer"), discarded)
}

func TestConfirmFallbackDeclinedOnEOF(t *testing.T) {
	rateLimited := &apierror.Error{Backend: "fake", Status: 429, Message: "slow down"}
	s, _ := newTestSession(t, llmtest.New(llmtest.Fail(rateLimited)), "")

	err := s.Send(context.Background(), "hi")
	assert.ErrorIs(t, err, apierror.ErrRateLimited)
	assert.Equal(t, "primary", s.Engine().Model())
}

func TestCommands(t *testing.T) {
	s, out := newTestSession(t, llmtest.New(llmtest.Text("answer")), "")
	ctx := context.Background()
	require.NoError(t, s.Send(ctx, "question"))

	run := func(line string) {
		t.Helper()
		quit, err := s.HandleCommand(ctx, line)
		require.NoError(t, err, line)
		assert.False(t, quit, line)
	}

	run("/save first")
	run("/reset")
	assert.Empty(t, s.Engine().GetHistory())

	run("/resume first")
	assert.Len(t, s.Engine().GetHistory(), 2)

	out.Reset()
	run("/history")
	assert.Contains(t, out.String(), "question")
	assert.Contains(t, out.String(), "answer")

	out.Reset()
	run("/list")
	assert.Contains(t, out.String(), "first")

	run("/delete first")
	_, err := s.HandleCommand(ctx, "/resume first")
	assert.ErrorIs(t, err, agent.ErrCheckpointNotFound)

	_, err = s.HandleCommand(ctx, "/save")
	assert.Error(t, err)

	_, err = s.HandleCommand(ctx, "/teleport")
	assert.ErrorIs(t, err, ErrUnknownCommand)

	quit, err := s.HandleCommand(ctx, "/quit")
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestChatLoop(t *testing.T) {
	p := llmtest.New(llmtest.Text("one"), llmtest.Text("two"))
	s, out := newTestSession(t, p, "first\n/history\nsecond\nexit\nignored\n")

	require.NoError(t, s.Chat(context.Background()))

	assert.Len(t, p.StreamRequests(), 2)
	assert.Contains(t, out.String(), "--- History ---")
	assert.Len(t, s.Engine().GetHistory(), 4)
}

func TestListModelsAndTools(t *testing.T) {
	var out bytes.Buffer
	ListModels(&out)
	assert.Contains(t, out.String(), "gemini-2.5-pro")

	out.Reset()
	require.NoError(t, ListTools(&out, true))
	assert.Contains(t, out.String(), "read_file")
	assert.Contains(t, out.String(), "path*")
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", truncateString("abc", 5))
	assert.Equal(t, "日本...", truncateString("日本語です", 2))
}
