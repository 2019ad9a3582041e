// Interactive session driver.
//
// Information Hiding:
// - Event rendering to plain text hidden
// - Tool execution wired from engine events to the scheduler
// - Slash command dispatch hidden

package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"go.uber.org/zap"

	"github.com/richinex/threadline/agent"
	"github.com/richinex/threadline/model"
	"github.com/richinex/threadline/tools"
)

// ErrUnknownCommand is returned for slash commands the REPL does not know.
var ErrUnknownCommand = errors.New("unknown command")

// Session drives one engine from a line-oriented terminal.
type Session struct {
	engine    *agent.Engine
	scheduler *tools.Scheduler
	in        *bufio.Scanner
	out       io.Writer
	logger    *zap.Logger
	maxTurns  int
	closers   []func() error
}

func newSession(in io.Reader, out io.Writer, logger *zap.Logger) *Session {
	return &Session{
		in:     bufio.NewScanner(in),
		out:    out,
		logger: logger,
	}
}

// attach binds the engine and routes its tool calls through registry.
func (s *Session) attach(engine *agent.Engine, registry *tools.Registry, opts ...tools.SchedulerOption) {
	s.engine = engine
	opts = append([]tools.SchedulerOption{tools.WithSchedulerLogger(s.logger)}, opts...)
	s.scheduler = tools.NewScheduler(registry, engine, opts...)
}

// Engine returns the underlying engine.
func (s *Session) Engine() *agent.Engine {
	return s.engine
}

// Close releases storage and servers opened for the session.
func (s *Session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Send runs one user message to completion, printing events as they
// arrive and executing requested tools. The returned error is the
// surfaced turn failure, if any.
func (s *Session) Send(ctx context.Context, text string) error {
	events, err := s.engine.SendMessage(ctx, []model.Part{model.TextPart(text)}, s.maxTurns)
	if err != nil {
		return err
	}

	batch := s.scheduler.Begin(ctx)
	var turnErr error
	for ev := range events {
		switch ev.Type {
		case agent.EventContent:
			fmt.Fprint(s.out, ev.Text)
		case agent.EventToolCallRequest:
			fmt.Fprintf(s.out, "\n[tool] %s(%s)\n", ev.ToolCall.Name, formatArgs(ev.ToolCall.Args))
			batch.Schedule(*ev.ToolCall)
		case agent.EventChatCompressed:
			fmt.Fprintf(s.out, "[context compressed: %d -> %d tokens]\n",
				ev.Compression.OriginalTokenCount, ev.Compression.NewTokenCount)
		case agent.EventModelFallback:
			if ev.Fallback.Discarded != "" {
				fmt.Fprint(s.out, "\n[partial reply discarded]")
			}
			fmt.Fprintf(s.out, "\n[switched model: %s -> %s]\n", ev.Fallback.From, ev.Fallback.To)
		case agent.EventMaxSessionTurns:
			fmt.Fprintf(s.out, "\n%s\n", ev.Message)
		case agent.EventError:
			fmt.Fprintf(s.out, "\nError: %s\n", ev.Message)
			turnErr = ev.Err
		}
	}
	fmt.Fprintln(s.out)

	if err := batch.Wait(); err != nil && ctx.Err() == nil {
		s.logger.Warn("tool batch failed", zap.Error(err))
	}
	if s.engine.State() == agent.StateMaxTurnsReached {
		fmt.Fprintln(s.out, "[turn limit reached; send another message to continue]")
	}
	return turnErr
}

// Chat reads lines until EOF or "exit". Ctrl-C cancels the running
// message without leaving the session.
func (s *Session) Chat(ctx context.Context) error {
	fmt.Fprintf(s.out, "Chatting with %s. Type /help for commands, 'exit' to quit.\n\n", s.engine.Model())

	for {
		fmt.Fprint(s.out, "> ")
		if !s.in.Scan() {
			break
		}

		input := strings.TrimSpace(s.in.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		if strings.HasPrefix(input, "/") {
			quit, err := s.HandleCommand(ctx, input)
			if err != nil {
				fmt.Fprintf(s.out, "Error: %v\n", err)
			}
			if quit {
				break
			}
			continue
		}

		msgCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		err := s.Send(msgCtx, input)
		stop()
		if err != nil {
			s.logger.Debug("turn failed", zap.Error(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return s.in.Err()
}

// HandleCommand executes a slash command and reports whether the REPL
// should exit.
func (s *Session) HandleCommand(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]

	arg := func() (string, error) {
		if len(args) != 1 {
			return "", fmt.Errorf("usage: %s <tag>", name)
		}
		return args[0], nil
	}

	switch name {
	case "/help":
		fmt.Fprint(s.out, helpText)
	case "/quit", "/exit":
		return true, nil
	case "/save":
		tag, err := arg()
		if err != nil {
			return false, err
		}
		if err := s.engine.SaveCheckpoint(ctx, tag); err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "Saved checkpoint %q.\n", tag)
	case "/resume":
		tag, err := arg()
		if err != nil {
			return false, err
		}
		return false, s.resume(ctx, tag)
	case "/delete":
		tag, err := arg()
		if err != nil {
			return false, err
		}
		if err := s.engine.DeleteCheckpoint(ctx, tag); err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "Deleted checkpoint %q.\n", tag)
	case "/list":
		tags, err := s.engine.ListCheckpoints(ctx)
		if err != nil {
			return false, err
		}
		if len(tags) == 0 {
			fmt.Fprintln(s.out, "No checkpoints.")
		}
		for _, tag := range tags {
			fmt.Fprintf(s.out, "  %s\n", tag)
		}
	case "/reset":
		if err := s.engine.ResetChat(); err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, "Conversation cleared.")
	case "/compress":
		result, err := s.engine.TryCompressChat(ctx, true)
		if err != nil {
			return false, err
		}
		if result == nil {
			fmt.Fprintln(s.out, "Nothing to compress.")
			return false, nil
		}
		fmt.Fprintf(s.out, "Compressed %d -> %d tokens.\n", result.OriginalTokenCount, result.NewTokenCount)
	case "/history":
		printHistory(s.out, s.engine.GetHistory())
	case "/usage":
		u := s.engine.Usage()
		fmt.Fprintf(s.out, "Token Usage:\n  Prompt tokens: %d\n  Completion tokens: %d\n  Total tokens: %d\n  Session turns: %d\n",
			u.PromptTokens, u.CompletionTokens, u.TotalTokens, s.engine.SessionTurns())
	case "/model":
		fmt.Fprintf(s.out, "Model: %s\n", s.engine.Model())
	default:
		return false, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	return false, nil
}

const helpText = `Commands:
  /save <tag>     save the conversation as a checkpoint
  /resume <tag>   replace the conversation with a checkpoint
  /delete <tag>   delete a checkpoint
  /list           list checkpoints, most recent first
  /reset          clear the conversation
  /compress       summarize older history now
  /history        show the conversation
  /usage          show token usage
  /model          show the active model
  /quit           leave
`

func (s *Session) resume(ctx context.Context, tag string) error {
	if err := s.engine.ResumeCheckpoint(ctx, tag); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Resumed %q (%d messages).\n", tag, len(s.engine.GetHistory()))
	return nil
}

// confirmFallback asks on the terminal whether to switch models.
func (s *Session) confirmFallback(_ context.Context, req agent.FallbackRequest) agent.FallbackDecision {
	fmt.Fprintf(s.out, "\n%s\nSwitch to %s for the rest of this session? [y/N] ", req.Message, req.FallbackModel)
	if !s.in.Scan() {
		return agent.FallbackDecision{}
	}
	answer := strings.ToLower(strings.TrimSpace(s.in.Text()))
	return agent.FallbackDecision{Accepted: answer == "y" || answer == "yes"}
}

const maxHistoryTextLen = 200

func printHistory(w io.Writer, history []model.Message) {
	if len(history) == 0 {
		fmt.Fprintln(w, "History is empty.")
		return
	}
	fmt.Fprintln(w, "--- History ---")
	for i, msg := range history {
		fmt.Fprintf(w, "[%d] %s\n", i, msg.Role)
		for _, part := range msg.Parts {
			switch part.Kind() {
			case model.PartText:
				fmt.Fprintf(w, "    %s\n", truncateString(part.Text, maxHistoryTextLen))
			case model.PartFunctionCall:
				fmt.Fprintf(w, "    call %s(%s)\n", part.FunctionCall.Name, formatArgs(part.FunctionCall.Args))
			case model.PartFunctionResponse:
				fmt.Fprintf(w, "    result %s: %s\n", part.FunctionResponse.Name,
					truncateString(formatArgs(part.FunctionResponse.Result), maxHistoryTextLen))
			case model.PartInlineData:
				fmt.Fprintf(w, "    [%s, %d bytes]\n", part.InlineData.MIMEType, len(part.InlineData.Data))
			}
		}
	}
	fmt.Fprintln(w, "---------------")
}

func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "?"
	}
	return truncateString(string(data), 100)
}

// truncateString truncates a string to maxLen runes, preserving UTF-8 boundaries.
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
