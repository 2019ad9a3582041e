// Tool Scheduler - concurrent execution of model-requested calls.
//
// Information Hiding:
// - Concurrency limit and goroutine lifecycle hidden behind Batch
// - Argument encoding from model.FunctionCall hidden
// - Results are handed to a ResultSink as they complete

package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/richinex/threadline/model"
)

// ResultSink accepts function responses in any order.
type ResultSink interface {
	SubmitToolResult(resp model.FunctionResponse) error
}

// Scheduler executes function calls against a registry.
type Scheduler struct {
	registry    *Registry
	executor    *Executor
	sink        ResultSink
	concurrency int
	logger      *zap.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithConcurrency bounds how many calls run at once. Zero or less is unbounded.
func WithConcurrency(n int) SchedulerOption {
	return func(s *Scheduler) { s.concurrency = n }
}

// WithExecutor replaces the default executor.
func WithExecutor(e *Executor) SchedulerOption {
	return func(s *Scheduler) { s.executor = e }
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(logger *zap.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = logger }
}

// NewScheduler creates a scheduler that submits results to sink.
func NewScheduler(registry *Registry, sink ResultSink, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		registry:    registry,
		sink:        sink,
		concurrency: 4,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.executor == nil {
		s.executor = NewExecutor(DefaultToolConfig(), s.logger)
	}
	return s
}

// Execute runs a single call and returns its response. Unknown tools and
// tool failures become error results rather than Go errors.
func (s *Scheduler) Execute(ctx context.Context, call model.FunctionCall) (model.FunctionResponse, error) {
	tool, ok := s.registry.Get(call.Name)
	if !ok {
		return FailureResultf("tool '%s' not found", call.Name).Response(call), nil
	}

	args := call.Args
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)).Response(call), nil
	}

	result, err := s.executor.Execute(ctx, tool, raw)
	if err != nil {
		return model.FunctionResponse{}, fmt.Errorf("execute %s: %w", call.Name, err)
	}
	return result.Response(call), nil
}

// Batch is one group of calls scheduled together.
type Batch struct {
	s     *Scheduler
	ctx   context.Context
	group *errgroup.Group
}

// Begin starts a batch. Cancelling ctx stops calls that have not finished.
func (s *Scheduler) Begin(ctx context.Context) *Batch {
	group, ctx := errgroup.WithContext(ctx)
	if s.concurrency > 0 {
		group.SetLimit(s.concurrency)
	}
	return &Batch{s: s, ctx: ctx, group: group}
}

// Schedule executes call in the background and submits its response as
// soon as it completes.
func (b *Batch) Schedule(call model.FunctionCall) {
	b.group.Go(func() error {
		resp, err := b.s.Execute(b.ctx, call)
		if err != nil {
			return err
		}
		b.s.logger.Debug("tool finished",
			zap.String("tool", call.Name),
			zap.String("call_id", call.ID))
		if err := b.s.sink.SubmitToolResult(resp); err != nil {
			return fmt.Errorf("submit %s result: %w", call.Name, err)
		}
		return nil
	})
}

// Wait blocks until every scheduled call finished and returns the first error.
func (b *Batch) Wait() error {
	return b.group.Wait()
}
