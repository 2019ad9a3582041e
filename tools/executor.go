// Tool Executor with Retry Logic.
//
// Information Hiding:
// - Retry strategy implementation hidden
// - Backoff algorithm hidden
// - Error classification logic hidden

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Executor provides tool execution with retry and timeout support.
type Executor struct {
	config ToolConfig
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates a new tool executor with the given configuration.
func NewExecutor(config ToolConfig, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{config: config, logger: logger, sleep: sleepContext}
}

// NewDefaultExecutor creates an executor with default configuration.
func NewDefaultExecutor() *Executor {
	return NewExecutor(DefaultToolConfig(), nil)
}

// Execute validates args and runs the tool, retrying retryable failures.
// Each attempt is bounded by the configured timeout.
func (e *Executor) Execute(ctx context.Context, tool Tool, args json.RawMessage) (ToolResult, error) {
	toolName := tool.Metadata().Name
	if err := tool.Validate(args); err != nil {
		return FailureResult(fmt.Errorf("validation failed: %w", err)), nil
	}

	var lastErr error
	maxRetries := e.config.Retries()
	timeout := time.Duration(e.config.Timeout()) * time.Second

	for attempt := uint32(0); attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, e.calculateBackoff(attempt)); err != nil {
				return ToolResult{}, err
			}
			e.logger.Debug("retrying tool",
				zap.String("tool", toolName),
				zap.Uint32("attempt", attempt+1),
				zap.Error(lastErr))
		}

		result, err := e.attempt(ctx, tool, args, timeout)
		if ctx.Err() != nil {
			return ToolResult{}, ctx.Err()
		}
		if err != nil {
			lastErr = err
			continue
		}
		if result.Success() || !e.shouldRetry(result) {
			return result, nil
		}
		lastErr = result.Error
	}

	errMsg := "unknown error"
	if lastErr != nil {
		errMsg = lastErr.Error()
	}
	e.logger.Warn("tool failed after retries",
		zap.String("tool", toolName),
		zap.Uint32("attempts", maxRetries),
		zap.String("error", errMsg))
	return FailureResultf("tool '%s' failed after %d attempts: %s", toolName, maxRetries, errMsg), nil
}

func (e *Executor) attempt(ctx context.Context, tool Tool, args json.RawMessage, timeout time.Duration) (ToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return tool.Execute(ctx, args)
}

// calculateBackoff returns the backoff duration for the given attempt.
func (e *Executor) calculateBackoff(attempt uint32) time.Duration {
	const (
		baseDelay = 100 * time.Millisecond
		maxDelay  = 5 * time.Second
	)

	delay := baseDelay * time.Duration(1<<attempt)
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// shouldRetry determines if a failed result is worth another attempt.
func (e *Executor) shouldRetry(result ToolResult) bool {
	if result.Error == nil {
		return false
	}

	errLower := strings.ToLower(result.Error.Error())

	// Don't retry validation errors, permission issues or missing files
	nonRetryable := []string{"validation", "not allowed", "permission", "empty", "does not exist", "invalid arguments", "too large", "directory"}
	for _, s := range nonRetryable {
		if strings.Contains(errLower, s) {
			return false
		}
	}

	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
