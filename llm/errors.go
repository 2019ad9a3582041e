package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"

	"github.com/richinex/threadline/apierror"
)

// normalizeError maps an SDK error onto the shared taxonomy: caller
// cancellation passes through, timeouts gain remediation text, and
// HTTP failures become *apierror.Error.
func normalizeError(backend string, timeout time.Duration, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var structured error = err
	if apiErr := toAPIError(backend, err); apiErr != nil {
		structured = apiErr
	}

	classified := apierror.ClassifyTimeout(backend, timeout, structured)
	return fmt.Errorf("%s: %w", op, classified)
}

// toAPIError extracts status, code and message from the SDK error types.
func toAPIError(backend string, err error) *apierror.Error {
	var existing *apierror.Error
	if errors.As(err, &existing) {
		return nil
	}

	var genaiErr genai.APIError
	if errors.As(err, &genaiErr) {
		return &apierror.Error{
			Backend: backend,
			Status:  genaiErr.Code,
			Code:    genaiErr.Status,
			Message: genaiErr.Message,
			Err:     err,
		}
	}

	var oaiErr *openai.APIError
	if errors.As(err, &oaiErr) {
		return &apierror.Error{
			Backend: backend,
			Status:  oaiErr.HTTPStatusCode,
			Code:    fmt.Sprint(valueOrEmpty(oaiErr.Code)),
			Type:    oaiErr.Type,
			Message: oaiErr.Message,
			Err:     err,
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := strings.TrimSpace(string(reqErr.Body))
		if msg == "" && reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &apierror.Error{
			Backend: backend,
			Status:  reqErr.HTTPStatusCode,
			Message: msg,
			Err:     err,
		}
	}

	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		msg := antErr.RawJSON()
		if msg == "" {
			msg = antErr.Error()
		}
		return &apierror.Error{
			Backend: backend,
			Status:  antErr.StatusCode,
			Message: msg,
			Err:     err,
		}
	}

	return nil
}

func valueOrEmpty(v any) any {
	if v == nil {
		return ""
	}
	return v
}
