package llm

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/forgechat/checkpoint-platform/pkg/logger"
)

const maxRetries = 3

// retryingClient wraps a Client and retries transient provider failures
// with exponential backoff. Non-transient errors are returned immediately.
type retryingClient struct {
	inner Client
}

// WithRetry wraps a client so that transient failures are retried.
func WithRetry(inner Client) Client {
	return &retryingClient{inner: inner}
}

func (c *retryingClient) Name() string {
	return c.inner.Name()
}

func (c *retryingClient) Models() []string {
	return c.inner.Models()
}

func (c *retryingClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	var resp *CompletionResponse
	err := c.retry(ctx, func() error {
		var err error
		resp, err = c.inner.Complete(ctx, req)
		return err
	})
	return resp, err
}

// CompleteStream retries only failures that happen before any token has
// been delivered. Once streaming has started the callback may have seen
// partial output, so mid-stream errors are surfaced to the caller.
func (c *retryingClient) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	started := false
	wrapped := func(token string, index int) error {
		started = true
		return callback(token, index)
	}

	var resp *CompletionResponse
	err := c.retry(ctx, func() error {
		var err error
		resp, err = c.inner.CompleteStream(ctx, req, wrapped)
		if err != nil && started {
			return backoff.Permanent(err)
		}
		return err
	})
	return resp, err
}

func (c *retryingClient) GenerateTitle(ctx context.Context, firstUserMsg, firstAssistantMsg string) (string, error) {
	var title string
	err := c.retry(ctx, func() error {
		var err error
		title, err = c.inner.GenerateTitle(ctx, firstUserMsg, firstAssistantMsg)
		return err
	})
	return title, err
}

func (c *retryingClient) retry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)

	return backoff.RetryNotify(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		logger.Global().Warn("retrying LLM request",
			zap.String("provider", c.inner.Name()),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
}

func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate limit",
		"rate_limit",
		"overloaded",
		"429",
		"500",
		"502",
		"503",
		"529",
		"timeout",
		"connection reset",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
