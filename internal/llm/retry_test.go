package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyClient fails a configured number of times before succeeding.
type flakyClient struct {
	failures int
	err      error
	attempts int
}

func (c *flakyClient) Name() string     { return "flaky" }
func (c *flakyClient) Models() []string { return []string{"flaky-model"} }

func (c *flakyClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	c.attempts++
	if c.attempts <= c.failures {
		return nil, c.err
	}
	return &CompletionResponse{Content: "ok"}, nil
}

func (c *flakyClient) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	c.attempts++
	if err := callback("partial", 0); err != nil {
		return nil, err
	}
	return nil, c.err
}

func (c *flakyClient) GenerateTitle(ctx context.Context, firstUserMsg, firstAssistantMsg string) (string, error) {
	return "", nil
}

func TestIsTransient(t *testing.T) {
	transient := []string{
		"rate limit exceeded",
		"rate_limit_error",
		"overloaded_error: try again",
		"unexpected status 429",
		"502 bad gateway",
		"request timeout",
		"read: connection reset by peer",
	}
	for _, msg := range transient {
		assert.True(t, isTransient(errors.New(msg)), msg)
	}

	permanent := []string{
		"invalid api key",
		"model not found",
		"400 bad request",
	}
	for _, msg := range permanent {
		assert.False(t, isTransient(errors.New(msg)), msg)
	}
}

func TestRetrySkipsPermanentErrors(t *testing.T) {
	inner := &flakyClient{failures: 10, err: errors.New("invalid api key")}
	client := WithRetry(inner)

	_, err := client.Complete(context.Background(), &CompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, 1, inner.attempts)
}

func TestRetryRecoversFromTransientError(t *testing.T) {
	inner := &flakyClient{failures: 1, err: errors.New("overloaded_error")}
	client := WithRetry(inner)

	resp, err := client.Complete(context.Background(), &CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 2, inner.attempts)
}

func TestStreamErrorAfterFirstTokenNotRetried(t *testing.T) {
	inner := &flakyClient{err: errors.New("overloaded_error")}
	client := WithRetry(inner)

	_, err := client.CompleteStream(context.Background(), &CompletionRequest{},
		func(string, int) error { return nil })
	require.Error(t, err)
	assert.Equal(t, 1, inner.attempts)
}
