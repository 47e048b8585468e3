package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"review-insights-go/internal/config"
	"review-insights-go/internal/logger"
	"review-insights-go/internal/types"
)

var errEmptyResponse = errors.New("empty response")

// Client talks to an OpenAI-compatible API. It implements both the
// completion and the embedding boundary and is safe for concurrent use.
type Client struct {
	api            *openai.Client
	embeddingModel string
	retry          config.RetryPolicy
	chatBreaker    *gobreaker.CircuitBreaker
	embedBreaker   *gobreaker.CircuitBreaker
	log            *logger.Logger
}

func NewClient(cfg config.Config, log *logger.Logger) *Client {
	apiCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.OpenAIBaseURL, "/")
	}

	if log == nil {
		log = logger.New()
	}
	log = log.Component("llm")

	return &Client{
		api:            openai.NewClientWithConfig(apiCfg),
		embeddingModel: cfg.EmbeddingModel,
		retry:          cfg.Retry,
		chatBreaker:    newBreaker("completion", cfg.Breaker, log),
		embedBreaker:   newBreaker("embedding", cfg.Breaker, log),
		log:            log,
	}
}

func newBreaker(name string, p config.BreakerPolicy, log *logger.Logger) *gobreaker.CircuitBreaker {
	if p.FailureThreshold <= 0 {
		return nil
	}
	threshold := uint32(p.FailureThreshold)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     p.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			var ce callerError
			return err == nil || errors.As(err, &ce)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithField("breaker", name).
				WithField("from", from.String()).
				WithField("to", to.String()).
				Warn("circuit breaker state changed")
		},
	})
}

// Complete sends one chat completion and returns the first choice's text.
func (c *Client) Complete(ctx context.Context, req types.CompletionRequest) (string, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	}
	if isReasoningModel(req.Model) {
		chatReq.MaxCompletionTokens = req.MaxTokens
	} else {
		chatReq.MaxTokens = req.MaxTokens
		chatReq.Temperature = float32(req.Temperature)
	}

	content, err := call(ctx, c, c.chatBreaker, "chat", func(ctx context.Context) (string, error) {
		resp, err := c.api.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", errEmptyResponse
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", types.NewServiceError("completion", "chat", err)
	}
	return strings.TrimSpace(content), nil
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := call(ctx, c, c.embedBreaker, "embed", func(ctx context.Context) ([]float32, error) {
		resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.EmbeddingModel(c.embeddingModel),
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			return nil, errEmptyResponse
		}
		return resp.Data[0].Embedding, nil
	})
	if err != nil {
		return nil, types.NewServiceError("embedding", "embed", err)
	}
	return vec, nil
}

// call runs op under the breaker with per-attempt deadlines and bounded exponential backoff.
func call[T any](ctx context.Context, c *Client, cb *gobreaker.CircuitBreaker, op string, fn func(context.Context) (T, error)) (T, error) {
	attempt := 0
	withRetry := func() (T, error) {
		operation := func() (T, error) {
			attempt++
			attemptCtx, cancel := context.WithTimeout(ctx, c.retry.CallTimeout)
			defer cancel()

			out, err := fn(attemptCtx)
			if err == nil {
				return out, nil
			}
			if ctx.Err() != nil || isPermanent(err) {
				return out, backoff.Permanent(err)
			}
			return out, err
		}
		notify := func(err error, wait time.Duration) {
			c.log.WithError(err).
				WithField("op", op).
				WithField("attempt", attempt).
				WithField("retry_in_ms", wait.Milliseconds()).
				Warn("llm call failed, retrying")
		}
		return backoff.RetryNotifyWithData(operation, newBackOff(ctx, c.retry), notify)
	}

	if cb == nil {
		return withRetry()
	}
	out, err := cb.Execute(func() (interface{}, error) {
		out, err := withRetry()
		if err != nil && ctx.Err() != nil {
			return out, callerError{err: err}
		}
		return out, err
	})
	if err != nil {
		var zero T
		var ce callerError
		if errors.As(err, &ce) {
			return zero, ce.err
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%s: %w", op, err)
		}
		return zero, err
	}
	return out.(T), nil
}

// callerError marks a failure caused by the caller's context ending, which
// the breaker does not count against the service.
type callerError struct{ err error }

func (e callerError) Error() string { return e.err.Error() }

func (e callerError) Unwrap() error { return e.err }

func newBackOff(ctx context.Context, p config.RetryPolicy) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = p.MaxElapsed

	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// isPermanent reports client errors that a retry cannot fix. 429 is retried.
func isPermanent(err error) bool {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	return status >= 400 && status < 500 && status != http.StatusTooManyRequests
}

func isReasoningModel(model string) bool {
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}
