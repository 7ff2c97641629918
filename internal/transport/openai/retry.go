package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/memex/internal/domain"
	"github.com/kailas-cloud/memex/internal/metrics"
)

// caller runs one logical provider call with throttling, a per-attempt
// timeout and bounded exponential backoff.
type caller struct {
	retry    RetryConfig
	limiter  *rate.Limiter
	provider string
	op       string
	logger   *zap.Logger
}

func (c *caller) do(ctx context.Context, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry.InitialInterval
	b.MaxInterval = c.retry.MaxInterval
	b.MaxElapsedTime = 0

	var lastErr error
	operation := func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if c.retry.CallTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, c.retry.CallTimeout)
		}
		defer cancel()

		err := fn(attemptCtx)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		metrics.BackendRetriesTotal.WithLabelValues(c.provider, c.op).Inc()
		c.logger.Warn("Retrying provider call",
			zap.String("provider", c.provider),
			zap.String("operation", c.op),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.retry.MaxAttempts-1)), ctx)
	err := backoff.RetryNotify(operation, policy, notify)
	if err == nil {
		return nil
	}
	if lastErr == nil {
		lastErr = err
	}
	return classify(ctx, lastErr)
}

// retryable reports whether err is a timeout, a rate limit, or a server error.
func retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	status := statusOf(err)
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return true
	case status >= http.StatusInternalServerError:
		return true
	case status == 0:
		// Connection refused, reset and similar transport failures.
		var opErr *net.OpError
		return errors.As(err, &opErr)
	}
	return false
}

// classify maps the final error of a call onto the error taxonomy.
func classify(ctx context.Context, err error) error {
	detail := describe(err)
	status := statusOf(err)
	switch {
	case ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", detail, ctx.Err())
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return domain.Misconfigured("%s", detail)
	case status == http.StatusBadRequest, status == http.StatusNotFound,
		status == http.StatusUnprocessableEntity, status == http.StatusRequestEntityTooLarge:
		return domain.Malformed("%s", detail)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w: %w", detail, domain.ErrRateLimited, domain.ErrTransientBackend)
	case retryable(err):
		return fmt.Errorf("%s: retries exhausted: %w", detail, domain.ErrTransientBackend)
	}
	return err
}

func statusOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
