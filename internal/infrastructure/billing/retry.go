package billing

import (
	"context"
	"errors"
	"time"

	"github.com/kirillkom/cdr-backoffice/internal/core/domain"
	"github.com/kirillkom/cdr-backoffice/internal/core/ports"
	"github.com/kirillkom/cdr-backoffice/internal/infrastructure/resilience"
)

type RetryConfig struct {
	MaxRetries int
	Delay      time.Duration

	BreakerEnabled      bool
	BreakerMinRequests  uint32
	BreakerFailureRatio float64
	BreakerOpenTimeout  time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		Delay:      5 * time.Second,
	}
}

// RetryingClient retries every lookup until the upstream reports the success code or
// attempts run out. It always returns the last response and never an error.
type RetryingClient struct {
	next ports.BillingAPI
	exec *resilience.Executor
}

func NewRetryingClient(next ports.BillingAPI, cfg RetryConfig) *RetryingClient {
	execCfg := resilience.FixedRetry(cfg.MaxRetries, cfg.Delay)
	if cfg.BreakerEnabled {
		execCfg.BreakerEnabled = true
		if cfg.BreakerMinRequests > 0 {
			execCfg.BreakerMinRequests = cfg.BreakerMinRequests
		}
		if cfg.BreakerFailureRatio > 0 {
			execCfg.BreakerFailureRatio = cfg.BreakerFailureRatio
		}
		if cfg.BreakerOpenTimeout > 0 {
			execCfg.BreakerOpenTimeout = cfg.BreakerOpenTimeout
		}
	}
	return &RetryingClient{
		next: next,
		exec: resilience.NewExecutor(execCfg),
	}
}

// WithRetryHook reports every retry wait, e.g. to metrics.
func (c *RetryingClient) WithRetryHook(hook resilience.RetryHook) *RetryingClient {
	c.exec.WithRetryHook(hook)
	return c
}

func (c *RetryingClient) QueryUser(ctx context.Context, iccid string) *domain.BillingResponse {
	return c.run(ctx, "billing.user", func(ctx context.Context) *domain.BillingResponse {
		return c.next.QueryUser(ctx, iccid)
	})
}

func (c *RetryingClient) QuerySubscriptions(ctx context.Context, iccid string) *domain.BillingResponse {
	return c.run(ctx, "billing.subscription", func(ctx context.Context) *domain.BillingResponse {
		return c.next.QuerySubscriptions(ctx, iccid)
	})
}

func (c *RetryingClient) QueryDailyUsage(ctx context.Context, iccid string, query domain.UsageQuery) *domain.BillingResponse {
	return c.run(ctx, "billing.usage", func(ctx context.Context) *domain.BillingResponse {
		return c.next.QueryDailyUsage(ctx, iccid, query)
	})
}

type unsuccessfulResponse struct {
	resp *domain.BillingResponse
}

func (e *unsuccessfulResponse) Error() string {
	return e.resp.Describe()
}

func (c *RetryingClient) run(
	ctx context.Context,
	operation string,
	call func(context.Context) *domain.BillingResponse,
) *domain.BillingResponse {
	var last *domain.BillingResponse
	err := c.exec.Execute(ctx, operation, func(ctx context.Context) error {
		last = call(ctx)
		if last.OK() {
			return nil
		}
		return &unsuccessfulResponse{resp: last}
	}, classifyResponse)
	if err == nil || last != nil {
		return last
	}
	if resilience.IsCircuitOpen(err) {
		return failure(ErrorCircuitOpen, err)
	}
	return failure(ErrorRequestFailed, err)
}

// classifyResponse retries every non-success; only transport failures count against the breaker.
func classifyResponse(err error) resilience.ErrorClassification {
	var unsuccessful *unsuccessfulResponse
	if errors.As(err, &unsuccessful) {
		return resilience.ErrorClassification{
			Retryable:     true,
			RecordFailure: unsuccessful.resp.IsTransportError(),
		}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
}
