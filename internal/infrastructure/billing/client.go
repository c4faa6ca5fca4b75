package billing

import (
	"context"
	"crypto/tls"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kirillkom/cdr-backoffice/internal/core/domain"
)

const (
	userQueryPath         = "/bossapi/v3/business/user/query"
	subscriptionQueryPath = "/bossapi/v3/business/subscription/query"
	dailyUsageQueryPath   = "/bossapi/v3/business/usage/query/daily"

	defaultTimeout = 30 * time.Second
)

type Config struct {
	BaseURL            string
	AppID              string
	AppSecret          string
	Locale             string
	Timeout            time.Duration
	InsecureSkipVerify bool
	RateLimitRPS       float64
	RateLimitBurst     int
}

// CallObserver receives one event per upstream call.
type CallObserver interface {
	ObserveBillingCall(endpoint, outcome string, duration time.Duration)
}

// Client is the signed billing API client. It never returns Go errors: transport and
// decoding failures are normalized into the response shape.
type Client struct {
	baseURL    string
	signer     Signer
	httpClient *http.Client
	limiter    *rate.Limiter
	observer   CallObserver

	newTransID func() string
	now        func() time.Time
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		// The upstream billing endpoint serves a self-signed certificate.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		signer: Signer{
			AppID:     cfg.AppID,
			AppSecret: cfg.AppSecret,
			Locale:    cfg.Locale,
		},
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		limiter:    limiter,
		newTransID: uuid.NewString,
		now:        time.Now,
	}
}

func (c *Client) WithObserver(observer CallObserver) *Client {
	c.observer = observer
	return c
}

type userIdentity struct {
	ICCID string `json:"iccid"`
}

type queryRequest struct {
	UserIdentity userIdentity `json:"userIdentity"`
	BeginDate    string       `json:"beginDate,omitempty"`
	EndDate      string       `json:"endDate,omitempty"`
	UsageType    string       `json:"usageType,omitempty"`
}

func (c *Client) QueryUser(ctx context.Context, iccid string) *domain.BillingResponse {
	return c.call(ctx, "user", userQueryPath, queryRequest{UserIdentity: userIdentity{ICCID: iccid}})
}

func (c *Client) QuerySubscriptions(ctx context.Context, iccid string) *domain.BillingResponse {
	return c.call(ctx, "subscription", subscriptionQueryPath, queryRequest{UserIdentity: userIdentity{ICCID: iccid}})
}

func (c *Client) QueryDailyUsage(ctx context.Context, iccid string, query domain.UsageQuery) *domain.BillingResponse {
	return c.call(ctx, "usage", dailyUsageQueryPath, queryRequest{
		UserIdentity: userIdentity{ICCID: iccid},
		BeginDate:    query.BeginDate,
		EndDate:      query.EndDate,
		UsageType:    query.UsageType,
	})
}
