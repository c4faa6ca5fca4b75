package domain

import (
	"encoding/json"
	"time"
)

type APIType string

const (
	APITypeUser         APIType = "user"
	APITypeSubscription APIType = "subscription"
	APITypeUsage        APIType = "usage"
)

// MaxBadCaseRetries bounds manual retries of a single bad case.
const MaxBadCaseRetries = 2

// BadCase is one failed billing lookup for a (document, iccid, api type) triple.
type BadCase struct {
	ID           string          `json:"id"`
	DocumentID   string          `json:"document_id"`
	ICCID        string          `json:"iccid"`
	APIType      APIType         `json:"api_type"`
	TransID      string          `json:"trans_id,omitempty"`
	StatusCode   *int            `json:"status_code,omitempty"`
	ResponseData json.RawMessage `json:"response_data,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	RetryCount   int             `json:"retry_count"`
	LastRetryAt  *time.Time      `json:"last_retry_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (b *BadCase) CanRetry() bool {
	return b.RetryCount < MaxBadCaseRetries
}

type BadCaseStats struct {
	TotalBadCases         int            `json:"total_bad_cases"`
	UserAPIErrors         int            `json:"user_api_errors"`
	SubscriptionAPIErrors int            `json:"subscription_api_errors"`
	UsageAPIErrors        int            `json:"usage_api_errors"`
	RetryableCases        int            `json:"retryable_cases"`
	ErrorByStatusCode     map[string]int `json:"error_by_status_code"`
}
