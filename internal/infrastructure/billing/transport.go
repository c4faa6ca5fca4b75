package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kirillkom/cdr-backoffice/internal/core/domain"
)

const (
	ErrorRequestFailed     = "request failed"
	ErrorMalformedResponse = "malformed response"
	ErrorCircuitOpen       = "circuit open"

	maxResponseBytes = 8 << 20
)

type envelope struct {
	Code    json.RawMessage `json:"code"`
	Message json.RawMessage `json:"message"`
	Data    json.RawMessage `json:"data"`
	TransID string          `json:"transId"`
}

func (c *Client) call(ctx context.Context, endpoint, path string, body queryRequest) *domain.BillingResponse {
	transID := c.newTransID()
	timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)
	meta := domain.BillingRequestMeta{
		URL:     c.baseURL + path,
		Headers: c.signer.Headers(transID, timestamp),
		TransID: transID,
	}

	started := time.Now()
	resp := c.postJSON(ctx, body, &meta)
	resp.Meta = meta
	if resp.TransID == "" {
		resp.TransID = transID
	}

	if c.observer != nil {
		c.observer.ObserveBillingCall(endpoint, outcomeOf(resp), time.Since(started))
	}
	return resp
}

func (c *Client) postJSON(ctx context.Context, body queryRequest, meta *domain.BillingRequestMeta) *domain.BillingResponse {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return failure(ErrorRequestFailed, fmt.Errorf("rate limiter: %w", err))
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return failure(ErrorRequestFailed, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, meta.URL, bytes.NewReader(payload))
	if err != nil {
		return failure(ErrorRequestFailed, fmt.Errorf("create request: %w", err))
	}
	// Assigned directly so header names keep the exact casing the upstream documents.
	for name, value := range meta.Headers {
		req.Header[name] = []string{value}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return failure(ErrorRequestFailed, err)
	}
	defer resp.Body.Close()
	meta.StatusCode = resp.StatusCode

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return failure(ErrorRequestFailed, fmt.Errorf("read response: %w", err))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return failure(ErrorMalformedResponse, fmt.Errorf("status %s: %w: %s", resp.Status, err, snippet(raw)))
	}

	return &domain.BillingResponse{
		Code:    scalarString(env.Code),
		Message: scalarString(env.Message),
		Data:    env.Data,
		TransID: env.TransID,
		Raw:     json.RawMessage(raw),
	}
}

func failure(kind string, err error) *domain.BillingResponse {
	return &domain.BillingResponse{
		Error:   kind,
		Message: err.Error(),
	}
}

// scalarString renders a JSON string or number without quotes.
func scalarString(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	return string(trimmed)
}

const snippetLimit = 256

// snippet trims a response body for error messages, cutting on a rune boundary so
// the result stays valid UTF-8 when stored as JSONB.
func snippet(raw []byte) string {
	msg := strings.ToValidUTF8(strings.TrimSpace(string(raw)), "\uFFFD")
	if len(msg) <= snippetLimit {
		return msg
	}
	cut := snippetLimit
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

func outcomeOf(resp *domain.BillingResponse) string {
	switch {
	case resp.OK():
		return "success"
	case resp.IsTransportError():
		return "transport_error"
	default:
		return "domain_error"
	}
}
