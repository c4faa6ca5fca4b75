package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// BillingSuccessCode is the only upstream code treated as success.
const BillingSuccessCode = "0000"

// BillingRequestMeta is transport bookkeeping attached to every billing response.
type BillingRequestMeta struct {
	URL        string            `json:"url"`
	Headers    map[string]string `json:"headers"`
	TransID    string            `json:"trans_id"`
	StatusCode int               `json:"status_code"`
}

// BillingResponse is the single shape returned for both upstream replies and
// transport failures. Error is set only for failures that never produced a body.
type BillingResponse struct {
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	TransID string          `json:"transId,omitempty"`

	Raw  json.RawMessage    `json:"-"`
	Meta BillingRequestMeta `json:"-"`
}

func (r *BillingResponse) OK() bool {
	return r != nil && r.Code == BillingSuccessCode
}

func (r *BillingResponse) IsTransportError() bool {
	return r != nil && r.Error != ""
}

// Describe returns the most specific failure text available.
func (r *BillingResponse) Describe() string {
	switch {
	case r == nil:
		return "no response"
	case r.Message != "" && r.Error != "":
		return r.Error + ": " + r.Message
	case r.Message != "":
		return r.Message
	case r.Error != "":
		return r.Error
	case r.Code != "":
		return "upstream code " + r.Code
	default:
		return "unknown error"
	}
}

// Payload returns the raw body when available, or a JSON rendering of the normalized error.
func (r *BillingResponse) Payload() json.RawMessage {
	if r == nil {
		return nil
	}
	if len(r.Raw) > 0 {
		return r.Raw
	}
	encoded, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return encoded
}

// User decodes data.user. An absent or empty object yields a nil map.
func (r *BillingResponse) User() (map[string]any, error) {
	var data struct {
		User map[string]any `json:"user"`
	}
	if err := decodeData(r.Data, &data); err != nil {
		return nil, fmt.Errorf("decode data.user: %w", err)
	}
	if len(data.User) == 0 {
		return nil, nil
	}
	return data.User, nil
}

// List decodes data.list.
func (r *BillingResponse) List() ([]map[string]any, error) {
	var data struct {
		List []map[string]any `json:"list"`
	}
	if err := decodeData(r.Data, &data); err != nil {
		return nil, fmt.Errorf("decode data.list: %w", err)
	}
	return data.List, nil
}

func decodeData(raw json.RawMessage, out any) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(out)
}

// UsageQuery narrows a daily usage lookup. Dates use yyyyMMdd.
type UsageQuery struct {
	BeginDate string
	EndDate   string
	UsageType string
}
