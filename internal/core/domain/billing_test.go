package domain

import (
	"encoding/json"
	"testing"
)

func TestBillingResponseUserAndList(t *testing.T) {
	resp := &BillingResponse{
		Code: BillingSuccessCode,
		Data: json.RawMessage(`{"user":{"iccid":"89860123456789012345","userId":42},"list":[{"subscriptionId":"S1"}]}`),
	}
	if !resp.OK() {
		t.Fatalf("expected OK response")
	}
	user, err := resp.User()
	if err != nil {
		t.Fatalf("User() error = %v", err)
	}
	if user["iccid"] != "89860123456789012345" {
		t.Fatalf("unexpected user payload: %+v", user)
	}
	if _, ok := user["userId"].(json.Number); !ok {
		t.Fatalf("expected numbers to decode as json.Number, got %T", user["userId"])
	}
	list, err := resp.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 || list[0]["subscriptionId"] != "S1" {
		t.Fatalf("unexpected list payload: %+v", list)
	}
}

func TestBillingResponseEmptyData(t *testing.T) {
	resp := &BillingResponse{Code: BillingSuccessCode}
	user, err := resp.User()
	if err != nil || user != nil {
		t.Fatalf("expected nil user without error, got %v %v", user, err)
	}
	list, err := resp.List()
	if err != nil || len(list) != 0 {
		t.Fatalf("expected empty list without error, got %v %v", list, err)
	}
}

func TestBillingResponseDescribeAndPayload(t *testing.T) {
	resp := &BillingResponse{Error: "request failed", Message: "dial tcp: refused", TransID: "t-1"}
	if resp.OK() || !resp.IsTransportError() {
		t.Fatalf("expected transport failure")
	}
	if resp.Describe() != "request failed: dial tcp: refused" {
		t.Fatalf("unexpected description: %s", resp.Describe())
	}
	var payload map[string]any
	if err := json.Unmarshal(resp.Payload(), &payload); err != nil {
		t.Fatalf("payload is not json: %v", err)
	}
	if payload["transId"] != "t-1" {
		t.Fatalf("expected trans id in payload, got %+v", payload)
	}
}
