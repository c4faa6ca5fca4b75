package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/cdr-backoffice/internal/core/domain"
)

const testICCID = "8986012345678901234"

func fullBilling() billingFake {
	return billingFake{
		user: okResponse(`{"user":{"iccid":"8986012345678901234","userId":1001,"brand":"CMLINK","imsi":"460001234567890"}}`),
		subscriptions: okResponse(`{"list":[
			{"subscriptionId":"S1","productId":"P1","status":"active"},
			{"subscriptionId":"S2","productId":"P2"}
		]}`),
		usage: okResponse(`{"list":[
			{"subscriptionId":"S1","productId":"P1","usageDate":"20240115","visitMnc":"01","usage":"2048"},
			{"subscriptionId":"S9","usageDate":"20240115","visitMnc":"02","usage":10}
		]}`),
	}
}

func TestReconcileWritesAllEntities(t *testing.T) {
	store := newSubscriberStoreFake()
	badCases := newBadCaseRepoFake()
	observer := &observerFake{}
	uc := NewReconcileUseCase(fullBilling(), store, badCases, nil).WithObserver(observer)

	ok, msg := uc.Reconcile(context.Background(), "doc-1", testICCID)
	if !ok || msg != "ok" {
		t.Fatalf("expected success, got ok=%v msg=%q", ok, msg)
	}

	sub, exists := store.subscribers[testICCID]
	if !exists {
		t.Fatalf("expected subscriber to be stored")
	}
	if sub.UserID == nil || *sub.UserID != 1001 {
		t.Fatalf("expected user id 1001, got %v", sub.UserID)
	}
	if len(store.subscriptions) != 3 {
		t.Fatalf("expected 2 subscriptions plus 1 placeholder, got %d", len(store.subscriptions))
	}
	placeholder := store.subscriptions["S9"]
	if placeholder.ProductID == nil || *placeholder.ProductID != domain.PlaceholderProductID {
		t.Fatalf("expected placeholder product, got %v", placeholder.ProductID)
	}
	if placeholder.Brand == nil || *placeholder.Brand != "CMLINK" {
		t.Fatalf("expected placeholder to inherit brand, got %v", placeholder.Brand)
	}
	if placeholder.SubscriberID != sub.ID {
		t.Fatalf("expected placeholder owner %d, got %d", sub.ID, placeholder.SubscriberID)
	}
	if len(store.usage) != 2 {
		t.Fatalf("expected 2 usage records, got %d", len(store.usage))
	}
	if store.commits != 1 {
		t.Fatalf("expected one commit, got %d", store.commits)
	}
	if len(badCases.recorded) != 0 {
		t.Fatalf("expected no bad cases, got %d", len(badCases.recorded))
	}
	if len(observer.iccids) != 1 || !observer.iccids[0] {
		t.Fatalf("expected one successful iccid observation, got %v", observer.iccids)
	}
}

func TestReconcileIsIdempotentOnUsage(t *testing.T) {
	store := newSubscriberStoreFake()
	uc := NewReconcileUseCase(fullBilling(), store, newBadCaseRepoFake(), nil)

	for i := 0; i < 2; i++ {
		if ok, msg := uc.Reconcile(context.Background(), "doc-1", testICCID); !ok {
			t.Fatalf("run %d failed: %s", i, msg)
		}
	}
	if len(store.usage) != 2 {
		t.Fatalf("expected duplicates to be skipped, got %d usage records", len(store.usage))
	}
	if len(store.subscribers) != 1 {
		t.Fatalf("expected single subscriber, got %d", len(store.subscribers))
	}
}

func TestReconcileRecordsBadCaseAndContinues(t *testing.T) {
	billing := fullBilling()
	code := 200
	billing.subscriptions = &domain.BillingResponse{
		Code:    "5001",
		Message: "system busy",
		TransID: "tx-9",
		Meta:    domain.BillingRequestMeta{StatusCode: code, TransID: "tx-meta"},
		Raw:     []byte(`{"code":"5001","message":"system busy"}`),
	}
	store := newSubscriberStoreFake()
	badCases := newBadCaseRepoFake()
	uc := NewReconcileUseCase(billing, store, badCases, nil)

	ok, msg := uc.Reconcile(context.Background(), "doc-1", testICCID)
	if ok {
		t.Fatalf("expected failure")
	}
	if msg != "subscription: system busy" {
		t.Fatalf("unexpected message %q", msg)
	}
	if len(badCases.recorded) != 1 {
		t.Fatalf("expected one bad case, got %d", len(badCases.recorded))
	}
	bc := badCases.recorded[0]
	if bc.APIType != domain.APITypeSubscription || bc.ICCID != testICCID || bc.DocumentID != "doc-1" {
		t.Fatalf("unexpected bad case %+v", bc)
	}
	if bc.TransID != "tx-meta" {
		t.Fatalf("expected meta trans id, got %q", bc.TransID)
	}
	if bc.StatusCode == nil || *bc.StatusCode != code {
		t.Fatalf("expected status code %d, got %v", code, bc.StatusCode)
	}
	if string(bc.ResponseData) != `{"code":"5001","message":"system busy"}` {
		t.Fatalf("unexpected response data %s", bc.ResponseData)
	}
	// User and usage still land.
	if len(store.subscribers) != 1 || len(store.usage) != 2 {
		t.Fatalf("expected other steps to be applied, got subscribers=%d usage=%d", len(store.subscribers), len(store.usage))
	}
}

func TestReconcileEmptyUserCreatesBareSubscriber(t *testing.T) {
	billing := fullBilling()
	billing.user = okResponse(`{"user":{}}`)
	store := newSubscriberStoreFake()
	badCases := newBadCaseRepoFake()
	uc := NewReconcileUseCase(billing, store, badCases, nil)

	ok, msg := uc.Reconcile(context.Background(), "doc-1", testICCID)
	if ok || !strings.HasPrefix(msg, "user: empty user payload") {
		t.Fatalf("expected user failure, got ok=%v msg=%q", ok, msg)
	}
	sub, exists := store.subscribers[testICCID]
	if !exists {
		t.Fatalf("expected bare subscriber for orphan subscriptions")
	}
	if sub.UserID != nil {
		t.Fatalf("expected bare subscriber, got %+v", sub)
	}
	if len(badCases.recorded) != 1 || badCases.recorded[0].APIType != domain.APITypeUser {
		t.Fatalf("expected user bad case, got %+v", badCases.recorded)
	}
}

func TestReconcileTransportFailureOnAllLookups(t *testing.T) {
	failed := &domain.BillingResponse{Error: "request failed", Message: "dial tcp: refused"}
	store := newSubscriberStoreFake()
	badCases := newBadCaseRepoFake()
	uc := NewReconcileUseCase(billingFake{user: failed, subscriptions: failed, usage: failed}, store, badCases, nil)

	ok, msg := uc.Reconcile(context.Background(), "doc-1", testICCID)
	if ok {
		t.Fatalf("expected failure")
	}
	for _, part := range []string{"user: ", "subscription: ", "usage: "} {
		if !strings.Contains(msg, part) {
			t.Fatalf("expected %q in %q", part, msg)
		}
	}
	if len(badCases.recorded) != 3 {
		t.Fatalf("expected three bad cases, got %d", len(badCases.recorded))
	}
	if len(store.subscribers) != 0 {
		t.Fatalf("expected no writes, got %d subscribers", len(store.subscribers))
	}
	if len(badCases.recorded[0].ResponseData) == 0 {
		t.Fatalf("expected normalized error payload")
	}
}

func TestReconcileStorageErrorRollsBack(t *testing.T) {
	store := newSubscriberStoreFake()
	store.failUsage = errors.New("connection reset")
	uc := NewReconcileUseCase(fullBilling(), store, newBadCaseRepoFake(), nil)

	ok, msg := uc.Reconcile(context.Background(), "doc-1", testICCID)
	if ok {
		t.Fatalf("expected failure")
	}
	if msg != "storage: connection reset" {
		t.Fatalf("unexpected message %q", msg)
	}
	if store.rollbacks != 1 || len(store.subscribers) != 0 || len(store.subscriptions) != 0 {
		t.Fatalf("expected rolled back writes, got rollbacks=%d subscribers=%d", store.rollbacks, len(store.subscribers))
	}
}

func TestReconcileMappingErrorFailsStepOnly(t *testing.T) {
	billing := fullBilling()
	billing.usage = okResponse(`{"list":[{"subscriptionId":"S1","visitMnc":"01"},{"subscriptionId":"S1","usageDate":"20240116","visitMnc":"01"}]}`)
	store := newSubscriberStoreFake()
	badCases := newBadCaseRepoFake()
	uc := NewReconcileUseCase(billing, store, badCases, nil)

	ok, msg := uc.Reconcile(context.Background(), "doc-1", testICCID)
	if ok || !strings.Contains(msg, "usage: usage entry for S1 has no usageDate") {
		t.Fatalf("unexpected result ok=%v msg=%q", ok, msg)
	}
	if len(store.usage) != 1 {
		t.Fatalf("expected the valid usage row to be stored, got %d", len(store.usage))
	}
	if len(badCases.recorded) != 0 {
		t.Fatalf("mapping errors must not produce bad cases")
	}
}

func TestReconcileBadCaseRecordErrorIsLogged(t *testing.T) {
	billing := fullBilling()
	billing.usage = &domain.BillingResponse{Code: "9999", Message: "nope"}
	badCases := newBadCaseRepoFake()
	badCases.recordErr = errors.New("db down")
	uc := NewReconcileUseCase(billing, newSubscriberStoreFake(), badCases, nil)

	ok, msg := uc.Reconcile(context.Background(), "doc-1", testICCID)
	if ok || msg != "usage: nope" {
		t.Fatalf("unexpected result ok=%v msg=%q", ok, msg)
	}
}
