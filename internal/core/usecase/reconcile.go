package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/cdr-backoffice/internal/core/domain"
	"github.com/kirillkom/cdr-backoffice/internal/core/ports"
)

// ReconcileUseCase reconciles one ICCID: three billing lookups, bad cases for
// failed lookups, then all entity writes for the ICCID in one transaction.
// It is safe for concurrent use.
type ReconcileUseCase struct {
	billing  ports.BillingAPI
	store    ports.SubscriberStore
	badCases ports.BadCaseRepository
	observer ports.PipelineObserver
	logger   *slog.Logger
}

func NewReconcileUseCase(
	billing ports.BillingAPI,
	store ports.SubscriberStore,
	badCases ports.BadCaseRepository,
	logger *slog.Logger,
) *ReconcileUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileUseCase{
		billing:  billing,
		store:    store,
		badCases: badCases,
		logger:   logger,
	}
}

func (uc *ReconcileUseCase) WithObserver(observer ports.PipelineObserver) *ReconcileUseCase {
	uc.observer = observer
	return uc
}

type lookup struct {
	api     domain.APIType
	resp    *domain.BillingResponse
	user    map[string]any
	entries []map[string]any
	failure string
}

type stepResult struct {
	api    domain.APIType
	failed []string
}

func (s *stepResult) fail(msg string) {
	s.failed = append(s.failed, msg)
}

func (uc *ReconcileUseCase) Reconcile(ctx context.Context, documentID, iccid string) (bool, string) {
	started := time.Now()
	ok, msg := uc.reconcile(ctx, documentID, iccid)
	if uc.observer != nil {
		uc.observer.ObserveICCID(ok, time.Since(started))
	}
	if !ok {
		uc.logger.Warn("iccid_reconcile_failed", "document_id", documentID, "iccid", iccid, "reason", msg)
	}
	return ok, msg
}

func (uc *ReconcileUseCase) reconcile(ctx context.Context, documentID, iccid string) (bool, string) {
	lookups := []*lookup{
		uc.lookupUser(ctx, iccid),
		uc.lookupList(ctx, domain.APITypeSubscription, uc.billing.QuerySubscriptions(ctx, iccid)),
		uc.lookupList(ctx, domain.APITypeUsage, uc.billing.QueryDailyUsage(ctx, iccid, domain.UsageQuery{})),
	}

	steps := make(map[domain.APIType]*stepResult, len(lookups))
	for _, l := range lookups {
		steps[l.api] = &stepResult{api: l.api}
		if l.failure != "" {
			steps[l.api].fail(l.failure)
			uc.recordBadCase(ctx, documentID, iccid, l)
		}
	}

	err := uc.store.WithinTx(ctx, func(tx ports.SubscriberTx) error {
		return uc.apply(ctx, tx, iccid, lookups, steps)
	})
	if err != nil {
		return false, "storage: " + err.Error()
	}

	var parts []string
	for _, l := range lookups {
		if step := steps[l.api]; len(step.failed) > 0 {
			parts = append(parts, string(step.api)+": "+strings.Join(step.failed, ", "))
		}
	}
	if len(parts) > 0 {
		return false, strings.Join(parts, "; ")
	}
	return true, "ok"
}

func (uc *ReconcileUseCase) lookupUser(ctx context.Context, iccid string) *lookup {
	l := &lookup{api: domain.APITypeUser, resp: uc.billing.QueryUser(ctx, iccid)}
	if !l.resp.OK() {
		l.failure = l.resp.Describe()
		return l
	}
	user, err := l.resp.User()
	switch {
	case err != nil:
		l.failure = err.Error()
	case len(user) == 0:
		l.failure = "empty user payload"
	default:
		l.user = user
	}
	return l
}

func (uc *ReconcileUseCase) lookupList(_ context.Context, api domain.APIType, resp *domain.BillingResponse) *lookup {
	l := &lookup{api: api, resp: resp}
	if !resp.OK() {
		l.failure = resp.Describe()
		return l
	}
	entries, err := resp.List()
	switch {
	case err != nil:
		l.failure = err.Error()
	case len(entries) == 0:
		l.failure = "empty " + string(api) + " payload"
	default:
		l.entries = entries
	}
	return l
}

// apply performs every entity write for the ICCID. Data errors fail a step and
// the remaining steps still run; storage errors abort the transaction.
func (uc *ReconcileUseCase) apply(
	ctx context.Context,
	tx ports.SubscriberTx,
	iccid string,
	lookups []*lookup,
	steps map[domain.APIType]*stepResult,
) error {
	var owner *domain.Subscriber

	if user := lookups[0]; user.failure == "" {
		sub, err := subscriberFromPayload(user.user)
		if err != nil {
			steps[domain.APITypeUser].fail(err.Error())
		} else {
			stored, err := tx.UpsertSubscriber(ctx, sub)
			if err != nil {
				return err
			}
			owner = &stored
		}
	}

	ensureOwner := func() (*domain.Subscriber, error) {
		if owner != nil {
			return owner, nil
		}
		existing, err := tx.GetSubscriberByICCID(ctx, iccid)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			created, err := tx.UpsertSubscriber(ctx, domain.Subscriber{ICCID: iccid})
			if err != nil {
				return nil, err
			}
			existing = &created
		}
		owner = existing
		return owner, nil
	}

	if subs := lookups[1]; subs.failure == "" {
		holder, err := ensureOwner()
		if err != nil {
			return err
		}
		for _, entry := range subs.entries {
			subscription, err := subscriptionFromPayload(*holder, entry)
			if err != nil {
				steps[domain.APITypeSubscription].fail(err.Error())
				continue
			}
			if _, err := tx.UpsertSubscription(ctx, subscription); err != nil {
				return err
			}
		}
	}

	if usage := lookups[2]; usage.failure == "" {
		holder, err := ensureOwner()
		if err != nil {
			return err
		}
		for _, entry := range usage.entries {
			if err := uc.insertUsage(ctx, tx, *holder, entry); err != nil {
				var dataErr *usageDataError
				if errors.As(err, &dataErr) {
					steps[domain.APITypeUsage].fail(dataErr.Error())
					continue
				}
				return err
			}
		}
	}
	return nil
}

type usageDataError struct {
	err error
}

func (e *usageDataError) Error() string {
	return e.err.Error()
}

func (uc *ReconcileUseCase) insertUsage(ctx context.Context, tx ports.SubscriberTx, owner domain.Subscriber, entry map[string]any) error {
	record, err := usageFromPayload(entry)
	if err != nil {
		return &usageDataError{err: err}
	}

	subscription, err := tx.EnsureSubscription(ctx, domain.PlaceholderSubscription(record.SubscriptionID, record.ProductID, owner))
	if err != nil {
		return err
	}
	if record.ProductID == "" {
		record.ProductID = domain.PlaceholderProductID
		if subscription.ProductID != nil && *subscription.ProductID != "" {
			record.ProductID = *subscription.ProductID
		}
	}
	record.SubscriptionPK = subscription.ID

	inserted, err := tx.InsertUsage(ctx, record)
	if err != nil {
		return err
	}
	if !inserted {
		uc.logger.Info("usage_duplicate_skipped",
			"iccid", owner.ICCID,
			"subscription_id", record.SubscriptionID,
			"product_id", record.ProductID,
			"usage_date", record.UsageDate,
			"visit_mnc", record.VisitMNC,
		)
	}
	return nil
}

// recordBadCase persists the failed lookup outside the entity transaction so it
// survives a rollback. Recording problems are logged and never fail the ICCID twice.
func (uc *ReconcileUseCase) recordBadCase(ctx context.Context, documentID, iccid string, l *lookup) {
	bc := &domain.BadCase{
		DocumentID:   documentID,
		ICCID:        iccid,
		APIType:      l.api,
		ResponseData: l.resp.Payload(),
		ErrorMessage: l.failure,
	}
	if l.resp != nil {
		bc.TransID = l.resp.Meta.TransID
		if bc.TransID == "" {
			bc.TransID = l.resp.TransID
		}
		if code := l.resp.Meta.StatusCode; code != 0 {
			bc.StatusCode = &code
		}
	}
	if err := uc.badCases.Record(ctx, bc); err != nil {
		uc.logger.Error("bad_case_record_failed",
			"document_id", documentID,
			"iccid", iccid,
			"api_type", l.api,
			"error", fmt.Errorf("record bad case: %w", err),
		)
	}
}
