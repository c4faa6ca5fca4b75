package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/cdr-backoffice/internal/core/domain"
	"github.com/kirillkom/cdr-backoffice/internal/core/ports"
)

// SubscriberRepository writes reconciled subscribers, subscriptions and usage.
// Natural keys are enforced by unique constraints and every upsert merges with
// COALESCE, so concurrent reconciliation of one ICCID converges.
type SubscriberRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSubscriberRepository(db *sql.DB) *SubscriberRepository {
	return &SubscriberRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *SubscriberRepository) WithinTx(ctx context.Context, fn func(tx ports.SubscriberTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reconciliation tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(&subscriberTx{tx: tx, now: r.now()}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reconciliation tx: %w", err)
	}
	return nil
}

type subscriberTx struct {
	tx  *sql.Tx
	now time.Time
}

var subscriberFields = []string{
	"user_id", "cust_id", "acct_id", "paid_flag", "imsi", "msisdn", "brand", "rateplan_id", "life_cycle",
	"life_cycle_time", "suspend_reason", "active_type", "active_time", "active_deadline", "hlr_state",
	"validity_unit", "validity_time", "eff_time", "exp_time", "create_time",
}

var subscriptionFields = []string{
	"user_id", "acct_id", "brand", "product_id", "product_flag", "status", "status_time", "active_deadline",
	"validity_unit", "validity_time", "eff_time", "exp_time", "create_time", "priority", "change_reason",
}

func subscriberValues(s *domain.Subscriber) []any {
	return []any{
		s.UserID, s.CustID, s.AcctID, s.PaidFlag, s.IMSI, s.MSISDN, s.Brand, s.RatePlanID, s.LifeCycle,
		s.LifeCycleTime, s.SuspendReason, s.ActiveType, s.ActiveTime, s.ActiveDeadline, s.HLRState,
		s.ValidityUnit, s.ValidityTime, s.EffTime, s.ExpTime, s.CreateTime,
	}
}

func subscriberTargets(s *domain.Subscriber) []any {
	return []any{
		&s.UserID, &s.CustID, &s.AcctID, &s.PaidFlag, &s.IMSI, &s.MSISDN, &s.Brand, &s.RatePlanID, &s.LifeCycle,
		&s.LifeCycleTime, &s.SuspendReason, &s.ActiveType, &s.ActiveTime, &s.ActiveDeadline, &s.HLRState,
		&s.ValidityUnit, &s.ValidityTime, &s.EffTime, &s.ExpTime, &s.CreateTime,
	}
}

func subscriptionValues(s *domain.Subscription) []any {
	return []any{
		s.UserID, s.AcctID, s.Brand, s.ProductID, s.ProductFlag, s.Status, s.StatusTime, s.ActiveDeadline,
		s.ValidityUnit, s.ValidityTime, s.EffTime, s.ExpTime, s.CreateTime, s.Priority, s.ChangeReason,
	}
}

func subscriptionTargets(s *domain.Subscription) []any {
	return []any{
		&s.UserID, &s.AcctID, &s.Brand, &s.ProductID, &s.ProductFlag, &s.Status, &s.StatusTime, &s.ActiveDeadline,
		&s.ValidityUnit, &s.ValidityTime, &s.EffTime, &s.ExpTime, &s.CreateTime, &s.Priority, &s.ChangeReason,
	}
}

func coalesceAssignments(table string, fields []string) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s = COALESCE(EXCLUDED.%s, %s.%s)", f, f, table, f))
	}
	return strings.Join(parts, ",\n\t")
}

var (
	subscriberSelect = "id, iccid, " + strings.Join(subscriberFields, ", ") + ", created_at, updated_at"
	upsertSubscriber = `
INSERT INTO subscribers (iccid, ` + strings.Join(subscriberFields, ", ") + `, created_at, updated_at)
VALUES ($1, ` + placeholders(2, len(subscriberFields)) + `, $22, $22)
ON CONFLICT (iccid) DO UPDATE SET
	` + coalesceAssignments("subscribers", subscriberFields) + `,
	updated_at = EXCLUDED.updated_at
RETURNING ` + subscriberSelect

	subscriptionSelect = "id, subscription_id, subscriber_id, " + strings.Join(subscriptionFields, ", ") + ", created_at, updated_at"
	upsertSubscription = `
INSERT INTO subscriptions (subscription_id, subscriber_id, ` + strings.Join(subscriptionFields, ", ") + `, created_at, updated_at)
VALUES ($1, $2, ` + placeholders(3, len(subscriptionFields)) + `, $18, $18)
ON CONFLICT (subscription_id) DO UPDATE SET
	` + coalesceAssignments("subscriptions", subscriptionFields) + `,
	updated_at = EXCLUDED.updated_at
RETURNING ` + subscriptionSelect

	// A placeholder never overwrites real data; it only fills a missing or sentinel product id.
	ensureSubscription = `
INSERT INTO subscriptions (subscription_id, subscriber_id, ` + strings.Join(subscriptionFields, ", ") + `, created_at, updated_at)
VALUES ($1, $2, ` + placeholders(3, len(subscriptionFields)) + `, $18, $18)
ON CONFLICT (subscription_id) DO UPDATE SET
	product_id = CASE
		WHEN subscriptions.product_id IS NULL OR subscriptions.product_id IN ('', 'unknown') THEN EXCLUDED.product_id
		ELSE subscriptions.product_id
	END,
	updated_at = CASE
		WHEN subscriptions.product_id IS NULL OR subscriptions.product_id IN ('', 'unknown') THEN EXCLUDED.updated_at
		ELSE subscriptions.updated_at
	END
RETURNING ` + subscriptionSelect
)

func (t *subscriberTx) UpsertSubscriber(ctx context.Context, sub domain.Subscriber) (domain.Subscriber, error) {
	if strings.TrimSpace(sub.ICCID) == "" {
		return domain.Subscriber{}, domain.WrapError(domain.ErrInvalidInput, "upsert subscriber", errors.New("iccid is required"))
	}
	args := append([]any{sub.ICCID}, subscriberValues(&sub)...)
	args = append(args, t.now)

	out, err := scanSubscriber(t.tx.QueryRowContext(ctx, upsertSubscriber, args...))
	if err != nil {
		return domain.Subscriber{}, fmt.Errorf("upsert subscriber: %w", err)
	}
	return out, nil
}

func (t *subscriberTx) GetSubscriberByICCID(ctx context.Context, iccid string) (*domain.Subscriber, error) {
	out, err := scanSubscriber(t.tx.QueryRowContext(ctx, `SELECT `+subscriberSelect+` FROM subscribers WHERE iccid = $1`, iccid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	return &out, nil
}

func (t *subscriberTx) UpsertSubscription(ctx context.Context, subscription domain.Subscription) (domain.Subscription, error) {
	return t.writeSubscription(ctx, upsertSubscription, subscription, "upsert subscription")
}

func (t *subscriberTx) EnsureSubscription(ctx context.Context, placeholder domain.Subscription) (domain.Subscription, error) {
	return t.writeSubscription(ctx, ensureSubscription, placeholder, "ensure subscription")
}

func (t *subscriberTx) writeSubscription(ctx context.Context, query string, s domain.Subscription, op string) (domain.Subscription, error) {
	if strings.TrimSpace(s.SubscriptionID) == "" {
		return domain.Subscription{}, domain.WrapError(domain.ErrInvalidInput, op, errors.New("subscriptionId is required"))
	}
	if s.SubscriberID == 0 {
		return domain.Subscription{}, domain.WrapError(domain.ErrInvalidInput, op, errors.New("subscriber is required"))
	}
	args := append([]any{s.SubscriptionID, s.SubscriberID}, subscriptionValues(&s)...)
	args = append(args, t.now)

	out, err := scanSubscription(t.tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (t *subscriberTx) InsertUsage(ctx context.Context, usage domain.UsageRecord) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
INSERT INTO usage_records (usage_date, subscription_pk, subscription_id, product_id, usage_type, call_type, visit_mcc, visit_mnc, usage, unit, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (usage_date, subscription_id, product_id, visit_mnc) DO NOTHING
`, usage.UsageDate, usage.SubscriptionPK, usage.SubscriptionID, usage.ProductID, string(usage.UsageType),
		usage.CallType, usage.VisitMCC, usage.VisitMNC, usage.Usage, usage.Unit, t.now,
	)
	if err != nil {
		return false, fmt.Errorf("insert usage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func scanSubscriber(row rowScanner) (domain.Subscriber, error) {
	var s domain.Subscriber
	targets := append([]any{&s.ID, &s.ICCID}, subscriberTargets(&s)...)
	targets = append(targets, &s.CreatedAt, &s.UpdatedAt)
	if err := row.Scan(targets...); err != nil {
		return domain.Subscriber{}, err
	}
	return s, nil
}

func scanSubscription(row rowScanner) (domain.Subscription, error) {
	var s domain.Subscription
	targets := append([]any{&s.ID, &s.SubscriptionID, &s.SubscriberID}, subscriptionTargets(&s)...)
	targets = append(targets, &s.CreatedAt, &s.UpdatedAt)
	if err := row.Scan(targets...); err != nil {
		return domain.Subscription{}, err
	}
	return s, nil
}
