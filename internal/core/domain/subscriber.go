package domain

import "time"

// Subscriber is one physical SIM keyed by ICCID. Nil fields mean "not provided" and
// never overwrite stored values on upsert.
type Subscriber struct {
	ID             int64     `json:"id"`
	ICCID          string    `json:"iccid"`
	UserID         *int64    `json:"user_id,omitempty"`
	CustID         *int64    `json:"cust_id,omitempty"`
	AcctID         *int64    `json:"acct_id,omitempty"`
	PaidFlag       *string   `json:"paid_flag,omitempty"`
	IMSI           *string   `json:"imsi,omitempty"`
	MSISDN         *string   `json:"msisdn,omitempty"`
	Brand          *string   `json:"brand,omitempty"`
	RatePlanID     *string   `json:"rateplan_id,omitempty"`
	LifeCycle      *string   `json:"life_cycle,omitempty"`
	LifeCycleTime  *string   `json:"life_cycle_time,omitempty"`
	SuspendReason  *string   `json:"suspend_reason,omitempty"`
	ActiveType     *string   `json:"active_type,omitempty"`
	ActiveTime     *string   `json:"active_time,omitempty"`
	ActiveDeadline *string   `json:"active_deadline,omitempty"`
	HLRState       *string   `json:"hlr_state,omitempty"`
	ValidityUnit   *string   `json:"validity_unit,omitempty"`
	ValidityTime   *int64    `json:"validity_time,omitempty"`
	EffTime        *string   `json:"eff_time,omitempty"`
	ExpTime        *string   `json:"exp_time,omitempty"`
	CreateTime     *string   `json:"create_time,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// PlaceholderProductID is stored on subscriptions created before their product is known.
const PlaceholderProductID = "unknown"

type Subscription struct {
	ID             int64     `json:"id"`
	SubscriptionID string    `json:"subscription_id"`
	SubscriberID   int64     `json:"subscriber_id"`
	UserID         *int64    `json:"user_id,omitempty"`
	AcctID         *int64    `json:"acct_id,omitempty"`
	Brand          *string   `json:"brand,omitempty"`
	ProductID      *string   `json:"product_id,omitempty"`
	ProductFlag    *string   `json:"product_flag,omitempty"`
	Status         *string   `json:"status,omitempty"`
	StatusTime     *string   `json:"status_time,omitempty"`
	ActiveDeadline *string   `json:"active_deadline,omitempty"`
	ValidityUnit   *string   `json:"validity_unit,omitempty"`
	ValidityTime   *int64    `json:"validity_time,omitempty"`
	EffTime        *string   `json:"eff_time,omitempty"`
	ExpTime        *string   `json:"exp_time,omitempty"`
	CreateTime     *string   `json:"create_time,omitempty"`
	Priority       *string   `json:"priority,omitempty"`
	ChangeReason   *string   `json:"change_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type UsageType string

const (
	UsageTypeData  UsageType = "dat"
	UsageTypeSMS   UsageType = "sms"
	UsageTypeVoice UsageType = "voc"
)

// Label returns the human-readable usage kind.
func (t UsageType) Label() string {
	switch t {
	case UsageTypeData:
		return "data"
	case UsageTypeSMS:
		return "sms"
	case UsageTypeVoice:
		return "voice"
	default:
		return string(t)
	}
}

const DefaultUsageUnit = "Byte"

// UsageRecord is unique per (usage date, subscription, product, visited MNC).
type UsageRecord struct {
	ID             int64     `json:"id"`
	UsageDate      string    `json:"usage_date"`
	SubscriptionPK int64     `json:"-"`
	SubscriptionID string    `json:"subscription_id"`
	ProductID      string    `json:"product_id"`
	UsageType      UsageType `json:"usage_type"`
	CallType       *string   `json:"call_type,omitempty"`
	VisitMCC       *string   `json:"visit_mcc,omitempty"`
	VisitMNC       string    `json:"visit_mnc"`
	Usage          *int64    `json:"usage,omitempty"`
	Unit           string    `json:"unit"`
	CreatedAt      time.Time `json:"created_at"`
}

// PlaceholderSubscription builds the subscription inserted when usage references an
// unknown subscription id. Brand and ownership are inherited from the subscriber.
func PlaceholderSubscription(subscriptionID, productID string, owner Subscriber) Subscription {
	if productID == "" {
		productID = PlaceholderProductID
	}
	return Subscription{
		SubscriptionID: subscriptionID,
		SubscriberID:   owner.ID,
		UserID:         owner.UserID,
		AcctID:         owner.AcctID,
		Brand:          owner.Brand,
		ProductID:      &productID,
	}
}
