package usecase

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"github.com/kirillkom/cdr-backoffice/internal/core/domain"
)

// Upstream payloads are decoded with json.Number, so every scalar is read through cast.

func optString(m map[string]any, key string) *string {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil
	}
	return &s
}

func optInt64(m map[string]any, key string) *int64 {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
		return nil
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return nil
	}
	return &n
}

func reqString(m map[string]any, key string) string {
	if s := optString(m, key); s != nil {
		return strings.TrimSpace(*s)
	}
	return ""
}

func subscriberFromPayload(user map[string]any) (domain.Subscriber, error) {
	iccid := reqString(user, "iccid")
	if iccid == "" {
		return domain.Subscriber{}, errors.New("user payload has no iccid")
	}
	return domain.Subscriber{
		ICCID:          iccid,
		UserID:         optInt64(user, "userId"),
		CustID:         optInt64(user, "custId"),
		AcctID:         optInt64(user, "acctId"),
		PaidFlag:       optString(user, "paidFlag"),
		IMSI:           optString(user, "imsi"),
		MSISDN:         optString(user, "msisdn"),
		Brand:          optString(user, "brand"),
		RatePlanID:     optString(user, "rateplanId"),
		LifeCycle:      optString(user, "lifeCycle"),
		LifeCycleTime:  optString(user, "lifeCycleTime"),
		SuspendReason:  optString(user, "suspendReason"),
		ActiveType:     optString(user, "activeType"),
		ActiveTime:     optString(user, "activeTime"),
		ActiveDeadline: optString(user, "activeDeadline"),
		HLRState:       optString(user, "hlrState"),
		ValidityUnit:   optString(user, "validityUnit"),
		ValidityTime:   optInt64(user, "validityTime"),
		EffTime:        optString(user, "effTime"),
		ExpTime:        optString(user, "expTime"),
		CreateTime:     optString(user, "createTime"),
	}, nil
}

func subscriptionFromPayload(owner domain.Subscriber, entry map[string]any) (domain.Subscription, error) {
	id := reqString(entry, "subscriptionId")
	if id == "" {
		return domain.Subscription{}, errors.New("subscription entry has no subscriptionId")
	}
	return domain.Subscription{
		SubscriptionID: id,
		SubscriberID:   owner.ID,
		UserID:         optInt64(entry, "userId"),
		AcctID:         optInt64(entry, "acctId"),
		Brand:          optString(entry, "brand"),
		ProductID:      optString(entry, "productId"),
		ProductFlag:    optString(entry, "productFlag"),
		Status:         optString(entry, "status"),
		StatusTime:     optString(entry, "statusTime"),
		ActiveDeadline: optString(entry, "activeDeadline"),
		ValidityUnit:   optString(entry, "validityUnit"),
		ValidityTime:   optInt64(entry, "validityTime"),
		EffTime:        optString(entry, "effTime"),
		ExpTime:        optString(entry, "expTime"),
		CreateTime:     optString(entry, "createTime"),
		Priority:       optString(entry, "priority"),
		ChangeReason:   optString(entry, "changeReason"),
	}, nil
}

// usageFromPayload maps one usage entry. The owning subscription is resolved by the caller.
func usageFromPayload(entry map[string]any) (domain.UsageRecord, error) {
	subscriptionID := reqString(entry, "subscriptionId")
	if subscriptionID == "" {
		return domain.UsageRecord{}, errors.New("usage entry has no subscriptionId")
	}
	usageDate := reqString(entry, "usageDate")
	if usageDate == "" {
		return domain.UsageRecord{}, fmt.Errorf("usage entry for %s has no usageDate", subscriptionID)
	}

	usageType := domain.UsageType(reqString(entry, "usageType"))
	if usageType == "" {
		usageType = domain.UsageTypeData
	}
	unit := reqString(entry, "unit")
	if unit == "" {
		unit = domain.DefaultUsageUnit
	}

	return domain.UsageRecord{
		UsageDate:      usageDate,
		SubscriptionID: subscriptionID,
		ProductID:      reqString(entry, "productId"),
		UsageType:      usageType,
		CallType:       optString(entry, "callType"),
		VisitMCC:       optString(entry, "visitMcc"),
		VisitMNC:       reqString(entry, "visitMnc"),
		Usage:          optInt64(entry, "usage"),
		Unit:           unit,
	}, nil
}
