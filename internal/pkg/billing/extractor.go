package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Extractor derives Snapshots from processor objects. Its only input besides
// the payload is the clock, used for fallback windows and discount expiry.
type Extractor struct {
	now           func() time.Time
	unknownStatus Status
}

// NewExtractor creates an extractor. unknownStatus is used for processor
// statuses MapStatus does not recognise; a nil clock means time.Now.
func NewExtractor(unknownStatus Status, now func() time.Time) *Extractor {
	if now == nil {
		now = time.Now
	}
	if unknownStatus == "" {
		unknownStatus = StatusExpired
	}
	return &Extractor{now: now, unknownStatus: unknownStatus}
}

// Extract builds the full snapshot for a subscription object.
func (x *Extractor) Extract(sub map[string]any) Snapshot {
	snap := Snapshot{
		Fields:     FieldStatus | FieldPeriodStart | FieldPeriodEnd | FieldAutoRenew,
		Status:     MapStatus(stringField(sub, "status"), x.unknownStatus),
		CustomerID: idField(sub, "customer"),
	}
	snap.PeriodStart, snap.PeriodEnd = x.Period(sub)

	if id := stringField(sub, "id"); id != "" {
		snap.SubscriptionID = id
		snap.Fields |= FieldSubscriptionID
	}

	cancelAtPeriodEnd, _ := boolField(sub, "cancel_at_period_end")
	snap.AutoRenew = !cancelAtPeriodEnd && snap.Status != StatusCancelled

	if at, ok := unixField(sub, "canceled_at"); ok {
		snap.CancelledAt = at
		snap.Fields |= FieldCancelledAt
	} else if at, ok := unixField(sub, "ended_at"); ok {
		snap.CancelledAt = at
		snap.Fields |= FieldCancelledAt
	}

	if x.applyPricing(&snap, sub) {
		snap.Fields |= FieldPricing
	}
	return snap
}

// ExtractCancellation builds the snapshot for a deleted subscription. Only
// status, end of access and cancellation time are carried so the last known
// pricing survives.
func (x *Extractor) ExtractCancellation(sub map[string]any, eventTime time.Time) Snapshot {
	end, ok := unixField(sub, "ended_at")
	if !ok {
		if end, ok = unixField(sub, "canceled_at"); !ok {
			end = eventTime.UTC()
		}
	}
	cancelled, ok := unixField(sub, "canceled_at")
	if !ok {
		cancelled = end
	}
	return Snapshot{
		Fields:      FieldStatus | FieldPeriodEnd | FieldCancelledAt | FieldAutoRenew,
		Status:      StatusCancelled,
		PeriodEnd:   end,
		CancelledAt: cancelled,
		AutoRenew:   false,
		CustomerID:  idField(sub, "customer"),
	}
}

// ExtractInvoice builds the snapshot for a paid or failed invoice. The period
// of the first line is carried when it is a valid pair.
func (x *Extractor) ExtractInvoice(invoice map[string]any, paid bool) Snapshot {
	snap := Snapshot{
		Fields:     FieldStatus,
		Status:     StatusExpired,
		CustomerID: idField(invoice, "customer"),
	}
	if !paid {
		return snap
	}

	snap.Status = StatusActive
	line := firstListItem(invoice, "lines")
	if start, end, ok := periodPair(objectField(line, "period"), "start", "end"); ok {
		snap.PeriodStart, snap.PeriodEnd = start, end
		snap.Fields |= FieldPeriodStart | FieldPeriodEnd
	}
	if id := idField(invoice, "subscription"); id != "" {
		snap.SubscriptionID = id
		snap.Fields |= FieldSubscriptionID
	}
	return snap
}

// ProvisionalCheckout is the optimistic unlock granted on a completed
// checkout that has no subscription attached yet.
func (x *Extractor) ProvisionalCheckout(customerID string) Snapshot {
	now := x.now().UTC()
	return Snapshot{
		Fields:      FieldStatus | FieldPeriodStart | FieldPeriodEnd,
		Status:      StatusActive,
		PeriodStart: now,
		PeriodEnd:   now.Add(ProvisionalPeriod),
		CustomerID:  customerID,
		Provisional: true,
	}
}

// Period resolves the billing window: subscription level, then first item,
// then created+30d, then now+30d.
func (x *Extractor) Period(sub map[string]any) (time.Time, time.Time) {
	if start, end, ok := periodPair(sub, "current_period_start", "current_period_end"); ok {
		return start, end
	}
	item := firstListItem(sub, "items")
	if start, end, ok := periodPair(item, "current_period_start", "current_period_end"); ok {
		return start, end
	}
	if created, ok := unixField(sub, "created"); ok {
		return created, created.Add(ProvisionalPeriod)
	}
	now := x.now().UTC()
	return now, now.Add(ProvisionalPeriod)
}

func periodPair(m map[string]any, startKey, endKey string) (time.Time, time.Time, bool) {
	start, ok := unixField(m, startKey)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	end, ok := unixField(m, endKey)
	if !ok || end.Before(start) {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func (x *Extractor) applyPricing(snap *Snapshot, sub map[string]any) bool {
	item := firstListItem(sub, "items")
	price := objectField(item, "price")
	if price == nil {
		// Older API versions only expand the plan object.
		price = objectField(item, "plan")
	}
	if price == nil {
		return false
	}

	unit, ok := intField(price, "unit_amount")
	if !ok {
		unit, _ = intField(price, "amount")
	}
	qty, ok := intField(item, "quantity")
	if !ok || qty <= 0 {
		qty = 1
	}

	snap.PriceID = stringField(price, "id")
	snap.ProductID = idField(price, "product")
	snap.BaseAmount = unit * qty
	snap.ActualAmount = snap.BaseAmount

	currency := stringField(price, "currency")
	if currency == "" {
		currency = stringField(sub, "currency")
	}
	snap.Currency = normalizeCurrency(currency)

	interval := stringField(objectField(price, "recurring"), "interval")
	if interval == "" {
		interval = stringField(price, "interval")
	}
	snap.Interval = normalizeInterval(interval)

	if coupon := x.activeCoupon(sub); coupon != nil {
		if pct, ok := numberField(coupon, "percent_off"); ok && pct > 0 && pct <= 100 {
			snap.DiscountPct = pct
			snap.DiscountName = stringField(coupon, "name")
			if snap.DiscountName == "" {
				snap.DiscountName = stringField(coupon, "id")
			}
			snap.ActualAmount = ApplyPercentOff(snap.BaseAmount, pct)
		}
	}
	return true
}

// activeCoupon returns the coupon of the first active discount, preferring
// the discounts list over the legacy single discount field.
func (x *Extractor) activeCoupon(sub map[string]any) map[string]any {
	now := x.now()
	discounts, _ := sub["discounts"].([]any)
	for _, raw := range discounts {
		d, ok := raw.(map[string]any)
		if !ok || !discountActive(d, now) {
			continue
		}
		if c := discountCoupon(d); c != nil {
			return c
		}
	}
	if d := objectField(sub, "discount"); d != nil && discountActive(d, now) {
		return discountCoupon(d)
	}
	return nil
}

func discountActive(d map[string]any, now time.Time) bool {
	end, ok := unixField(d, "end")
	return !ok || end.After(now)
}

func discountCoupon(d map[string]any) map[string]any {
	if c := objectField(d, "coupon"); c != nil {
		return c
	}
	return objectField(objectField(d, "source"), "coupon")
}

// ApplyPercentOff reduces base (minor units) by pct percent, rounding half up.
func ApplyPercentOff(base int64, pct float64) int64 {
	hundred := decimal.NewFromInt(100)
	factor := hundred.Sub(decimal.NewFromFloat(pct)).Div(hundred)
	return decimal.NewFromInt(base).Mul(factor).Round(0).IntPart()
}
