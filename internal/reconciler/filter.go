package reconciler

import (
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

// DispatchZone is the business timezone used for urgency decisions.
const DispatchZone = "Europe/London"

// Skip reasons reported by Filter.
const (
	SkipCancelled  = "cancelled"
	SkipCheckout   = "checkout_incomplete"
	SkipPayment    = "payment_incomplete"
	SkipHeld       = "payment_hold"
	SkipDispatched = "dispatched"
	SkipNotUrgent  = "not_urgent"
)

var (
	inactiveStatuses = map[string]bool{"cancelled": true, "inactive": true, "invalid": true}
	paidStatuses     = map[string]bool{"nopaymentfailure": true, "paymentreceived": true, "": true}
)

// FilterOptions selects which orders take part in a run.
type FilterOptions struct {
	IncludeDispatched bool
	Next24hOnly       bool
	Now               time.Time
	Location          *time.Location
}

// FilterStats counts kept items and skipped items per reason.
type FilterStats struct {
	Kept    int
	Skipped map[string]int
}

// Filter drops line items whose order must not be produced. Input order is
// preserved.
func Filter(items []types.RawLineItem, opts FilterOptions) ([]types.RawLineItem, FilterStats) {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	if opts.Location == nil {
		opts.Location = londonOrUTC()
	}

	stats := FilterStats{Skipped: make(map[string]int)}
	kept := make([]types.RawLineItem, 0, len(items))
	for _, it := range items {
		if reason, skip := SkipReason(it, opts.IncludeDispatched); skip {
			stats.Skipped[reason]++
			continue
		}
		if opts.Next24hOnly && !IsShippingDue(it, opts.Now, opts.Location) {
			stats.Skipped[SkipNotUrgent]++
			continue
		}
		kept = append(kept, it)
	}
	stats.Kept = len(kept)
	return kept, stats
}

// SkipReason reports why an item's order is excluded from production.
func SkipReason(it types.RawLineItem, includeDispatched bool) (string, bool) {
	status := strings.ToLower(strings.TrimSpace(it.OrderStatus))
	if inactiveStatuses[status] || strings.Contains(status, "cancel") {
		return SkipCancelled, true
	}
	if c := strings.ToLower(strings.TrimSpace(it.CheckoutStatus)); c != "" && c != "complete" {
		return SkipCheckout, true
	}
	if !paidStatuses[strings.ToLower(strings.TrimSpace(it.PaymentStatus))] {
		return SkipPayment, true
	}
	if it.PaymentHold {
		return SkipHeld, true
	}
	if !includeDispatched && it.ShippedAt != nil {
		return SkipDispatched, true
	}
	return "", false
}

// IsShippingDue reports whether an order has to leave today. The ship-by date
// wins when present; otherwise it is paid_at plus the dispatch window counted
// in business days. Dates are compared in loc.
func IsShippingDue(it types.RawLineItem, now time.Time, loc *time.Location) bool {
	today := dateOf(now, loc)
	if it.ShipBy != nil && !dateOf(*it.ShipBy, loc).After(today) {
		return true
	}
	if it.PaidAt == nil {
		return false
	}
	days := it.DispatchDays
	if days < 1 {
		days = 1
	}
	return !AddBusinessDays(dateOf(*it.PaidAt, loc), days).After(today)
}

// AddBusinessDays moves d forward by n weekdays.
func AddBusinessDays(d time.Time, n int) time.Time {
	for added := 0; added < n; {
		d = d.AddDate(0, 0, 1)
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			added++
		}
	}
	return d
}

func dateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func londonOrUTC() *time.Location {
	loc, err := time.LoadLocation(DispatchZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
