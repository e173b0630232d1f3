package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

// DefaultLookbackDays is the fetch window used when a request has no
// date_from.
const DefaultLookbackDays = 29

// JobRequest describes one reconciliation run.
type JobRequest struct {
	Stores   []string  `json:"stores" yaml:"stores" validate:"required,min=1,dive,required,max=64"`
	DateFrom time.Time `json:"date_from,omitempty" yaml:"date_from"`
	DateTo   time.Time `json:"date_to,omitempty" yaml:"date_to" validate:"gtefield=DateFrom"`
	// OrderTypes keeps only orders whose status is listed. Empty keeps all.
	OrderTypes        []string          `json:"order_types,omitempty" yaml:"order_types" validate:"dive,required,max=32"`
	OutputKinds       []types.BatchKind `json:"output_kinds,omitempty" yaml:"output_kinds" validate:"dive,oneof=run run24h courier_master duplicates unmatched"`
	Next24hOnly       bool              `json:"next_24h_only,omitempty" yaml:"next_24h_only"`
	IncludeDispatched bool              `json:"include_dispatched,omitempty" yaml:"include_dispatched"`
}

// withDefaults fills the date window: date_to defaults to now and date_from
// to lookbackDays before date_to.
func (r JobRequest) withDefaults(now time.Time, lookbackDays int) JobRequest {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	if r.DateTo.IsZero() {
		r.DateTo = now
	}
	if r.DateFrom.IsZero() {
		r.DateFrom = r.DateTo.AddDate(0, 0, -lookbackDays)
	}
	stores := make([]string, 0, len(r.Stores))
	seen := make(map[string]bool, len(r.Stores))
	for _, s := range r.Stores {
		s = strings.TrimSpace(s)
		if s != "" {
			if seen[s] {
				continue
			}
			seen[s] = true
		}
		// blanks are kept so validation rejects them
		stores = append(stores, s)
	}
	r.Stores = stores
	return r
}

// validate reports the first failing field in a readable form.
func validate(v *validator.Validate, r JobRequest) error {
	err := v.Struct(r)
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: field %s failed %q", ErrInvalidRequest, fe.Namespace(), fe.Tag())
	}
	return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
}

// orderTypeFilter keeps items whose order status is one of types.
func orderTypeFilter(items []types.RawLineItem, orderTypes []string) []types.RawLineItem {
	if len(orderTypes) == 0 {
		return items
	}
	allowed := make(map[string]bool, len(orderTypes))
	for _, t := range orderTypes {
		allowed[strings.ToLower(strings.TrimSpace(t))] = true
	}
	if allowed["all"] {
		return items
	}
	kept := items[:0:0]
	for _, it := range items {
		if allowed[strings.ToLower(strings.TrimSpace(it.OrderStatus))] {
			kept = append(kept, it)
		}
	}
	return kept
}
