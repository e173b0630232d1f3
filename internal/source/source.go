// Package source supplies order line items to reconciliation jobs.
//
// The marketplace client lives outside this module. Orders arrive either as a
// JSON export file written by that client or from the built-in demo data set.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

var (
	// ErrSourceUnavailable the order export could not be read
	ErrSourceUnavailable = errors.New("order source unavailable")
	// ErrInvalidExport the export is not a valid order document
	ErrInvalidExport = errors.New("invalid order export")
)

// OrderSource returns the line items of one store's orders created in
// [from, to].
type OrderSource interface {
	Fetch(ctx context.Context, store string, from, to time.Time) ([]types.RawLineItem, error)
}

// Order is one marketplace order as written to the export file.
type Order struct {
	OrderID        string          `json:"order_id"`
	StoreID        string          `json:"store_id"`
	BuyerKey       string          `json:"buyer_key,omitempty"`
	OrderStatus    string          `json:"order_status,omitempty"`
	CheckoutStatus string          `json:"checkout_status,omitempty"`
	PaymentStatus  string          `json:"payment_status,omitempty"`
	PaymentHold    bool            `json:"payment_hold,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	ShipBy         *time.Time      `json:"ship_by,omitempty"`
	ShippedAt      *time.Time      `json:"shipped_at,omitempty"`
	DispatchDays   int             `json:"dispatch_days,omitempty"`
	ShippingCost   decimal.Decimal `json:"shipping_cost"`
	Items          []Item          `json:"items"`
}

// Item is one purchased line of an Order.
type Item struct {
	LineID     string          `json:"line_id,omitempty"`
	ItemNumber string          `json:"item_number,omitempty"`
	SKU        string          `json:"sku"`
	Title      string          `json:"title"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

// Export is the document layout of an order export file.
type Export struct {
	GeneratedAt time.Time `json:"generated_at,omitempty"`
	Orders      []Order   `json:"orders"`
}

// Decode reads an export document. A bare JSON array of orders is accepted
// as well.
func Decode(r io.Reader) ([]Order, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidExport)
	}

	if strings.HasPrefix(trimmed, "[") {
		var orders []Order
		if err := json.Unmarshal(raw, &orders); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidExport, err)
		}
		return orders, nil
	}
	var doc Export
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExport, err)
	}
	return doc.Orders, nil
}

// Flatten turns the orders of store created in [from, to] into line items.
// An empty store selects every store; zero bounds are open.
func Flatten(orders []Order, store string, from, to time.Time) []types.RawLineItem {
	var items []types.RawLineItem
	for _, o := range orders {
		if store != "" && !strings.EqualFold(o.StoreID, store) {
			continue
		}
		if !from.IsZero() && o.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && o.CreatedAt.After(to) {
			continue
		}
		for _, it := range o.Items {
			qty := it.Quantity
			if qty < 1 {
				qty = 1
			}
			items = append(items, types.RawLineItem{
				OrderID:        o.OrderID,
				LineID:         it.LineID,
				ItemNumber:     it.ItemNumber,
				SKU:            it.SKU,
				Title:          it.Title,
				Quantity:       qty,
				UnitPrice:      it.UnitPrice,
				StoreID:        o.StoreID,
				BuyerKey:       o.BuyerKey,
				ShippingCost:   o.ShippingCost,
				OrderStatus:    o.OrderStatus,
				CheckoutStatus: o.CheckoutStatus,
				PaymentStatus:  o.PaymentStatus,
				PaymentHold:    o.PaymentHold,
				PaidAt:         o.PaidAt,
				ShipBy:         o.ShipBy,
				ShippedAt:      o.ShippedAt,
				DispatchDays:   o.DispatchDays,
			})
		}
	}
	return items
}

// FileSource reads a JSON export on every Fetch.
type FileSource struct {
	Path string
	Log  *slog.Logger
}

// NewFileSource returns a FileSource for path.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{Path: path, Log: logger}
}

// Fetch implements OrderSource.
func (s *FileSource) Fetch(ctx context.Context, store string, from, to time.Time) ([]types.RawLineItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Path == "" {
		return nil, fmt.Errorf("%w: no export path configured", ErrSourceUnavailable)
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer f.Close()

	orders, err := Decode(f)
	if err != nil {
		return nil, err
	}
	items := Flatten(orders, store, from, to)
	if s.Log != nil {
		s.Log.Info("Orders fetched", "path", s.Path, "store", store, "orders", len(orders), "items", len(items))
	}
	return items, nil
}

// Func adapts a function to OrderSource.
type Func func(ctx context.Context, store string, from, to time.Time) ([]types.RawLineItem, error)

// Fetch calls f.
func (f Func) Fetch(ctx context.Context, store string, from, to time.Time) ([]types.RawLineItem, error) {
	return f(ctx, store, from, to)
}
