// ============================================================================
// Order Reconciler - 訂單明細對帳
// ============================================================================
//
// Package: internal/reconciler
// 文件: reconciler.go
// 功能: 逐筆將訂單明細轉為 ResolvedLineItem
//
// 每筆明細的處理流程:
//   Extract(sku, title) -> Analyze(title) -> Match(identifier, attributes)
//
// 無法辨識或比對結果不唯一的明細照樣輸出（Matched 為 nil），只記錄日誌，
// 不會中斷整批對帳。
//
// Reconcile 回傳惰性序列（iter.Seq2），呼叫端可以隨時停止；
// 重新迭代會從頭開始，結果相同。
//
// ============================================================================

package reconciler

import (
	"iter"
	"log/slog"

	"github.com/JPcasado88/ebay-order-processor-demo/internal/catalog"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/titleattr"
	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

// IdentifierExtractor turns a raw SKU into a canonical identifier.
type IdentifierExtractor interface {
	Extract(sku, title string) (types.CanonicalIdentifier, types.Diagnostics)
}

// CatalogMatcher picks the catalog entry for an identifier.
type CatalogMatcher interface {
	Match(id types.CanonicalIdentifier, attrs types.TitleAttributes) types.MatchResult
}

// Observer is told about every resolved item; metrics hang off it.
type Observer func(types.ResolvedLineItem)

// Reconciler resolves line items against one catalog snapshot.
type Reconciler struct {
	extractor IdentifierExtractor
	matcher   CatalogMatcher
	logger    *slog.Logger
	observe   Observer
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver registers a callback run after each item is resolved.
func WithObserver(o Observer) Option {
	return func(r *Reconciler) {
		r.observe = o
	}
}

// New returns a Reconciler.
func New(ex IdentifierExtractor, m CatalogMatcher, opts ...Option) *Reconciler {
	r := &Reconciler{
		extractor: ex,
		matcher:   m,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve reconciles a single line item.
func (r *Reconciler) Resolve(item types.RawLineItem) types.ResolvedLineItem {
	id, diag := r.extractor.Extract(item.SKU, item.Title)
	attrs := titleattr.Analyze(item.Title)
	res := r.matcher.Match(id, attrs)

	out := types.ResolvedLineItem{
		Item:       item,
		Identifier: id,
		Attributes: attrs,
		Matched:    res.Entry,
		Tier:       res.Tier,
	}
	if res.Entry == nil {
		out.Tier = types.TierNone
		out.Note = catalog.Err(res).Error()
		r.logger.Warn("Line item not matched",
			"order_id", item.OrderID,
			"sku", item.SKU,
			"identifier", id.Token,
			"method", id.MethodName(),
			"rule", diag.Rule,
			"reason", out.Note)
	} else {
		r.logger.Debug("Line item matched",
			"order_id", item.OrderID,
			"sku", item.SKU,
			"identifier", id.Token,
			"template", res.Entry.Identifier,
			"tier", res.Tier)
	}

	if r.observe != nil {
		r.observe(out)
	}
	return out
}

// Reconcile lazily resolves items in input order. The index is the item's
// position in items.
func (r *Reconciler) Reconcile(items []types.RawLineItem) iter.Seq2[int, types.ResolvedLineItem] {
	return func(yield func(int, types.ResolvedLineItem) bool) {
		for i, item := range items {
			if !yield(i, r.Resolve(item)) {
				return
			}
		}
	}
}

// ExpandQuantity turns a line bought N times into N unit rows, as the run
// sheets carry one row per physical set.
func ExpandQuantity(resolved []types.ResolvedLineItem) []types.ResolvedLineItem {
	out := make([]types.ResolvedLineItem, 0, len(resolved))
	for _, r := range resolved {
		n := r.Item.Quantity
		if n < 1 {
			n = 1
		}
		unit := r
		unit.Item.Quantity = 1
		for range n {
			out = append(out, unit)
		}
	}
	return out
}

// DuplicateKey identifies the same product bought by the same buyer in the
// same store. Unmatched items and items without a buyer have no key.
func DuplicateKey(r types.ResolvedLineItem) (string, bool) {
	if r.Matched == nil || r.Item.BuyerKey == "" {
		return "", false
	}
	return r.Item.StoreID + "\x1f" + catalog.NormalizeIdentifier(r.Matched.Identifier) + "\x1f" + r.Item.BuyerKey, true
}
