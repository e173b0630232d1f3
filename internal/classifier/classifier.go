// Package classifier groups resolved line items into output batches.
//
// Every kind is computed in one pass over the input; Select then keeps the
// kinds a job asked for. Items keep their input order inside each batch.
package classifier

import (
	"strconv"

	"github.com/JPcasado88/ebay-order-processor-demo/internal/catalog"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/reconciler"
	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

// Classify computes every batch kind.
//
//   - run24h: matched items of orders with at least two distinct canonical
//     identifiers, counted over every line of the order
//   - run: the remaining matched items
//   - courier_master: all matched items, grouped by order on render
//   - duplicates: items whose duplicate key appears on more than one line
//   - unmatched: items without a catalog entry
//
// run and run24h partition the matched items.
func Classify(resolved []types.ResolvedLineItem) map[types.BatchKind]types.Batch {
	distinct := make(map[string]map[string]struct{})
	dupLines := make(map[string]map[string]struct{})
	for i, r := range resolved {
		// 多品項判斷看所有明細的標準識別碼，包含未對到目錄的
		if id := identity(r); id != "" {
			ids, ok := distinct[r.Item.OrderID]
			if !ok {
				ids = make(map[string]struct{})
				distinct[r.Item.OrderID] = ids
			}
			ids[id] = struct{}{}
		}

		if key, ok := reconciler.DuplicateKey(r); ok {
			lines, ok := dupLines[key]
			if !ok {
				lines = make(map[string]struct{})
				dupLines[key] = lines
			}
			lines[lineIdentity(i, r)] = struct{}{}
		}
	}

	var run, run24h, courier, dups, unmatched []types.ResolvedLineItem
	for _, r := range resolved {
		if !r.IsMatched() {
			unmatched = append(unmatched, r)
			continue
		}
		courier = append(courier, r)
		if len(distinct[r.Item.OrderID]) >= 2 {
			run24h = append(run24h, r)
		} else {
			run = append(run, r)
		}
		if key, ok := reconciler.DuplicateKey(r); ok && len(dupLines[key]) > 1 {
			dups = append(dups, r)
		}
	}

	return map[types.BatchKind]types.Batch{
		types.BatchRun:           newBatch(types.BatchRun, run),
		types.BatchRun24h:        newBatch(types.BatchRun24h, run24h),
		types.BatchCourierMaster: newBatch(types.BatchCourierMaster, courier),
		types.BatchDuplicates:    newBatch(types.BatchDuplicates, dups),
		types.BatchUnmatched:     newBatch(types.BatchUnmatched, unmatched),
	}
}

// Select keeps the requested kinds. An empty request keeps all of them.
func Select(batches map[types.BatchKind]types.Batch, kinds []types.BatchKind) map[types.BatchKind]types.Batch {
	if len(kinds) == 0 {
		return batches
	}
	out := make(map[types.BatchKind]types.Batch, len(kinds))
	for _, k := range kinds {
		if b, ok := batches[k]; ok {
			out[k] = b
		}
	}
	return out
}

// Summarize counts items from the full classification and the batch sizes
// of the selected kinds.
func Summarize(all, selected map[types.BatchKind]types.Batch) types.RunSummary {
	s := types.RunSummary{
		Matched:    len(all[types.BatchCourierMaster].Items),
		Unmatched:  len(all[types.BatchUnmatched].Items),
		Duplicates: len(all[types.BatchDuplicates].Items),
		Batches:    make(map[types.BatchKind]int, len(selected)),
	}
	s.Items = s.Matched + s.Unmatched
	for k, b := range selected {
		s.Batches[k] = len(b.Items)
	}
	return s
}

func identity(r types.ResolvedLineItem) string {
	if id := catalog.NormalizeIdentifier(r.Identifier.Token); id != "" {
		return id
	}
	if r.IsMatched() {
		return catalog.NormalizeIdentifier(r.Matched.Identifier)
	}
	return ""
}

// lineIdentity 沒有 LineID 的明細以輸入位置區分
func lineIdentity(i int, r types.ResolvedLineItem) string {
	if r.Item.LineID != "" {
		return r.Item.LineKey()
	}
	return "#" + strconv.Itoa(i)
}

func newBatch(kind types.BatchKind, items []types.ResolvedLineItem) types.Batch {
	b := types.Batch{Kind: kind, Items: items}
	for i, it := range items {
		if i == 0 {
			b.StoreID = it.Item.StoreID
			continue
		}
		if it.Item.StoreID != b.StoreID {
			b.StoreID = ""
			break
		}
	}
	return b
}
