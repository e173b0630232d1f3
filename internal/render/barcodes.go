package render

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

// Barcodes maps a line key to the picking barcode printed on the run sheets.
type Barcodes map[string]string

// AssignBarcodes gives every item a barcode unique within the run.
//
// The base code is <store initials><counter:03d><ddmmyy>. Items of an order
// with more than one line get a two digit suffix, assigned in SKU order so
// reruns over the same input agree.
func AssignBarcodes(items []types.ResolvedLineItem, initials map[string]string, runDate time.Time) Barcodes {
	base := make(map[string]string, len(items))
	byOrder := make(map[string][]types.ResolvedLineItem)
	var orders []string
	counter := 0
	date := runDate.Format("020106")

	for _, it := range items {
		key := it.Item.LineKey()
		if _, seen := base[key]; seen {
			continue
		}
		counter++
		base[key] = fmt.Sprintf("%s%03d%s", storeInitials(it.Item.StoreID, initials, 2), counter, date)
		if _, ok := byOrder[it.Item.OrderID]; !ok {
			orders = append(orders, it.Item.OrderID)
		}
		byOrder[it.Item.OrderID] = append(byOrder[it.Item.OrderID], it)
	}

	out := make(Barcodes, len(base))
	for _, order := range orders {
		lines := byOrder[order]
		if len(lines) == 1 {
			key := lines[0].Item.LineKey()
			out[key] = base[key]
			continue
		}
		sort.SliceStable(lines, func(i, j int) bool { return lines[i].Item.SKU < lines[j].Item.SKU })
		for i, it := range lines {
			key := it.Item.LineKey()
			out[key] = fmt.Sprintf("%s%02d", base[key], i+1)
		}
	}
	return out
}

// storeInitials returns the configured initials or the first n letters of the
// store id upper-cased.
func storeInitials(store string, initials map[string]string, n int) string {
	if v, ok := initials[store]; ok && v != "" {
		return v
	}
	if store == "" {
		return "XX"
	}
	if len(store) > n {
		store = store[:n]
	}
	return strings.ToUpper(store)
}
