package render

import (
	"strings"

	"github.com/JPcasado88/ebay-order-processor-demo/internal/reconciler"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/titleattr"
	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

const (
	courierService  = "UK NEXT DAY DELIVERY"
	defaultCourier  = "Hermes"
	barcodeType     = "CODE93"
	bootmatNote     = "Bootmat included"
	lightWeight     = 1
	standardWeight  = 15
	courierCategory = "Car Mats"
)

// sheet is one worksheet ready to be written.
type sheet struct {
	title   string
	headers []string
	rows    [][]any
	// text columns are written with the "@" number format
	text map[string]bool
}

var runHeaders = []string{
	"ORIGIN OF ORDER", "QTY", "REF NO", "TRIM", "Thread Colour", "Embroidery",
	"CARPET TYPE", "CARPET COLOUR", "Make", "Model", "YEAR", "Pcs/Set",
	"HEEL PAD REQUIRED", "NO OF CLIPS", "CLIP TYPE", "Courier", "Bar Code Type",
	"Bar Code", "Delivery Special Instruction", "SKU", "Item Number",
	"Transaction ID", "ORDER ID", "STORE ID", "MATCH",
}

var courierHeaders = []string{
	"ORDER ID", "STORE ID", "BarCode", "ITEMS", "REF NOS", "SERVICE", "WEIGHT", "DESCRIPTION",
}

var duplicateHeaders = []string{
	"ORDER ID", "Transaction ID", "STORE ID", "BUYER", "REF NO", "SKU", "Item Title",
}

var unmatchedHeaders = []string{
	"ORDER ID", "Transaction ID", "Item Number", "STORE ID", "SKU", "Item Title",
	"Extracted ID", "Method", "Make", "Model", "YEAR", "Reason",
}

var textColumns = map[string]bool{
	"ORDER ID": true, "Transaction ID": true, "Item Number": true, "SKU": true,
	"Bar Code": true, "BarCode": true, "REF NO": true,
}

var sheetTitles = map[types.BatchKind]string{
	types.BatchRun:           "RUN",
	types.BatchRun24h:        "RUN24H",
	types.BatchCourierMaster: "COURIER_MASTER",
	types.BatchDuplicates:    "DUPLICATES",
	types.BatchUnmatched:     "Unmatched Items",
}

// buildSheet lays out a batch according to its kind.
func buildSheet(b types.Batch, codes Barcodes) sheet {
	switch b.Kind {
	case types.BatchRun, types.BatchRun24h:
		return runSheet(b, codes)
	case types.BatchCourierMaster:
		return courierSheet(b, codes)
	case types.BatchDuplicates:
		return duplicateSheet(b)
	default:
		return unmatchedSheet(b)
	}
}

// runSheet writes one row per physical unit.
func runSheet(b types.Batch, codes Barcodes) sheet {
	s := sheet{title: sheetTitles[b.Kind], headers: runHeaders, text: textColumns}
	for _, unit := range reconciler.ExpandQuantity(b.Items) {
		e := unit.Matched
		a := unit.Attributes
		note := ""
		if a.SpecialService {
			note = bootmatNote
		}
		s.rows = append(s.rows, []any{
			"eBay",
			"1",
			strings.ToUpper(e.Identifier),
			a.Trim,
			"Matched",
			a.Embroidery,
			a.CarpetType,
			a.Color,
			e.Make,
			e.Model,
			e.Year,
			e.Mats,
			"No",
			e.ClipCount,
			strings.ToUpper(e.ClipType),
			defaultCourier,
			barcodeType,
			codes[unit.Item.LineKey()],
			note,
			strings.ToUpper(unit.Item.SKU),
			unit.Item.ItemNumber,
			unit.Item.LineID,
			unit.Item.OrderID,
			unit.Item.StoreID,
			string(unit.Tier),
		})
	}
	return s
}

// courierSheet writes one row per order.
func courierSheet(b types.Batch, codes Barcodes) sheet {
	s := sheet{title: sheetTitles[b.Kind], headers: courierHeaders, text: textColumns}

	groups := make(map[string][]types.ResolvedLineItem)
	var order []string
	for _, it := range b.Items {
		if _, ok := groups[it.Item.OrderID]; !ok {
			order = append(order, it.Item.OrderID)
		}
		groups[it.Item.OrderID] = append(groups[it.Item.OrderID], it)
	}

	for _, id := range order {
		items := groups[id]
		first := items[0]
		units := 0
		refs := make([]string, 0, len(items))
		for _, it := range items {
			q := it.Item.Quantity
			if q < 1 {
				q = 1
			}
			units += q
			refs = append(refs, strings.ToUpper(it.Matched.Identifier))
		}
		s.rows = append(s.rows, []any{
			id,
			first.Item.StoreID,
			codes[first.Item.LineKey()],
			units,
			strings.Join(refs, ", "),
			courierService,
			orderWeight(items),
			courierCategory,
		})
	}
	return s
}

// orderWeight is light only for a single standard black carpet set.
func orderWeight(items []types.ResolvedLineItem) int {
	if len(items) != 1 || items[0].Item.Quantity > 1 {
		return standardWeight
	}
	a := items[0].Attributes
	if a.CarpetType == titleattr.CarpetStandard && strings.EqualFold(a.Color, titleattr.DefaultColor) {
		return lightWeight
	}
	return standardWeight
}

func duplicateSheet(b types.Batch) sheet {
	s := sheet{title: sheetTitles[b.Kind], headers: duplicateHeaders, text: textColumns}
	for _, it := range b.Items {
		s.rows = append(s.rows, []any{
			it.Item.OrderID,
			it.Item.LineID,
			it.Item.StoreID,
			it.Item.BuyerKey,
			strings.ToUpper(it.Matched.Identifier),
			strings.ToUpper(it.Item.SKU),
			it.Item.Title,
		})
	}
	return s
}

func unmatchedSheet(b types.Batch) sheet {
	s := sheet{title: sheetTitles[types.BatchUnmatched], headers: unmatchedHeaders, text: textColumns}
	for _, it := range b.Items {
		s.rows = append(s.rows, []any{
			it.Item.OrderID,
			it.Item.LineID,
			it.Item.ItemNumber,
			it.Item.StoreID,
			it.Item.SKU,
			it.Item.Title,
			it.Identifier.Token,
			it.Identifier.MethodName(),
			it.Attributes.Make,
			it.Attributes.Model,
			it.Attributes.YearRange,
			it.Note,
		})
	}
	return s
}
