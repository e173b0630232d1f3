package source

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JPcasado88/ebay-order-processor-demo/internal/catalog"
	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

// Demo store ids.
const (
	DemoStore1 = "demo_store_1"
	DemoStore2 = "demo_store_2"
	DemoStore3 = "demo_store_3"
)

// Demo serves a fixed set of orders placed over the three days before now.
// The SKUs cover the extraction paths: catalog codes, stripped prefixes,
// grammar rules, the numeric remap and titles only the catalog can resolve.
type Demo struct {
	now func() time.Time
}

// NewDemo returns a demo source. A nil clock means time.Now.
func NewDemo(now func() time.Time) *Demo {
	if now == nil {
		now = time.Now
	}
	return &Demo{now: now}
}

// Stores lists the stores the demo data covers.
func (d *Demo) Stores() []string {
	return []string{DemoStore1, DemoStore2, DemoStore3}
}

// Orders returns the full demo data set.
func (d *Demo) Orders() []Order {
	base := d.now().UTC().Add(-72 * time.Hour).Truncate(time.Minute)
	at := func(h int) time.Time { return base.Add(time.Duration(h) * time.Hour) }
	paid := func(h int) *time.Time { t := at(h).Add(10 * time.Minute); return &t }
	price := decimal.RequireFromString

	order := func(id, store, buyer string, h int, items ...Item) Order {
		for i := range items {
			if items[i].LineID == "" {
				items[i].LineID = fmt.Sprintf("%s-%d", id, i+1)
			}
			if items[i].Quantity == 0 {
				items[i].Quantity = 1
			}
		}
		return Order{
			OrderID:        id,
			StoreID:        store,
			BuyerKey:       buyer,
			OrderStatus:    "Completed",
			CheckoutStatus: "Complete",
			PaymentStatus:  "NoPaymentFailure",
			CreatedAt:      at(h),
			PaidAt:         paid(h),
			DispatchDays:   1,
			ShippingCost:   decimal.Zero,
			Items:          items,
		}
	}

	return []Order{
		order("DEMO-001", DemoStore1, "john.smith", 2, Item{
			ItemNumber: "123456789", SKU: "SAMPLE-TOY-001", UnitPrice: price("45.99"),
			Title: "Toyota Camry 2020-2025 Tailored Car Floor Mats Black Carpet",
		}),
		order("DEMO-002", DemoStore1, "sarah.johnson", 5, Item{
			ItemNumber: "234567890", SKU: "BMW-3SER-VELOUR-4PC", UnitPrice: price("52.99"),
			Title: "BMW 3 Series 2005-2012 Custom Fit Car Mats Black Velour",
		}),
		order("DEMO-003", DemoStore2, "michael.brown", 8,
			Item{
				ItemNumber: "345678901", SKU: "CT65 Q80", UnitPrice: price("48.99"),
				Title: "Audi A4 2008-2015 Premium Car Floor Mats Set Black with Grey Trim",
			},
			Item{
				ItemNumber: "345678902", SKU: "MS-Q80", UnitPrice: price("40.99"),
				Title: "Audi A4 2008-2015 Boot Mat Carpet Liner",
			},
		),
		order("DEMO-004", DemoStore2, "emma.wilson", 12, Item{
			ItemNumber: "456789012", SKU: "VAW0307 001 X205", UnitPrice: price("41.99"),
			Title: "Ford Focus 2018-2024 Hatchback Car Mats Full Set Black",
		}),
		order("DEMO-005", DemoStore3, "david.taylor", 18, Item{
			ItemNumber: "567890123", SKU: "MER-C205-PREMIUM", UnitPrice: price("67.99"),
			Title: "Mercedes C Class 2014-2021 AMG Line Premium Carpet Car Mats",
		}),
		order("DEMO-006", DemoStore3, "lisa.anderson", 22, Item{
			ItemNumber: "678901234", SKU: "8435", UnitPrice: price("38.99"),
			Title: "VW Golf 2012-2020 5 Door Hatchback Tailored Car Floor Mats",
		}),
		order("DEMO-007", DemoStore1, "robert.garcia", 27, Item{
			ItemNumber: "789012345", SKU: "Q227 CVT - Black with Red Trim", UnitPrice: price("43.99"), Quantity: 2,
			Title: "Honda Civic 2016-2022 Custom Car Mats Black with Red Trim",
		}),
		order("DEMO-008", DemoStore2, "jennifer.martinez", 32, Item{
			ItemNumber: "890123456", SKU: "SAMPLE-NIS-001", UnitPrice: price("39.99"),
			Title: "Nissan Altima 2019-2025 Sedan Premium Floor Mat Set Black",
		}),
		// Same buyer and product as DEMO-001: lands in the duplicates batch.
		order("DEMO-009", DemoStore1, "john.smith", 40, Item{
			ItemNumber: "123456789", SKU: "SAMPLE-TOY-001", UnitPrice: price("45.99"),
			Title: "Toyota Camry 2020-2025 Tailored Car Floor Mats Black Carpet",
		}),
	}
}

// Fetch implements OrderSource.
func (d *Demo) Fetch(ctx context.Context, store string, from, to time.Time) ([]types.RawLineItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Flatten(d.Orders(), store, from, to), nil
}

// DemoCatalog is a catalog source holding the entries the demo orders
// resolve against.
type DemoCatalog struct{}

// Entries returns the demo catalog rows.
func (DemoCatalog) Entries() []types.CatalogEntry {
	return []types.CatalogEntry{
		{Identifier: "SAMPLE-TOY-001", Make: "Toyota", Model: "Camry", Year: "2020-2025", Mats: "4", ClipCount: "2", ClipType: "Round"},
		{Identifier: "B310", Make: "BMW", Model: "3 Series", Year: "2005-2012", Mats: "4", ClipCount: "4", ClipType: "Oval"},
		{Identifier: "Q80", Make: "Audi", Model: "A4", Year: "2008-2015", Mats: "4", ClipCount: "2", ClipType: "Round"},
		{Identifier: "Q80", Make: "Audi", Model: "A4 Avant", Year: "2016-2023", Mats: "4", ClipCount: "4", ClipType: "Round"},
		{Identifier: "MS-Q80", Make: "Audi", Model: "A4", Year: "2008-2015", Mats: "1"},
		{Identifier: "X205", Make: "Ford", Model: "Focus", Year: "2018-2024", Mats: "4", ClipCount: "2", ClipType: "Twist"},
		{Identifier: "M205", Make: "Mercedes", Model: "C Class", Year: "2014-2021", Mats: "4", ClipCount: "4", ClipType: "Round"},
		{Identifier: "L2", Make: "Volkswagen", Model: "Golf", Year: "2012-2020", Mats: "4", ClipCount: "4", ClipType: "Twist"},
		{Identifier: "Q227", Make: "Honda", Model: "Civic", Year: "2016-2022", Mats: "4", ClipCount: "2", ClipType: "Round"},
		{Identifier: "SAMPLE-NIS-001", Make: "Nissan", Model: "Altima", Year: "2019-2025", Mats: "4"},
	}
}

// Load implements the orchestrator's catalog source.
func (c DemoCatalog) Load(ctx context.Context) (*catalog.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return catalog.NewSnapshot(c.Entries()), nil
}
