package taxline

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/shopfakt/internal/domain/order"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func decPtr(t *testing.T, s string) *decimal.Decimal {
	t.Helper()
	d := dec(t, s)
	return &d
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		DefaultRate:    dec(t, "0.23"),
		TaxesIncluded:  true,
		DiscountMode:   DiscountAllocations,
		AdjustmentName: "Korekta zaokrąglenia",
		AdjustmentRate: decPtr(t, "0.23"),
		ZeroRateSymbol: "zw",
	}
}

func testOrder(t *testing.T, totalPrice string, lines []order.Line, shipping []order.ShippingLine) *order.Order {
	t.Helper()
	return &order.Order{
		ID:            450789469,
		Name:          "#1001",
		CreatedAt:     time.Date(2024, 3, 12, 10, 30, 0, 0, time.UTC),
		Currency:      "PLN",
		TotalPrice:    dec(t, totalPrice),
		TaxesIncluded: true,
		LineItems:     lines,
		ShippingLines: shipping,
	}
}

// grossSum recomputes what the accounting API derives from the emitted
// entries: each net total grossed up by its rate, rounded per entry.
func grossSum(entries []ServiceEntry) int64 {
	var sum int64
	for _, e := range entries {
		sum += e.GrossTotal()
	}
	return sum
}

func TestBuild_SingleLineExactTax(t *testing.T) {
	o := testOrder(t, "24.60", []order.Line{{
		Title:    "Widget",
		Quantity: 2,
		Price:    dec(t, "12.30"),
		TaxLines: []order.TaxLine{{Rate: dec(t, "0.23"), Amount: dec(t, "4.60")}},
	}}, nil)

	entries, err := Build(o, testConfig(t))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no adjustment entry expected")

	e := entries[0]
	assert.Equal(t, "Widget", e.Name)
	assert.Equal(t, "23", e.TaxSymbol)
	assert.Equal(t, 2, e.Quantity)
	assert.Equal(t, int64(1000), e.UnitNetPrice)
	assert.Equal(t, int64(2460), e.GrossTotal())
}

func TestBuild_DerivedTaxFromRate(t *testing.T) {
	// No upstream tax amount: tax is derived by dividing gross by 1+rate.
	o := testOrder(t, "12.30", []order.Line{{
		Title:    "Gadget",
		Quantity: 1,
		Price:    dec(t, "12.30"),
	}}, nil)

	entries, err := Build(o, testConfig(t))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1000), entries[0].UnitNetPrice)
	assert.Equal(t, "23", entries[0].TaxSymbol)
}

func TestBuild_TaxExclusivePrices(t *testing.T) {
	cfg := testConfig(t)
	cfg.TaxesIncluded = false

	o := testOrder(t, "12.30", []order.Line{{
		Title:    "Widget",
		Quantity: 1,
		Price:    dec(t, "10.00"),
	}}, nil)

	entries, err := Build(o, cfg)
	require.NoError(t, err)
	require.Len(t, entries, 1, "exactly divisible input needs no adjustment")
	assert.Equal(t, int64(1000), entries[0].UnitNetPrice)
	assert.Equal(t, int64(1230), entries[0].GrossTotal())
}

func TestBuild_SkipsNonPositiveQuantity(t *testing.T) {
	o := testOrder(t, "12.30", []order.Line{
		{Title: "Ghost", Quantity: 0, Price: dec(t, "99.99")},
		{Title: "AntiGhost", Quantity: -1, Price: dec(t, "99.99")},
		{Title: "Real", Quantity: 1, Price: dec(t, "12.30"),
			TaxLines: []order.TaxLine{{Rate: dec(t, "0.23"), Amount: dec(t, "2.30")}}},
	}, nil)

	entries, err := Build(o, testConfig(t))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Real", entries[0].Name)
}

func TestBuild_SkipsFreeShipping(t *testing.T) {
	o := testOrder(t, "12.30", []order.Line{{
		Title: "Widget", Quantity: 1, Price: dec(t, "12.30"),
		TaxLines: []order.TaxLine{{Rate: dec(t, "0.23"), Amount: dec(t, "2.30")}},
	}}, []order.ShippingLine{
		{Title: "Free Shipping", Price: dec(t, "0.00")},
	})

	entries, err := Build(o, testConfig(t))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Widget", entries[0].Name)
}

func TestBuild_ShippingDiscountedPricePreferred(t *testing.T) {
	o := testOrder(t, "10.00", nil, []order.ShippingLine{{
		Title:           "Kurier",
		Price:           dec(t, "15.00"),
		DiscountedPrice: decPtr(t, "10.00"),
	}})

	entries, err := Build(o, testConfig(t))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, "Kurier", e.Name)
	assert.Equal(t, 1, e.Quantity)
	assert.Equal(t, int64(813), e.UnitNetPrice)
}

func TestBuild_DiscountAllocations(t *testing.T) {
	o := testOrder(t, "20.00", []order.Line{{
		Title:               "Widget",
		Quantity:            2,
		Price:               dec(t, "12.30"),
		TaxLines:            []order.TaxLine{{Rate: dec(t, "0.23"), Amount: dec(t, "3.74")}},
		DiscountAllocations: []order.DiscountAllocation{{Amount: dec(t, "4.60")}},
	}}, nil)

	entries, err := Build(o, testConfig(t))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(813), entries[0].UnitNetPrice)
	assert.Equal(t, int64(2000), grossSum(entries))
}

func TestBuild_ProratedOrderDiscount(t *testing.T) {
	cfg := testConfig(t)
	cfg.DiscountMode = DiscountProrate

	o := testOrder(t, "30.00", []order.Line{
		{Title: "Big", Quantity: 1, Price: dec(t, "30.00")},
		{Title: "Small", Quantity: 1, Price: dec(t, "10.00")},
	}, nil)
	o.TotalDiscounts = dec(t, "10.00")

	entries, err := Build(o, cfg)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Big carries 75% of the discount: (30 - 7.50) / 1.23 = 18.29.
	assert.Equal(t, int64(1829), entries[0].UnitNetPrice)
	// Small carries 25%: (10 - 2.50) / 1.23 = 6.10.
	assert.Equal(t, int64(610), entries[1].UnitNetPrice)
	assert.Equal(t, int64(3000), grossSum(entries))
}

func TestBuild_TrailingDiscountEntry(t *testing.T) {
	cfg := testConfig(t)
	cfg.DiscountMode = DiscountTrailing

	o := testOrder(t, "9.84", []order.Line{{
		Title: "Widget", Quantity: 1, Price: dec(t, "12.30"),
		TaxLines: []order.TaxLine{{Rate: dec(t, "0.23"), Amount: dec(t, "2.30")}},
	}}, nil)
	o.TotalDiscounts = dec(t, "2.46")

	entries, err := Build(o, cfg)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	rabat := entries[1]
	assert.Equal(t, "Rabat", rabat.Name)
	assert.Equal(t, 1, rabat.Quantity)
	assert.Equal(t, int64(-200), rabat.UnitNetPrice)
	assert.Equal(t, int64(984), grossSum(entries))
}

func TestBuild_ZeroRateSymbol(t *testing.T) {
	o := testOrder(t, "10.00", []order.Line{{
		Title:    "Exempt Service",
		Quantity: 1,
		Price:    dec(t, "10.00"),
		TaxLines: []order.TaxLine{{Rate: decimal.Zero, Amount: decimal.Zero}},
	}}, nil)

	entries, err := Build(o, testConfig(t))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "zw", entries[0].TaxSymbol)
	assert.Equal(t, int64(1000), entries[0].UnitNetPrice)
}

func TestBuild_AdjustmentForUnderstatedLines(t *testing.T) {
	// Lines gross up to 10.00 but the order says 10.03: expect one dopłata
	// entry with positive net closing the 3-unit gap.
	o := testOrder(t, "10.03", []order.Line{{
		Title: "Widget", Quantity: 1, Price: dec(t, "10.00"),
		TaxLines: []order.TaxLine{{Rate: dec(t, "0.23"), Amount: dec(t, "1.87")}},
	}}, nil)

	entries, err := Build(o, testConfig(t))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	adj := entries[1]
	assert.Equal(t, "Korekta zaokrąglenia", adj.Name)
	assert.Equal(t, 1, adj.Quantity)
	assert.Positive(t, adj.UnitNetPrice)

	got := grossSum(entries)
	assert.InDelta(t, 1003, got, 1, "recomputed total must land within one minor unit")
}

func TestBuild_AdjustmentForExcessLines(t *testing.T) {
	// Lines gross up to 10.00 but the order says 9.97: expect one negative
	// rounding-rebate entry.
	o := testOrder(t, "9.97", []order.Line{{
		Title: "Widget", Quantity: 1, Price: dec(t, "10.00"),
		TaxLines: []order.TaxLine{{Rate: dec(t, "0.23"), Amount: dec(t, "1.87")}},
	}}, nil)

	entries, err := Build(o, testConfig(t))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	adj := entries[1]
	assert.Equal(t, 1, adj.Quantity)
	assert.Negative(t, adj.UnitNetPrice)

	got := grossSum(entries)
	assert.InDelta(t, 997, got, 1)
}

func TestBuild_AdjustmentExactAtZeroRate(t *testing.T) {
	cfg := testConfig(t)
	zero := decimal.Zero
	cfg.AdjustmentRate = &zero // zero rate always closes exactly

	o := testOrder(t, "10.03", []order.Line{{
		Title: "Widget", Quantity: 1, Price: dec(t, "10.00"),
		TaxLines: []order.TaxLine{{Rate: dec(t, "0.23"), Amount: dec(t, "1.87")}},
	}}, nil)

	entries, err := Build(o, cfg)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(3), entries[1].UnitNetPrice)
	assert.Equal(t, "zw", entries[1].TaxSymbol)
	assert.Equal(t, int64(1003), grossSum(entries))
}

func TestBuild_WithinToleranceNoAdjustment(t *testing.T) {
	// One minor unit of drift is tolerated without a synthetic entry.
	o := testOrder(t, "10.01", []order.Line{{
		Title: "Widget", Quantity: 1, Price: dec(t, "10.00"),
		TaxLines: []order.TaxLine{{Rate: dec(t, "0.23"), Amount: dec(t, "1.87")}},
	}}, nil)

	entries, err := Build(o, testConfig(t))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestBuild_AdjustmentRateUnset(t *testing.T) {
	cfg := testConfig(t)
	cfg.AdjustmentRate = nil

	o := testOrder(t, "10.05", []order.Line{{
		Title: "Widget", Quantity: 1, Price: dec(t, "10.00"),
		TaxLines: []order.TaxLine{{Rate: dec(t, "0.23"), Amount: dec(t, "1.87")}},
	}}, nil)

	_, err := Build(o, cfg)
	require.ErrorIs(t, err, ErrAdjustmentRateUnset)
}

func TestBuild_FlatRateSymbolStamped(t *testing.T) {
	cfg := testConfig(t)
	cfg.FlatRateTaxSymbol = "3"

	o := testOrder(t, "12.30", []order.Line{{
		Title: "Widget", Quantity: 1, Price: dec(t, "12.30"),
		TaxLines: []order.TaxLine{{Rate: dec(t, "0.23"), Amount: dec(t, "2.30")}},
	}}, nil)

	entries, err := Build(o, cfg)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "3", entries[0].FlatRateTaxSymbol)
}

func TestBuild_ValidationErrors(t *testing.T) {
	cfg := testConfig(t)

	tests := []struct {
		name      string
		mutate    func(*order.Order)
		wantField string
	}{
		{"missing id", func(o *order.Order) { o.ID = 0 }, "id"},
		{"missing created_at", func(o *order.Order) { o.CreatedAt = time.Time{} }, "created_at"},
		{"negative total", func(o *order.Order) { o.TotalPrice = dec(t, "-1.00") }, "total_price"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := testOrder(t, "12.30", nil, nil)
			tt.mutate(o)

			_, err := Build(o, cfg)
			var vErr *order.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.wantField, vErr.Field)
		})
	}
}

func TestBuild_Deterministic(t *testing.T) {
	o := testOrder(t, "34.63", []order.Line{
		{Title: "Widget", Quantity: 3, Price: dec(t, "7.99"),
			TaxLines: []order.TaxLine{{Rate: dec(t, "0.23"), Amount: dec(t, "4.48")}}},
		{Title: "Gizmo", Quantity: 1, Price: dec(t, "10.66")},
	}, nil)
	cfg := testConfig(t)

	first, err := Build(o, cfg)
	require.NoError(t, err)
	second, err := Build(o, cfg)
	require.NoError(t, err)

	assert.Equal(t, first, second, "identical input must yield identical output")
}

func TestBuild_MultiQuantityRoundingAbsorbed(t *testing.T) {
	// Unit net 7.99/1.23 = 6.4959 rounds per unit; across quantity 3 the
	// accumulated drift must be absorbed by the adjustment entry.
	o := testOrder(t, "23.97", []order.Line{{
		Title:    "Widget",
		Quantity: 3,
		Price:    dec(t, "7.99"),
	}}, nil)

	entries, err := Build(o, testConfig(t))
	require.NoError(t, err)

	got := grossSum(entries)
	assert.InDelta(t, 2397, got, 1)
}
