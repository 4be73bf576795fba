// Package taxline converts an order's line items, shipping lines, and
// discounts into the service entries the accounting API consumes, reconciling
// rounding drift against the order's authoritative total.
//
// Build is pure: it performs no I/O, reads no globals, and is deterministic
// for identical input, so redelivered webhooks produce identical output.
package taxline

import (
	"fmt"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/shopfakt/internal/domain/order"
)

// DiscountMode selects how order discounts interact with per-line tax
// derivation. The upstream data supports several policies; which one applies
// is a per-shop business decision, so it is configuration rather than code.
type DiscountMode string

const (
	// DiscountAllocations subtracts each line's discount_allocations from its
	// gross amount. This is the default: it uses the platform's own
	// attribution and keeps per-line tax exact.
	DiscountAllocations DiscountMode = "allocations"
	// DiscountProrate spreads the order-level total discount across lines in
	// proportion to their pre-discount gross.
	DiscountProrate DiscountMode = "prorate"
	// DiscountTrailing leaves line amounts untouched and emits a single
	// negative "Rabat" entry for the order-level discount.
	DiscountTrailing DiscountMode = "trailing"
	// DiscountNone ignores discounts entirely.
	DiscountNone DiscountMode = "none"
)

// ServiceEntry is one invoice line in the accounting API's terms. Monetary
// fields are in minor currency units (grosze); Quantity and UnitNetPrice are
// signed so discount and correction entries can be negative.
type ServiceEntry struct {
	Name              string
	TaxSymbol         string
	Quantity          int
	UnitNetPrice      int64
	FlatRateTaxSymbol string

	// rate is the VAT fraction the entry was built with; the reconciliation
	// step needs it to predict the gross the accounting API will recompute.
	rate decimal.Decimal
}

// GrossTotal returns the gross amount, in minor units, the accounting API
// will derive from this entry: net total grossed up by the entry's rate.
func (e ServiceEntry) GrossTotal() int64 {
	net := decimal.NewFromInt(e.UnitNetPrice * int64(e.Quantity))
	return net.Mul(one.Add(e.rate)).Round(0).IntPart()
}

// Config controls rate inference, discount handling, and reconciliation.
// It is constructed once at startup and passed in explicitly; Build never
// reads process environment or any other global state.
type Config struct {
	// DefaultRate is the VAT fraction applied when a line carries no upstream
	// tax data, e.g. 0.23.
	DefaultRate decimal.Decimal
	// TaxesIncluded reports whether upstream prices are gross (tax-inclusive).
	// When false, prices are net and tax is added on top.
	TaxesIncluded bool
	// DiscountMode selects the discount-handling policy.
	DiscountMode DiscountMode
	// AdjustmentName names the synthetic entry emitted to close rounding
	// drift against the order total.
	AdjustmentName string
	// AdjustmentRate is the VAT fraction of the adjustment entry. Nil means
	// no rate is configured; reconciliation that needs an adjustment then
	// fails with ErrAdjustmentRateUnset.
	AdjustmentRate *decimal.Decimal
	// FlatRateTaxSymbol, when non-empty, is stamped on every entry (lump-sum
	// taxation shops).
	FlatRateTaxSymbol string
	// ZeroRateSymbol is the reserved tax code for zero/exempt rates,
	// typically "zw".
	ZeroRateSymbol string
}

// ErrAdjustmentRateUnset signals a configuration gap: reconciliation needed a
// synthetic adjustment entry but no adjustment VAT rate was configured.
var ErrAdjustmentRateUnset = errors.New("adjustment entry needed but no adjustment rate configured")

// ReconciliationError reports that the recomputed invoice total cannot be
// brought to the order total even with an adjustment entry. Given the sizing
// search in Build this should not occur; it exists so the impossible case is
// loud rather than silent.
type ReconciliationError struct {
	WantTotal int64
	GotTotal  int64
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("cannot reconcile invoice total: want %d, computed %d minor units", e.WantTotal, e.GotTotal)
}

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// reconcileTolerance is the residual, in minor units, below which no
// adjustment entry is emitted.
const reconcileTolerance = 1

// Build produces the ordered service entries for an order: one per eligible
// line item, one per paid shipping line, an optional trailing discount entry,
// and an optional reconciliation adjustment sized so the total the accounting
// API recomputes from the emitted nets matches the order total.
func Build(o *order.Order, cfg Config) ([]ServiceEntry, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}

	entries := make([]ServiceEntry, 0, len(o.LineItems)+len(o.ShippingLines)+2)

	prorateBase := decimal.Zero
	if cfg.DiscountMode == DiscountProrate {
		for _, li := range o.LineItems {
			if li.Quantity <= 0 {
				continue
			}
			prorateBase = prorateBase.Add(li.Price.Mul(decimal.NewFromInt(int64(li.Quantity))))
		}
	}

	for _, li := range o.LineItems {
		if li.Quantity <= 0 {
			continue
		}
		qty := decimal.NewFromInt(int64(li.Quantity))
		amount := li.Price.Mul(qty)

		switch cfg.DiscountMode {
		case DiscountAllocations:
			for _, alloc := range li.DiscountAllocations {
				amount = amount.Sub(alloc.Amount)
			}
		case DiscountProrate:
			if prorateBase.IsPositive() && o.TotalDiscounts.IsPositive() {
				share := li.Price.Mul(qty).Div(prorateBase)
				amount = amount.Sub(o.TotalDiscounts.Mul(share))
			}
		}

		rate := lineRate(li.TaxLines, cfg.DefaultRate)
		entries = append(entries, buildEntry(li.Title, li.Quantity, amount, rate, taxAmount(li.TaxLines), cfg))
	}

	for _, sl := range o.ShippingLines {
		price := sl.Price
		if sl.DiscountedPrice != nil {
			price = *sl.DiscountedPrice
		}
		if !price.IsPositive() {
			continue // free shipping
		}
		rate := lineRate(sl.TaxLines, cfg.DefaultRate)
		entries = append(entries, buildEntry(sl.Title, 1, price, rate, taxAmount(sl.TaxLines), cfg))
	}

	if cfg.DiscountMode == DiscountTrailing && o.TotalDiscounts.IsPositive() {
		rate := cfg.DefaultRate
		if cfg.AdjustmentRate != nil {
			rate = *cfg.AdjustmentRate
		}
		entry := buildEntry("Rabat", 1, o.TotalDiscounts.Neg(), rate, nil, cfg)
		entries = append(entries, entry)
	}

	return reconcile(entries, o.TotalPrice, cfg)
}

// reconcile compares the gross total the accounting API will recompute from
// the emitted entries against the order's authoritative total and, when the
// residual exceeds the tolerance, appends one synthetic entry sized to close
// the gap. A positive residual becomes a dopłata (surcharge), a negative one
// a rounding rebate.
func reconcile(entries []ServiceEntry, totalPrice decimal.Decimal, cfg Config) ([]ServiceEntry, error) {
	recomputed := int64(0)
	for _, e := range entries {
		recomputed += e.GrossTotal()
	}

	want := toMinor(totalPrice)
	diff := want - recomputed
	if diff >= -reconcileTolerance && diff <= reconcileTolerance {
		return entries, nil
	}

	if cfg.AdjustmentRate == nil {
		return nil, ErrAdjustmentRateUnset
	}
	rate := *cfg.AdjustmentRate

	net, ok := solveAdjustmentNet(diff, rate)
	if !ok {
		return nil, &ReconciliationError{WantTotal: want, GotTotal: recomputed}
	}

	entries = append(entries, ServiceEntry{
		Name:              cfg.AdjustmentName,
		TaxSymbol:         symbolFor(rate, cfg),
		Quantity:          1,
		UnitNetPrice:      net,
		FlatRateTaxSymbol: cfg.FlatRateTaxSymbol,
		rate:              rate,
	})
	return entries, nil
}

// solveAdjustmentNet finds a net amount, in minor units, whose grossed-up
// value at the given rate rounds to diff. The naive candidate diff/(1+rate)
// can land off after rounding, so nearby values are probed: an exact match
// wins, otherwise the closest candidate is accepted while it stays within
// the reconciliation tolerance. Not every residual is exactly representable
// at a non-zero rate; an adjustment rate of zero always closes exactly.
func solveAdjustmentNet(diff int64, rate decimal.Decimal) (int64, bool) {
	factor := one.Add(rate)
	base := decimal.NewFromInt(diff).Div(factor).Round(0).IntPart()

	var best, bestMiss int64 = 0, -1
	for _, delta := range []int64{0, 1, -1, 2, -2} {
		net := base + delta
		gross := decimal.NewFromInt(net).Mul(factor).Round(0).IntPart()
		miss := gross - diff
		if miss < 0 {
			miss = -miss
		}
		if miss == 0 {
			return net, true
		}
		if bestMiss < 0 || miss < bestMiss {
			best, bestMiss = net, miss
		}
	}
	if bestMiss >= 0 && bestMiss <= reconcileTolerance {
		return best, true
	}
	return 0, false
}

// buildEntry derives one service entry from an amount in major units.
//
// With tax-inclusive prices the amount is gross: tax is taken from the
// upstream tax-line amounts when present (exact) or derived from the rate
// (introduces rounding the reconciliation step absorbs). With tax-exclusive
// prices the amount already is the net.
func buildEntry(name string, quantity int, amount, rate decimal.Decimal, upstreamTax *decimal.Decimal, cfg Config) ServiceEntry {
	net := amount
	if cfg.TaxesIncluded {
		if upstreamTax != nil {
			net = amount.Sub(*upstreamTax)
		} else {
			net = amount.Div(one.Add(rate))
		}
	}

	qty := decimal.NewFromInt(int64(quantity))
	unitNet := toMinor(net.Div(qty))

	return ServiceEntry{
		Name:              name,
		TaxSymbol:         symbolFor(rate, cfg),
		Quantity:          quantity,
		UnitNetPrice:      unitNet,
		FlatRateTaxSymbol: cfg.FlatRateTaxSymbol,
		rate:              rate,
	}
}

// lineRate returns the applicable VAT fraction: the first upstream tax-line
// rate when present, else the configured default.
func lineRate(taxLines []order.TaxLine, fallback decimal.Decimal) decimal.Decimal {
	if len(taxLines) > 0 {
		return taxLines[0].Rate
	}
	return fallback
}

// taxAmount sums the upstream tax-line amounts, or returns nil when the
// upstream reported none so the caller derives tax from the rate instead.
func taxAmount(taxLines []order.TaxLine) *decimal.Decimal {
	if len(taxLines) == 0 {
		return nil
	}
	sum := decimal.Zero
	for _, tl := range taxLines {
		sum = sum.Add(tl.Amount)
	}
	return &sum
}

// symbolFor renders a VAT fraction as the accounting API's tax symbol: the
// rate as an integer percentage string, with a reserved code for zero/exempt.
func symbolFor(rate decimal.Decimal, cfg Config) string {
	if rate.IsZero() {
		if cfg.ZeroRateSymbol != "" {
			return cfg.ZeroRateSymbol
		}
		return "0"
	}
	pct := rate.Mul(hundred).Round(0).IntPart()
	return strconv.FormatInt(pct, 10)
}

// toMinor converts a major-unit amount to minor units with round-half-up.
func toMinor(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}
