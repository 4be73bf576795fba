// Package order defines the strictly typed order aggregate received from the
// commerce platform's webhooks. Orders arrive once per delivery, are read-only,
// and are discarded after the request cycle; nothing here is persisted.
package order

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TaxLine is a single tax applied to a line item or shipping charge.
// Rate is a decimal fraction in [0,1]; Amount is the tax amount in major
// currency units as reported upstream.
type TaxLine struct {
	Rate   decimal.Decimal
	Amount decimal.Decimal
}

// DiscountAllocation is a portion of an order-level discount attributed to a
// specific line item by the commerce platform.
type DiscountAllocation struct {
	Amount decimal.Decimal
}

// Line represents one purchased item as reported upstream. Immutable once
// received.
type Line struct {
	Title               string
	Quantity            int
	Price               decimal.Decimal
	TaxLines            []TaxLine
	DiscountAllocations []DiscountAllocation
}

// ShippingLine represents a shipping charge. DiscountedPrice, when present,
// takes precedence over Price.
type ShippingLine struct {
	Title           string
	Price           decimal.Decimal
	DiscountedPrice *decimal.Decimal
	TaxLines        []TaxLine
}

// Address holds the billing (or fallback customer) address fields used to fill
// invoice client data. NIP carries the structured tax-id field when the shop
// collects it; free-text extraction from Company and note attributes happens
// downstream.
type Address struct {
	FirstName  string
	LastName   string
	Company    string
	Street     string
	FlatNumber string
	City       string
	PostCode   string
	Country    string
	NIP        string
}

// Order is the input aggregate parsed from a webhook delivery.
type Order struct {
	ID             int64
	Name           string
	CreatedAt      time.Time
	Currency       string
	TotalPrice     decimal.Decimal
	TotalDiscounts decimal.Decimal
	TaxesIncluded  bool
	LineItems      []Line
	ShippingLines  []ShippingLine
	BillingAddress Address

	// NoteAttributes holds the order's custom note attributes in delivery
	// order. Some shops put the buyer's tax id here.
	NoteAttributes []NoteAttribute
}

// NoteAttribute is a single name/value pair from the order's note attributes.
type NoteAttribute struct {
	Name  string
	Value string
}

// ValidationError reports a missing or malformed required order field. The
// delivery must be rejected; the accounting API is never called with a
// partially built payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid order: field %q is missing or malformed", e.Field)
	}
	return fmt.Sprintf("invalid order: field %q: %s", e.Field, e.Reason)
}

// Validate checks the fields every downstream consumer relies on. Parse
// already enforces these; Validate exists so a hand-constructed Order goes
// through the same gate.
func (o *Order) Validate() error {
	if o.ID == 0 {
		return &ValidationError{Field: "id"}
	}
	if o.CreatedAt.IsZero() {
		return &ValidationError{Field: "created_at"}
	}
	if o.TotalPrice.IsNegative() {
		return &ValidationError{Field: "total_price", Reason: "must not be negative"}
	}
	return nil
}
