// Package invoice assembles accounting-API invoice requests from parsed
// orders and their computed service entries.
package invoice

import (
	"github.com/xenking/shopfakt/internal/domain/order"
	"github.com/xenking/shopfakt/internal/taxline"
)

// Kinds of invoice the accounting API accepts.
const (
	KindVAT        = "vat"
	KindCorrection = "correction"
)

// Business activity kinds for the invoice client.
const (
	ActivityPrivatePerson = "private_person"
	ActivityOtherBusiness = "other_business"
)

const dateLayout = "2006-01-02"

// Config holds the invoice-level settings shared by all requests.
type Config struct {
	// Series is the invoice numbering series, e.g. "A".
	Series string
	// PaymentMethod is the method stamped on every invoice, e.g. "transfer".
	PaymentMethod string
	// DueDays is the payment term: due date = order creation + DueDays.
	DueDays int
}

// Client holds the buyer fields of an invoice.
type Client struct {
	FirstName            string
	LastName             string
	CompanyName          string
	Street               string
	FlatNumber           string
	City                 string
	PostCode             string
	BusinessActivityKind string
	TaxCode              string
}

// Request is one invoice-creation (or correction) request body, prior to
// JSON encoding.
type Request struct {
	Kind           string
	Series         string
	Status         string
	SellDate       string
	IssueDate      string
	PaymentDueDate string
	PaymentMethod  string
	Currency       string
	// ExternalID ties the invoice back to the originating order so
	// corrections and support lookups can find it.
	ExternalID string
	Client     Client
	Services   []taxline.ServiceEntry
}

// BuildRequest constructs a VAT invoice request for an order. Sell and issue
// dates are the order's creation date; the due date follows cfg.DueDays later.
func BuildRequest(o *order.Order, services []taxline.ServiceEntry, cfg Config) *Request {
	sellDate := o.CreatedAt.Format(dateLayout)

	return &Request{
		Kind:           KindVAT,
		Series:         cfg.Series,
		Status:         "issued",
		SellDate:       sellDate,
		IssueDate:      sellDate,
		PaymentDueDate: o.CreatedAt.AddDate(0, 0, cfg.DueDays).Format(dateLayout),
		PaymentMethod:  cfg.PaymentMethod,
		Currency:       o.Currency,
		ExternalID:     o.Name,
		Client:         buildClient(o),
		Services:       services,
	}
}

// BuildCorrection constructs a correction request for a refunded order: the
// same invoice shape with every service quantity negated, so the correction
// cancels the original amounts.
func BuildCorrection(o *order.Order, services []taxline.ServiceEntry, cfg Config) *Request {
	negated := make([]taxline.ServiceEntry, len(services))
	for i, s := range services {
		s.Quantity = -s.Quantity
		negated[i] = s
	}

	req := BuildRequest(o, negated, cfg)
	req.Kind = KindCorrection
	return req
}

// buildClient maps the order's billing address to invoice client fields.
// A buyer with a resolvable tax id is invoiced as a business, everyone else
// as a private person.
func buildClient(o *order.Order) Client {
	addr := o.BillingAddress

	c := Client{
		FirstName:            addr.FirstName,
		LastName:             addr.LastName,
		CompanyName:          addr.Company,
		Street:               addr.Street,
		FlatNumber:           addr.FlatNumber,
		City:                 addr.City,
		PostCode:             addr.PostCode,
		BusinessActivityKind: ActivityPrivatePerson,
	}

	if nip := ExtractTaxID(o); nip != "" {
		c.TaxCode = nip
		c.BusinessActivityKind = ActivityOtherBusiness
	}
	return c
}
