package invoice

import (
	"github.com/go-faster/jx"
)

// Encode renders the request as the accounting API's JSON body: the invoice
// document wrapped under an "invoice" key with client fields flattened and
// service entries under "services".
func (r *Request) Encode() []byte {
	var e jx.Encoder

	e.ObjStart()
	e.FieldStart("invoice")
	e.ObjStart()

	e.FieldStart("kind")
	e.Str(r.Kind)
	e.FieldStart("series")
	e.Str(r.Series)
	e.FieldStart("status")
	e.Str(r.Status)
	e.FieldStart("sell_date")
	e.Str(r.SellDate)
	e.FieldStart("issue_date")
	e.Str(r.IssueDate)
	e.FieldStart("payment_due_date")
	e.Str(r.PaymentDueDate)
	e.FieldStart("payment_method")
	e.Str(r.PaymentMethod)
	e.FieldStart("currency")
	e.Str(r.Currency)
	if r.ExternalID != "" {
		e.FieldStart("external_id")
		e.Str(r.ExternalID)
	}

	e.FieldStart("client_first_name")
	e.Str(r.Client.FirstName)
	e.FieldStart("client_last_name")
	e.Str(r.Client.LastName)
	e.FieldStart("client_company_name")
	e.Str(r.Client.CompanyName)
	e.FieldStart("client_street")
	e.Str(r.Client.Street)
	e.FieldStart("client_flat_number")
	e.Str(r.Client.FlatNumber)
	e.FieldStart("client_city")
	e.Str(r.Client.City)
	e.FieldStart("client_post_code")
	e.Str(r.Client.PostCode)
	e.FieldStart("client_business_activity_kind")
	e.Str(r.Client.BusinessActivityKind)
	if r.Client.TaxCode != "" {
		e.FieldStart("client_tax_code")
		e.Str(r.Client.TaxCode)
	}

	e.FieldStart("services")
	e.ArrStart()
	for _, s := range r.Services {
		e.ObjStart()
		e.FieldStart("name")
		e.Str(s.Name)
		e.FieldStart("tax_symbol")
		e.Str(s.TaxSymbol)
		e.FieldStart("quantity")
		e.Int(s.Quantity)
		e.FieldStart("unit_net_price")
		e.Int64(s.UnitNetPrice)
		if s.FlatRateTaxSymbol != "" {
			e.FieldStart("flat_rate_tax_symbol")
			e.Str(s.FlatRateTaxSymbol)
		}
		e.ObjEnd()
	}
	e.ArrEnd()

	e.ObjEnd()
	e.ObjEnd()

	return e.Bytes()
}
