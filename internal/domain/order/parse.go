package order

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// Parse decodes a webhook body into a validated Order.
//
// The commerce platform's JSON is loosely typed: monetary fields can arrive
// as strings ("12.30") or numbers (12.3), and nearly every key is optional.
// Parse absorbs that here, at the system boundary, so the rest of the service
// only ever sees well-typed, already-defaulted values. Missing or malformed
// required fields yield a *ValidationError naming the offending field.
func Parse(data []byte) (*Order, error) {
	d := jx.DecodeBytes(data)

	o := &Order{TaxesIncluded: true}
	var fallback Address
	hasBilling := false

	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			v, err := d.Int64()
			if err != nil {
				return &ValidationError{Field: "id", Reason: "not an integer"}
			}
			o.ID = v
		case "name":
			return decodeString(d, "name", &o.Name)
		case "created_at":
			var raw string
			if err := decodeString(d, "created_at", &raw); err != nil {
				return err
			}
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return &ValidationError{Field: "created_at", Reason: "not an RFC 3339 timestamp"}
			}
			o.CreatedAt = t
		case "currency":
			return decodeString(d, "currency", &o.Currency)
		case "total_price":
			return decodeMoney(d, "total_price", &o.TotalPrice)
		case "total_discounts":
			return decodeMoney(d, "total_discounts", &o.TotalDiscounts)
		case "taxes_included":
			v, err := d.Bool()
			if err != nil {
				return &ValidationError{Field: "taxes_included", Reason: "not a boolean"}
			}
			o.TaxesIncluded = v
		case "line_items":
			return d.Arr(func(d *jx.Decoder) error {
				line, err := parseLine(d)
				if err != nil {
					return err
				}
				o.LineItems = append(o.LineItems, line)
				return nil
			})
		case "shipping_lines":
			return d.Arr(func(d *jx.Decoder) error {
				sl, err := parseShippingLine(d)
				if err != nil {
					return err
				}
				o.ShippingLines = append(o.ShippingLines, sl)
				return nil
			})
		case "billing_address":
			if d.Next() == jx.Null {
				return d.Null()
			}
			addr, err := parseAddress(d)
			if err != nil {
				return err
			}
			o.BillingAddress = addr
			hasBilling = true
		case "customer":
			if d.Next() == jx.Null {
				return d.Null()
			}
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key != "default_address" || d.Next() == jx.Null {
					return d.Skip()
				}
				addr, err := parseAddress(d)
				if err != nil {
					return err
				}
				fallback = addr
				return nil
			})
		case "note_attributes":
			return d.Arr(func(d *jx.Decoder) error {
				var attr NoteAttribute
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					switch key {
					case "name":
						return decodeString(d, "note_attributes.name", &attr.Name)
					case "value":
						return decodeString(d, "note_attributes.value", &attr.Value)
					default:
						return d.Skip()
					}
				}); err != nil {
					return err
				}
				o.NoteAttributes = append(o.NoteAttributes, attr)
				return nil
			})
		default:
			return d.Skip()
		}
		return nil
	}); err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			return nil, vErr
		}
		return nil, &ValidationError{Field: "body", Reason: "malformed JSON"}
	}

	if !hasBilling {
		o.BillingAddress = fallback
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

func parseLine(d *jx.Decoder) (Line, error) {
	var line Line
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "title":
			return decodeString(d, "line_items.title", &line.Title)
		case "quantity":
			v, err := d.Int()
			if err != nil {
				return &ValidationError{Field: "line_items.quantity", Reason: "not an integer"}
			}
			line.Quantity = v
			return nil
		case "price":
			return decodeMoney(d, "line_items.price", &line.Price)
		case "tax_lines":
			return d.Arr(func(d *jx.Decoder) error {
				tl, err := parseTaxLine(d)
				if err != nil {
					return err
				}
				line.TaxLines = append(line.TaxLines, tl)
				return nil
			})
		case "discount_allocations":
			return d.Arr(func(d *jx.Decoder) error {
				var alloc DiscountAllocation
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					if key == "amount" {
						return decodeMoney(d, "discount_allocations.amount", &alloc.Amount)
					}
					return d.Skip()
				}); err != nil {
					return err
				}
				line.DiscountAllocations = append(line.DiscountAllocations, alloc)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	return line, err
}

func parseShippingLine(d *jx.Decoder) (ShippingLine, error) {
	var sl ShippingLine
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "title":
			return decodeString(d, "shipping_lines.title", &sl.Title)
		case "price":
			return decodeMoney(d, "shipping_lines.price", &sl.Price)
		case "discounted_price":
			if d.Next() == jx.Null {
				return d.Null()
			}
			var v decimal.Decimal
			if err := decodeMoney(d, "shipping_lines.discounted_price", &v); err != nil {
				return err
			}
			sl.DiscountedPrice = &v
			return nil
		case "tax_lines":
			return d.Arr(func(d *jx.Decoder) error {
				tl, err := parseTaxLine(d)
				if err != nil {
					return err
				}
				sl.TaxLines = append(sl.TaxLines, tl)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	return sl, err
}

func parseTaxLine(d *jx.Decoder) (TaxLine, error) {
	var tl TaxLine
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "rate":
			return decodeMoney(d, "tax_lines.rate", &tl.Rate)
		// Shopify names the tax amount "price"; other upstreams use "amount".
		case "price", "amount":
			return decodeMoney(d, "tax_lines."+key, &tl.Amount)
		default:
			return d.Skip()
		}
	})
	return tl, err
}

func parseAddress(d *jx.Decoder) (Address, error) {
	var a Address
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "first_name":
			return decodeString(d, key, &a.FirstName)
		case "last_name":
			return decodeString(d, key, &a.LastName)
		case "company":
			return decodeString(d, key, &a.Company)
		case "address1":
			return decodeString(d, key, &a.Street)
		case "address2":
			return decodeString(d, key, &a.FlatNumber)
		case "city":
			return decodeString(d, key, &a.City)
		case "zip":
			return decodeString(d, key, &a.PostCode)
		case "country":
			return decodeString(d, key, &a.Country)
		case "nip", "company_nip":
			return decodeString(d, key, &a.NIP)
		default:
			return d.Skip()
		}
	})
	return a, err
}

// decodeString reads a string value, treating null as empty.
func decodeString(d *jx.Decoder, field string, dst *string) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	v, err := d.Str()
	if err != nil {
		return &ValidationError{Field: field, Reason: "not a string"}
	}
	*dst = v
	return nil
}

// decodeMoney reads a monetary value that may be encoded as a JSON string or
// number. Null decodes to zero.
func decodeMoney(d *jx.Decoder, field string, dst *decimal.Decimal) error {
	switch d.Next() {
	case jx.String:
		raw, err := d.Str()
		if err != nil {
			return &ValidationError{Field: field, Reason: "not numeric"}
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return &ValidationError{Field: field, Reason: "not numeric"}
		}
		*dst = v
	case jx.Number:
		num, err := d.Num()
		if err != nil {
			return &ValidationError{Field: field, Reason: "not numeric"}
		}
		v, err := decimal.NewFromString(num.String())
		if err != nil {
			return &ValidationError{Field: field, Reason: "not numeric"}
		}
		*dst = v
	case jx.Null:
		return d.Null()
	default:
		return &ValidationError{Field: field, Reason: "not numeric"}
	}
	return nil
}
