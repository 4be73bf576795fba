package invoice

import (
	"strings"

	"github.com/xenking/shopfakt/internal/domain/order"
)

// nipWeights are the checksum weights for the first nine digits of a Polish
// NIP; the weighted sum mod 11 must equal the tenth digit.
var nipWeights = [9]int{6, 5, 7, 2, 3, 4, 5, 6, 7}

// ExtractTaxID resolves the buyer's tax id (NIP) from an order, checking in
// priority order: the structured address field, the free-text company field,
// and the order's note attributes. Shops collect the NIP in wildly different
// places, so every candidate source is scanned and only checksum-valid
// values are accepted.
func ExtractTaxID(o *order.Order) string {
	if nip := normalizeNIP(o.BillingAddress.NIP); nip != "" {
		return nip
	}
	if nip := scanForNIP(o.BillingAddress.Company); nip != "" {
		return nip
	}
	for _, attr := range o.NoteAttributes {
		name := strings.ToLower(attr.Name)
		if !strings.Contains(name, "nip") && !strings.Contains(name, "tax") {
			continue
		}
		if nip := scanForNIP(attr.Value); nip != "" {
			return nip
		}
	}
	return ""
}

// normalizeNIP strips an optional country prefix and separators from a value
// that is supposed to be a NIP, returning the bare ten digits, or "" when the
// value does not validate.
func normalizeNIP(s string) string {
	s = strings.TrimSpace(s)
	if upper := strings.ToUpper(s); strings.HasPrefix(upper, "PL") {
		s = s[2:]
	}

	var digits strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '-' || r == ' ' || r == '.':
			// separators are fine
		default:
			return ""
		}
	}

	nip := digits.String()
	if validNIP(nip) {
		return nip
	}
	return ""
}

// scanForNIP finds a checksum-valid NIP embedded in free text, e.g.
// "Firma Sp. z o.o., NIP: 123-456-32-18". Digit runs may be broken by
// dashes or spaces; any other character terminates the candidate.
func scanForNIP(s string) string {
	var run []byte
	flush := func() string {
		if len(run) == 10 && validNIP(string(run)) {
			return string(run)
		}
		return ""
	}

	for i := range len(s) {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			run = append(run, c)
		case c == '-' || c == ' ':
			if len(run) == 0 {
				continue
			}
			// A separator only continues a candidate when digits follow.
			if i+1 < len(s) && s[i+1] >= '0' && s[i+1] <= '9' {
				continue
			}
			if nip := flush(); nip != "" {
				return nip
			}
			run = run[:0]
		default:
			if nip := flush(); nip != "" {
				return nip
			}
			run = run[:0]
		}
	}
	return flush()
}

// validNIP reports whether s is exactly ten digits with a correct checksum.
func validNIP(s string) bool {
	if len(s) != 10 {
		return false
	}
	sum := 0
	for i, w := range nipWeights {
		d := int(s[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		sum += d * w
	}
	check := sum % 11
	if check == 10 {
		return false
	}
	return check == int(s[9]-'0')
}
