package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var domainRegex = regexp.MustCompile(`@([\w.-]+)`)

// Transaction is a normalized financial record to reconcile. Boundary inputs
// are loose string maps; normalization happens once here, not per access.
type Transaction struct {
	ID            string
	Date          time.Time
	RawDate       string
	Amount        decimal.Decimal
	VendorName    string
	VendorDomain  string
	Description   string
	InvoiceNumber string
}

// recordAliases maps the column names seen in the wild onto canonical fields.
var recordAliases = map[string]string{
	"transaction_id": "id",
	"transactionid":  "id",
	"invoice number": "invoice_number",
	"invoice_number": "invoice_number",
	"vendor":         "vendor_name",
	"vendor_name":    "vendor_name",
	"vendorname":     "vendor_name",
	"vendor domain":  "vendor_domain",
	"vendor_domain":  "vendor_domain",
	"memo":           "description",
	"description":    "description",
	"date":           "date",
	"amount":         "amount",
	"id":             "id",
}

// TransactionFromRecord normalizes a loose field map (CSV row, API payload)
// into a Transaction. Field names are matched case-insensitively through the
// alias table; unknown fields are ignored.
func TransactionFromRecord(record map[string]string) (Transaction, error) {
	var txn Transaction
	for key, value := range record {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		canonical, ok := recordAliases[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			continue
		}
		switch canonical {
		case "id":
			txn.ID = value
		case "date":
			txn.RawDate = value
			if t, ok := ParseDate(value); ok {
				txn.Date = t
			}
		case "amount":
			amt, err := decimal.NewFromString(strings.NewReplacer("$", "", ",", "").Replace(value))
			if err != nil {
				v, ok := NormalizeAmount(value)
				if !ok {
					return Transaction{}, fmt.Errorf("%w: amount %q", ErrInvalidTransaction, value)
				}
				amt = decimal.NewFromFloat(v)
			}
			txn.Amount = amt
		case "vendor_name":
			txn.VendorName = value
		case "vendor_domain":
			txn.VendorDomain = strings.ToLower(value)
		case "invoice_number":
			txn.InvoiceNumber = strings.ToUpper(value)
		case "description":
			txn.Description = value
		}
	}
	if txn.ID == "" {
		return Transaction{}, fmt.Errorf("%w: missing transaction id", ErrInvalidTransaction)
	}
	return txn, nil
}

// InvoiceRef returns the reference used for invoice matching. Ledger
// exports routinely put the invoice number in the transaction id column,
// so the id takes precedence over an explicit invoice field.
func (t Transaction) InvoiceRef() string {
	if t.ID != "" {
		return t.ID
	}
	return t.InvoiceNumber
}

// AmountFloat returns the amount as a float64 for score arithmetic.
func (t Transaction) AmountFloat() float64 {
	f, _ := t.Amount.Float64()
	return f
}

// dateLayouts are tried in order when parsing loosely formatted dates.
var dateLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"Jan 2 2006",
	"Jan 2, 2006",
	"2 Jan 2006",
	"January 2 2006",
	"2006-01-02 15:04:05",
}

// ParseDate parses a date string against the known layouts.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ExtractDomain pulls the domain out of an email address, lower-cased.
// Returns "" when the input has no @-part.
func ExtractDomain(address string) string {
	m := domainRegex.FindStringSubmatch(address)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

// NormalizeText collapses whitespace and lower-cases for keyword matching.
var whitespaceRegex = regexp.MustCompile(`\s+`)

func NormalizeText(s string) string {
	return whitespaceRegex.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " ")
}
