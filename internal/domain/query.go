package domain

import (
	"sort"
	"strconv"
	"strings"
)

// Query is the retrieval-side view of a transaction record: a flat text
// query for the dense and lexical arms plus the structured fields that
// drive boosts. Built per transaction, never persisted.
type Query struct {
	Text   string
	Fields map[string]string
	// Amount is the numeric value of the "amount" field, when coercible.
	Amount    float64
	HasAmount bool
}

// QueryFromRecord builds a Query from a loose field map. Field names are
// lower-cased, empty values dropped, and a field literally named "amount"
// is coerced to a number when possible. The text query concatenates all
// non-empty values in field-name order so identical records always produce
// identical queries.
func QueryFromRecord(record map[string]string) Query {
	q := Query{Fields: make(map[string]string, len(record))}

	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, key := range keys {
		value := strings.TrimSpace(record[key])
		if value == "" {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(key))
		q.Fields[name] = value
		if name == "amount" {
			if v, err := strconv.ParseFloat(value, 64); err == nil {
				q.Amount = v
				q.HasAmount = true
				parts = append(parts, strconv.FormatFloat(v, 'f', -1, 64))
				continue
			}
			if v, ok := NormalizeAmount(value); ok {
				q.Amount = v
				q.HasAmount = true
			}
		}
		parts = append(parts, value)
	}
	q.Text = strings.Join(parts, " ")
	return q
}

// QueryFromTransaction derives a Query from a normalized transaction.
func QueryFromTransaction(txn Transaction) Query {
	record := map[string]string{
		"date":           txn.RawDate,
		"vendor":         txn.VendorName,
		"description":    txn.Description,
		"invoice_number": txn.InvoiceRef(),
	}
	if !txn.Amount.IsZero() {
		record["amount"] = txn.Amount.String()
	}
	return QueryFromRecord(record)
}

// Vendor returns the structured vendor field, if any.
func (q Query) Vendor() string { return q.Fields["vendor"] }

// Date returns the structured date field, if any.
func (q Query) Date() string { return q.Fields["date"] }

// InvoiceNumber returns the structured invoice number field, if any.
func (q Query) InvoiceNumber() string { return q.Fields["invoice_number"] }

// Tokens returns the lexical query tokens (lower-cased whitespace split).
func (q Query) Tokens() []string { return Tokenize(q.Text) }
