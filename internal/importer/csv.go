package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/ledgerlens/ledgerlens/internal/domain"
)

// CSVParser parses header-driven transaction CSV exports. Column names are
// matched case-insensitively against the known aliases (transaction_id, date,
// amount, vendor_name, description, invoice_number and their variants);
// unrecognized columns pass through unchanged and are ignored downstream.
type CSVParser struct{}

// Format returns the parser name.
func (p *CSVParser) Format() string { return "csv" }

// Parse reads a transaction CSV and returns normalized transactions.
// The first row is the header. Rows with a bad amount or a missing
// transaction id fail the whole import with the row number in the error.
func (p *CSVParser) Parse(r io.Reader) ([]domain.Transaction, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var txns []domain.Transaction
	for row := 2; ; row++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}

		record := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				record[col] = rec[i]
			}
		}

		txn, err := domain.TransactionFromRecord(record)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		txns = append(txns, txn)
	}
	return txns, nil
}

// ParseRecords normalizes already-decoded field maps (an API payload) into
// transactions, failing on the first invalid entry.
func ParseRecords(records []map[string]string) ([]domain.Transaction, error) {
	txns := make([]domain.Transaction, 0, len(records))
	for i, record := range records {
		txn, err := domain.TransactionFromRecord(record)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		txns = append(txns, txn)
	}
	return txns, nil
}
