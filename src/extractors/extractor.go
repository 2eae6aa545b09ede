// src/extractors/extractor.go
package extractors

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/username/payfolio/src/models"
)

var (
	// ErrUnsupportedFileType means the file extension is not .csv/.html/.htm.
	// The file must be replaced; sibling files in a batch are unaffected.
	ErrUnsupportedFileType = errors.New("unsupported file type")

	// ErrMalformedDocument means the bytes could not be read as a CSV table
	// or HTML tag tree. Recoverable via re-upload.
	ErrMalformedDocument = errors.New("malformed document")
)

// Extract turns an uploaded file's bytes into a validated monetary total.
// It is pure and deterministic for identical input bytes and performs no
// I/O beyond the provided slice. A result with an empty MatchedColumn and
// no amounts is not an error here; the caller decides whether that is a
// validation failure.
func Extract(data []byte, fileName string) (*models.ExtractionResult, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return extractCSV(data, fileName)
	case ".html", ".htm":
		return extractHTML(data, fileName)
	default:
		return nil, fmt.Errorf("%w: %q (expected .csv, .html or .htm)", ErrUnsupportedFileType, fileName)
	}
}

// cleanNumeric strips every character except digits, '.', and a single
// leading '-' so that values like "₹1,234.50" or " 100.50 " parse cleanly.
func cleanNumeric(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == '-' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// parseAmount cleans and parses a raw cell value. Unparseable values and
// values <= 0 are rejected: intentional noise filtering, not a failure.
func parseAmount(raw string) (decimal.Decimal, bool) {
	cleaned := cleanNumeric(raw)
	if cleaned == "" || cleaned == "-" {
		return decimal.Zero, false
	}
	value, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	if value.Sign() <= 0 {
		return decimal.Zero, false
	}
	return value, true
}

// sumAmounts computes the file total at currency precision (2 dp).
func sumAmounts(amounts []models.ExtractedAmount) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a.Value)
	}
	return total.Round(2)
}
