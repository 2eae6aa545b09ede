// src/extractors/csv.go
package extractors

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/username/payfolio/src/models"
)

// extractCSV parses delimited text with a header row and pulls amounts
// from the matched column. Rows whose value is unparseable or <= 0 are
// skipped silently.
func extractCSV(data []byte, fileName string) (*models.ExtractionResult, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1 // Allow variable number of fields per record

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: CSV file %q has no rows", ErrMalformedDocument, fileName)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read CSV header of %q: %v", ErrMalformedDocument, fileName, err)
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read CSV records of %q: %v", ErrMalformedDocument, fileName, err)
	}

	result := &models.ExtractionResult{
		FileName: fileName,
		FileKind: "csv",
		Amounts:  []models.ExtractedAmount{},
	}

	col, _ := matchAmountColumn(header)
	if col < 0 {
		result.Total = sumAmounts(result.Amounts)
		return result, nil
	}
	result.MatchedColumn = header[col]

	for _, record := range records {
		if col >= len(record) {
			continue
		}
		value, ok := parseAmount(record[col])
		if !ok {
			continue
		}
		result.Amounts = append(result.Amounts, models.ExtractedAmount{
			Value:        value,
			SourceFile:   fileName,
			SourceColumn: result.MatchedColumn,
		})
	}

	result.Total = sumAmounts(result.Amounts)
	return result, nil
}
