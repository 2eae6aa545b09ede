package models

import "github.com/shopspring/decimal"

// ExtractedAmount is a single parsed monetary value with provenance.
// Created during extraction, never mutated, discarded after being folded
// into a report total.
type ExtractedAmount struct {
	Value        decimal.Decimal `json:"value"`
	SourceFile   string          `json:"source_file"`
	SourceColumn string          `json:"source_column"`
}

// ExtractionResult is the output of processing one uploaded file.
// Invariant: Total == sum(Amounts[*].Value) rounded to 2 decimal places,
// and every Value is > 0 (zero/negative values are filtered as noise).
type ExtractionResult struct {
	FileName string `json:"file_name"`
	FileKind string `json:"file_kind"` // "html" or "csv"

	// MatchedColumn is the header identified as the amount column, empty
	// if none was found (a validation failure upstream, not a parse error).
	MatchedColumn string            `json:"matched_column,omitempty"`
	Amounts       []ExtractedAmount `json:"amounts"`
	Total         decimal.Decimal   `json:"total"`
}
