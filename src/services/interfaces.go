// src/services/interfaces.go
package services

import (
	"context"
	"errors"
	"io"

	"github.com/username/payfolio/src/models"
)

// Define common service errors
var (
	ErrReportNotFound    = errors.New("report not found")
	ErrReportNotEditable = errors.New("report can no longer receive files")
)

// UploadOutcome is the result of ingesting one report file: the stored
// file row plus the raw extraction result. Warning is set for the
// ambiguous zero-amount case (file parsed fine but no amounts qualified).
type UploadOutcome struct {
	File       models.ReportFile        `json:"file"`
	Extraction *models.ExtractionResult `json:"extraction"`
	Warning    string                   `json:"warning,omitempty"`
}

// ReportService ingests uploaded report files and serves report reads.
// Status transitions are NOT its business; those belong to the workflow
// engine exclusively.
type ReportService interface {
	// ProcessUpload extracts one file synchronously and attaches it to the
	// given report, or to a new processing report when reportID is 0.
	ProcessUpload(ctx context.Context, fileReader io.Reader, userID, reportID int64, fileName, reportDate string) (*UploadOutcome, error)

	GetReport(ctx context.Context, reportID int64) (*models.Report, error)
	ListReportsByUser(ctx context.Context, userID int64) ([]models.Report, error)
	ListReportsByStatus(ctx context.Context, status models.ReportStatus) ([]models.Report, error)
	GetPaymentByReport(ctx context.Context, reportID int64) (*models.Payment, error)
	GetPayment(ctx context.Context, paymentID int64) (*models.Payment, error)
	ListProofsByPayment(ctx context.Context, paymentID int64) ([]models.PaymentProof, error)
	GetHistory(ctx context.Context, entityType string, entityID int64) ([]models.StatusHistory, error)
}
