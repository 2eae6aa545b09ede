package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Report is a user's submission package: one or more uploaded files
// requesting payment processing. TotalAmount is fixed at submission time
// from the sum of the constituent files' extracted totals and is never
// recomputed afterwards.
type Report struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	Filename        string          `json:"filename"`
	ReportDate      string          `json:"report_date"` // YYYY-MM-DD
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Status          ReportStatus    `json:"status"`
	ManagerComments string          `json:"manager_comments,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`

	// Populated on detail endpoints.
	Files []ReportFile `json:"files,omitempty"`
}

// ReportFile is one uploaded file belonging to a report, with its
// extraction outcome.
type ReportFile struct {
	ID            int64           `json:"id"`
	ReportID      int64           `json:"report_id"`
	FileName      string          `json:"file_name"`
	FileURL       string          `json:"file_url"`
	FileKind      string          `json:"file_kind"` // "html" or "csv"
	Status        FileStatus      `json:"status"`
	MatchedColumn string          `json:"matched_column,omitempty"`
	AmountCount   int             `json:"amount_count"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Payment is one payment attempt tied to a report.
type Payment struct {
	ID              int64           `json:"id"`
	ReportID        int64           `json:"report_id"`
	UserID          int64           `json:"user_id"`
	Amount          decimal.Decimal `json:"amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	Method          PaymentMethod   `json:"method"`
	Status          PaymentStatus   `json:"status"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// PaymentProof is an uploaded document evidencing that a payment was made.
// Rejected proofs are kept; resubmission creates a new row so the full
// review trail stays visible.
type PaymentProof struct {
	ID              int64           `json:"id"`
	PaymentID       int64           `json:"payment_id"`
	ReportID        int64           `json:"report_id"`
	UserID          int64           `json:"user_id"`
	FileURL         string          `json:"file_url"`
	FileType        string          `json:"file_type"` // pdf, jpg, jpeg, png
	Amount          decimal.Decimal `json:"amount"`
	Status          ProofStatus     `json:"status"`
	ManagerComments string          `json:"manager_comments,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// StatusHistory is an audit entry recorded on every applied transition.
type StatusHistory struct {
	ID             int64     `json:"id"`
	EntityType     string    `json:"entity_type"` // "report", "payment", "payment_proof"
	EntityID       int64     `json:"entity_id"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	ActorID        int64     `json:"actor_id"`
	Comments       string    `json:"comments,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Notification is a fire-and-forget message to a user about a state change.
// Only the read flag is mutated after creation.
type Notification struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Data      string    `json:"data,omitempty"` // JSON payload
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification types emitted by the workflow engine.
const (
	NotificationReportSubmitted = "report_submitted"
	NotificationReportApproved  = "report_approved"
	NotificationReportRejected  = "report_rejected"
	NotificationProofSubmitted  = "payment_proof_submitted"
	NotificationProofApproved   = "payment_proof_approved"
	NotificationProofRejected   = "payment_proof_rejected"
	NotificationPaymentCleared  = "payment_cleared"
)
