// src/workflow/actions.go
package workflow

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/username/payfolio/src/models"
)

// All status transitions in the system go through Engine.Apply with one of
// these actions. Nothing else is allowed to write status columns, so the
// legal transitions and their side effects live in a single module.

type Action interface {
	isAction()
}

// SubmitReport moves a report from processing to pending_approval once all
// of its files have finished extraction, fixing the report total.
type SubmitReport struct {
	ReportID int64
	ActorID  int64
}

// ApproveReport is a manager decision on a pending report.
type ApproveReport struct {
	ReportID int64
	ActorID  int64
	Comments string
}

// RejectReport is a manager decision; Comments become the rejection reason
// and are required.
type RejectReport struct {
	ReportID int64
	ActorID  int64
	Comments string
}

// UploadProof records the user's payment method choice and their uploaded
// proof document, creating the payment on first use or re-opening a
// rejected one on resubmission.
type UploadProof struct {
	ReportID int64
	ActorID  int64
	Method   models.PaymentMethod
	Amount   decimal.Decimal
	FileURL  string
	FileType string
}

// ApproveProof completes the payment.
type ApproveProof struct {
	ProofID  int64
	ActorID  int64
	Comments string
}

// RejectProof sends the payment back to the user; Comments are required.
type RejectProof struct {
	ProofID  int64
	ActorID  int64
	Comments string
}

// ClearPendingPayment deletes a payment (and its proofs) so the user can
// restart the payment flow. Only legal while the payment is pending or
// rejected. Irreversible.
type ClearPendingPayment struct {
	PaymentID int64
	ActorID   int64
}

func (SubmitReport) isAction()        {}
func (ApproveReport) isAction()       {}
func (RejectReport) isAction()        {}
func (UploadProof) isAction()         {}
func (ApproveProof) isAction()        {}
func (RejectProof) isAction()         {}
func (ClearPendingPayment) isAction() {}

// Outcome describes an applied (or idempotently skipped) transition.
type Outcome struct {
	// Applied is false when the action had already been applied by the
	// same actor and this invocation was a no-op (e.g. a double click).
	Applied        bool   `json:"applied"`
	EntityType     string `json:"entity_type"`
	EntityID       int64  `json:"entity_id"`
	PreviousStatus string `json:"previous_status,omitempty"`
	NewStatus      string `json:"new_status"`
}

var (
	// ErrInvalidTransition means the requested change is not legal from the
	// entity's current state, or a concurrent update won the race. The
	// caller should refetch and present the now-current state; never retry
	// automatically.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrIncompleteUpload means submission was attempted before every file
	// of the report finished processing. Retryable once they complete.
	ErrIncompleteUpload = errors.New("report has files still processing")

	// ErrNoAmountColumn means none of the report's files yielded a
	// qualifying amount column; the user must correct the source files.
	ErrNoAmountColumn = errors.New("no amount column found in any uploaded file")

	// ErrNotFound means the entity the action targets does not exist.
	ErrNotFound = errors.New("entity not found")
)
