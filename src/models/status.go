package models

import "fmt"

// Status fields are closed types. Raw strings coming from the database or
// from clients must pass through the Parse* functions; unknown values are
// rejected at this boundary instead of being carried around.

// ReportStatus is the lifecycle state of a report.
type ReportStatus string

const (
	ReportStatusPending         ReportStatus = "pending"
	ReportStatusProcessing      ReportStatus = "processing"
	ReportStatusPendingApproval ReportStatus = "pending_approval"
	ReportStatusApproved        ReportStatus = "approved"
	ReportStatusRejected        ReportStatus = "rejected"
	ReportStatusPaid            ReportStatus = "paid"
	ReportStatusFailed          ReportStatus = "failed"
)

var reportStatuses = map[ReportStatus]bool{
	ReportStatusPending:         true,
	ReportStatusProcessing:      true,
	ReportStatusPendingApproval: true,
	ReportStatusApproved:        true,
	ReportStatusRejected:        true,
	ReportStatusPaid:            true,
	ReportStatusFailed:          true,
}

func ParseReportStatus(s string) (ReportStatus, error) {
	if reportStatuses[ReportStatus(s)] {
		return ReportStatus(s), nil
	}
	return "", fmt.Errorf("unknown report status %q", s)
}

// PaymentStatus is the lifecycle state of a payment attempt.
// "rejected" is part of the set: a rejected proof moves its payment here
// and the user may either resubmit a proof or clear the payment.
type PaymentStatus string

const (
	PaymentStatusPending         PaymentStatus = "pending"
	PaymentStatusPendingApproval PaymentStatus = "pending_approval"
	PaymentStatusProcessing      PaymentStatus = "processing"
	PaymentStatusCompleted       PaymentStatus = "completed"
	PaymentStatusRejected        PaymentStatus = "rejected"
	PaymentStatusFailed          PaymentStatus = "failed"
	PaymentStatusRefunded        PaymentStatus = "refunded"
	PaymentStatusPartial         PaymentStatus = "partial"
)

var paymentStatuses = map[PaymentStatus]bool{
	PaymentStatusPending:         true,
	PaymentStatusPendingApproval: true,
	PaymentStatusProcessing:      true,
	PaymentStatusCompleted:       true,
	PaymentStatusRejected:        true,
	PaymentStatusFailed:          true,
	PaymentStatusRefunded:        true,
	PaymentStatusPartial:         true,
}

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	if paymentStatuses[PaymentStatus(s)] {
		return PaymentStatus(s), nil
	}
	return "", fmt.Errorf("unknown payment status %q", s)
}

// PaymentMethod identifies how the user intends to pay. All methods go
// through the same proof-upload flow; there is no instant completion path.
type PaymentMethod string

const (
	PaymentMethodCreditCard PaymentMethod = "credit_card"
	PaymentMethodUPI        PaymentMethod = "upi"
	PaymentMethodNetBanking PaymentMethod = "net_banking"
	PaymentMethodOffline    PaymentMethod = "offline"
)

var paymentMethods = map[PaymentMethod]bool{
	PaymentMethodCreditCard: true,
	PaymentMethodUPI:        true,
	PaymentMethodNetBanking: true,
	PaymentMethodOffline:    true,
}

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	if paymentMethods[PaymentMethod(s)] {
		return PaymentMethod(s), nil
	}
	return "", fmt.Errorf("unknown payment method %q", s)
}

// ProofStatus is the review state of an uploaded payment proof.
type ProofStatus string

const (
	ProofStatusPendingApproval ProofStatus = "pending_approval"
	ProofStatusApproved        ProofStatus = "approved"
	ProofStatusRejected        ProofStatus = "rejected"
)

var proofStatuses = map[ProofStatus]bool{
	ProofStatusPendingApproval: true,
	ProofStatusApproved:        true,
	ProofStatusRejected:        true,
}

func ParseProofStatus(s string) (ProofStatus, error) {
	if proofStatuses[ProofStatus(s)] {
		return ProofStatus(s), nil
	}
	return "", fmt.Errorf("unknown proof status %q", s)
}

// FileStatus tracks a single uploaded report file through extraction.
type FileStatus string

const (
	FileStatusUploading  FileStatus = "uploading"
	FileStatusProcessing FileStatus = "processing"
	FileStatusCompleted  FileStatus = "completed"
	FileStatusError      FileStatus = "error"
)

var fileStatuses = map[FileStatus]bool{
	FileStatusUploading:  true,
	FileStatusProcessing: true,
	FileStatusCompleted:  true,
	FileStatusError:      true,
}

func ParseFileStatus(s string) (FileStatus, error) {
	if fileStatuses[FileStatus(s)] {
		return FileStatus(s), nil
	}
	return "", fmt.Errorf("unknown file status %q", s)
}
