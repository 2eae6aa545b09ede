// src/workflow/engine.go
package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/username/payfolio/src/logger"
	"github.com/username/payfolio/src/models"
)

// Cache keys invalidated whenever a transition is applied. The handlers
// populate these with the same format strings.
const (
	CkUserReports  = "wf_reports_user_%d"
	CkManagerQueue = "wf_manager_queue"
	CkAdminStats   = "wf_admin_stats"
)

// Notifier dispatches notifications after a transition commits.
// Implementations must be fire-and-forget: a dispatch failure is logged
// and never rolls back the underlying state change.
type Notifier interface {
	NotifyUser(ctx context.Context, userID int64, ntype, title, message, data string)
	NotifyManagers(ctx context.Context, ntype, title, message, data string)
}

// Engine is the single authority for report/payment/proof status writes.
// Every mutation is a single-row conditional update keyed on the expected
// prior status, so concurrent actors race safely: whoever commits first
// wins and the loser gets ErrInvalidTransition.
type Engine struct {
	db          *sql.DB
	notifier    Notifier
	statusCache *cache.Cache
}

func NewEngine(db *sql.DB, notifier Notifier, statusCache *cache.Cache) *Engine {
	return &Engine{
		db:          db,
		notifier:    notifier,
		statusCache: statusCache,
	}
}

// Apply executes one workflow action. The returned Outcome has
// Applied=false when the same actor had already applied this exact
// transition (duplicate invocation tolerance); a conflicting state reached
// by someone else yields ErrInvalidTransition instead.
func (e *Engine) Apply(ctx context.Context, action Action) (*Outcome, error) {
	switch a := action.(type) {
	case SubmitReport:
		return e.submitReport(ctx, a)
	case ApproveReport:
		return e.decideReport(ctx, a.ReportID, a.ActorID, a.Comments, models.ReportStatusApproved)
	case RejectReport:
		return e.decideReport(ctx, a.ReportID, a.ActorID, a.Comments, models.ReportStatusRejected)
	case UploadProof:
		return e.uploadProof(ctx, a)
	case ApproveProof:
		return e.approveProof(ctx, a)
	case RejectProof:
		return e.rejectProof(ctx, a)
	case ClearPendingPayment:
		return e.clearPendingPayment(ctx, a)
	default:
		return nil, fmt.Errorf("unknown workflow action %T", action)
	}
}

// --- report transitions ---

func (e *Engine) submitReport(ctx context.Context, a SubmitReport) (*Outcome, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error beginning database transaction: %w", err)
	}
	defer tx.Rollback()

	// Files are read in the same transaction that flips the status, so the
	// fixed total covers every file present at submission.
	rows, err := tx.QueryContext(ctx, `
		SELECT status, matched_column, total_amount
		FROM report_files WHERE report_id = ?`, a.ReportID)
	if err != nil {
		return nil, fmt.Errorf("failed to load files for report %d: %w", a.ReportID, err)
	}
	defer rows.Close()

	var (
		fileCount  int
		notDone    int
		matchedAny bool
		total      = decimal.Zero
	)
	for rows.Next() {
		var status, matchedColumn, totalStr string
		if err := rows.Scan(&status, &matchedColumn, &totalStr); err != nil {
			return nil, fmt.Errorf("failed to scan file row for report %d: %w", a.ReportID, err)
		}
		fileCount++
		if models.FileStatus(status) != models.FileStatusCompleted {
			notDone++
		}
		if matchedColumn != "" {
			matchedAny = true
		}
		fileTotal, err := decimal.NewFromString(totalStr)
		if err != nil {
			return nil, fmt.Errorf("corrupt total %q on a file of report %d: %w", totalStr, a.ReportID, err)
		}
		total = total.Add(fileTotal)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// The tx is bound to one connection; release it before the next query.
	rows.Close()
	if fileCount == 0 {
		return nil, fmt.Errorf("%w: report %d has no uploaded files", ErrIncompleteUpload, a.ReportID)
	}
	if notDone > 0 {
		return nil, fmt.Errorf("%w: %d of %d files of report %d have not finished extraction",
			ErrIncompleteUpload, notDone, fileCount, a.ReportID)
	}
	if !matchedAny {
		return nil, fmt.Errorf("%w: report %d cannot be submitted, correct the source files and re-upload",
			ErrNoAmountColumn, a.ReportID)
	}

	var ownerID int64
	var filename string
	err = tx.QueryRowContext(ctx, `SELECT user_id, filename FROM reports WHERE id = ?`, a.ReportID).
		Scan(&ownerID, &filename)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: report %d", ErrNotFound, a.ReportID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load report %d: %w", a.ReportID, err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE reports SET status = ?, total_amount = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?`,
		string(models.ReportStatusPendingApproval), total.Round(2).String(),
		a.ReportID, string(models.ReportStatusProcessing))
	if err != nil {
		return nil, fmt.Errorf("failed to submit report %d: %w", a.ReportID, err)
	}
	if !rowsChanged(res) {
		return e.noOpOrInvalid(ctx, tx, "report", a.ReportID, "submit",
			string(models.ReportStatusPendingApproval), a.ActorID)
	}
	if err := insertHistory(ctx, tx, "report", a.ReportID,
		string(models.ReportStatusProcessing), string(models.ReportStatusPendingApproval),
		a.ActorID, ""); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing submit of report %d: %w", a.ReportID, err)
	}

	e.invalidateCaches(ownerID)
	e.notifier.NotifyManagers(ctx, models.NotificationReportSubmitted,
		"Report submitted for approval",
		fmt.Sprintf("Report %q (total %s) is awaiting review.", filename, total.Round(2).StringFixed(2)),
		entityData("report_id", a.ReportID))

	return &Outcome{
		Applied:        true,
		EntityType:     "report",
		EntityID:       a.ReportID,
		PreviousStatus: string(models.ReportStatusProcessing),
		NewStatus:      string(models.ReportStatusPendingApproval),
	}, nil
}

// decideReport handles the manager approve/reject decision; both share the
// pending_approval guard and differ only in the target status and the
// column the comments land in.
func (e *Engine) decideReport(ctx context.Context, reportID, actorID int64, comments string, target models.ReportStatus) (*Outcome, error) {
	if target == models.ReportStatusRejected && strings.TrimSpace(comments) == "" {
		return nil, fmt.Errorf("rejecting report %d requires comments explaining the reason", reportID)
	}

	var ownerID int64
	var filename string
	err := e.db.QueryRowContext(ctx, `SELECT user_id, filename FROM reports WHERE id = ?`, reportID).
		Scan(&ownerID, &filename)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: report %d", ErrNotFound, reportID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load report %d: %w", reportID, err)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error beginning database transaction: %w", err)
	}
	defer tx.Rollback()

	var res sql.Result
	if target == models.ReportStatusApproved {
		res, err = tx.ExecContext(ctx, `
			UPDATE reports SET status = ?, manager_comments = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND status = ?`,
			string(target), comments, reportID, string(models.ReportStatusPendingApproval))
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE reports SET status = ?, manager_comments = ?, rejection_reason = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND status = ?`,
			string(target), comments, comments, reportID, string(models.ReportStatusPendingApproval))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update report %d: %w", reportID, err)
	}
	if !rowsChanged(res) {
		actionName := "approve"
		if target == models.ReportStatusRejected {
			actionName = "reject"
		}
		return e.noOpOrInvalid(ctx, tx, "report", reportID, actionName, string(target), actorID)
	}
	if err := insertHistory(ctx, tx, "report", reportID,
		string(models.ReportStatusPendingApproval), string(target), actorID, comments); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing decision on report %d: %w", reportID, err)
	}

	e.invalidateCaches(ownerID)
	if target == models.ReportStatusApproved {
		e.notifier.NotifyUser(ctx, ownerID, models.NotificationReportApproved,
			"Report approved",
			fmt.Sprintf("Your report %q was approved. You can now proceed to payment.", filename),
			entityData("report_id", reportID))
	} else {
		e.notifier.NotifyUser(ctx, ownerID, models.NotificationReportRejected,
			"Report rejected",
			fmt.Sprintf("Your report %q was rejected: %s", filename, comments),
			entityData("report_id", reportID))
	}

	return &Outcome{
		Applied:        true,
		EntityType:     "report",
		EntityID:       reportID,
		PreviousStatus: string(models.ReportStatusPendingApproval),
		NewStatus:      string(target),
	}, nil
}

// --- payment / proof transitions ---

func (e *Engine) uploadProof(ctx context.Context, a UploadProof) (*Outcome, error) {
	var reportStatus string
	var ownerID int64
	err := e.db.QueryRowContext(ctx, `SELECT status, user_id FROM reports WHERE id = ?`, a.ReportID).
		Scan(&reportStatus, &ownerID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: report %d", ErrNotFound, a.ReportID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load report %d: %w", a.ReportID, err)
	}
	if models.ReportStatus(reportStatus) != models.ReportStatusApproved {
		return nil, fmt.Errorf("%w: report %d is %q, payment requires an approved report",
			ErrInvalidTransition, a.ReportID, reportStatus)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error beginning database transaction: %w", err)
	}
	defer tx.Rollback()

	var paymentID int64
	var previous string
	var existingStatus string
	err = tx.QueryRowContext(ctx, `SELECT id, status FROM payments WHERE report_id = ?`, a.ReportID).
		Scan(&paymentID, &existingStatus)
	switch {
	case err == sql.ErrNoRows:
		transactionID := uuid.New().String()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO payments (report_id, user_id, amount, remaining_amount, method, status, transaction_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.ReportID, a.ActorID, a.Amount.Round(2).String(), a.Amount.Round(2).String(),
			string(a.Method), string(models.PaymentStatusPendingApproval), transactionID)
		if err != nil {
			// The unique index on payments.report_id guards the create race.
			if strings.Contains(strings.ToLower(err.Error()), "unique constraint failed") {
				return nil, fmt.Errorf("%w: a payment already exists for report %d", ErrInvalidTransition, a.ReportID)
			}
			return nil, fmt.Errorf("failed to create payment for report %d: %w", a.ReportID, err)
		}
		paymentID, err = res.LastInsertId()
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("failed to look up payment for report %d: %w", a.ReportID, err)
	default:
		switch models.PaymentStatus(existingStatus) {
		case models.PaymentStatusPending, models.PaymentStatusRejected:
			res, err := tx.ExecContext(ctx, `
				UPDATE payments SET status = ?, method = ?, updated_at = CURRENT_TIMESTAMP
				WHERE id = ? AND status IN (?, ?)`,
				string(models.PaymentStatusPendingApproval), string(a.Method), paymentID,
				string(models.PaymentStatusPending), string(models.PaymentStatusRejected))
			if err != nil {
				return nil, fmt.Errorf("failed to reopen payment %d: %w", paymentID, err)
			}
			if !rowsChanged(res) {
				return nil, fmt.Errorf("%w: payment %d changed state concurrently, refresh and retry",
					ErrInvalidTransition, paymentID)
			}
			previous = existingStatus
		case models.PaymentStatusPendingApproval:
			return nil, fmt.Errorf("%w: a proof for report %d is already awaiting review",
				ErrInvalidTransition, a.ReportID)
		default:
			return nil, fmt.Errorf("%w: payment for report %d is %q and cannot accept a new proof",
				ErrInvalidTransition, a.ReportID, existingStatus)
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO payment_proofs (payment_id, report_id, user_id, file_url, file_type, amount, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		paymentID, a.ReportID, a.ActorID, a.FileURL, a.FileType,
		a.Amount.Round(2).String(), string(models.ProofStatusPendingApproval))
	if err != nil {
		return nil, fmt.Errorf("failed to record payment proof for payment %d: %w", paymentID, err)
	}
	proofID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	if err := insertHistory(ctx, tx, "payment", paymentID,
		previous, string(models.PaymentStatusPendingApproval), a.ActorID, ""); err != nil {
		return nil, err
	}
	if err := insertHistory(ctx, tx, "payment_proof", proofID,
		"", string(models.ProofStatusPendingApproval), a.ActorID, ""); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing proof upload for payment %d: %w", paymentID, err)
	}

	e.invalidateCaches(ownerID)
	e.notifier.NotifyManagers(ctx, models.NotificationProofSubmitted,
		"Payment proof submitted",
		fmt.Sprintf("A payment proof for report %d (amount %s) is awaiting review.",
			a.ReportID, a.Amount.Round(2).StringFixed(2)),
		entityData("proof_id", proofID))

	return &Outcome{
		Applied:        true,
		EntityType:     "payment_proof",
		EntityID:       proofID,
		PreviousStatus: previous,
		NewStatus:      string(models.ProofStatusPendingApproval),
	}, nil
}

func (e *Engine) approveProof(ctx context.Context, a ApproveProof) (*Outcome, error) {
	proof, err := e.loadProof(ctx, a.ProofID)
	if err != nil {
		return nil, err
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error beginning database transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE payment_proofs SET status = ?, manager_comments = ?
		WHERE id = ? AND status = ?`,
		string(models.ProofStatusApproved), a.Comments, a.ProofID,
		string(models.ProofStatusPendingApproval))
	if err != nil {
		return nil, fmt.Errorf("failed to approve proof %d: %w", a.ProofID, err)
	}
	if !rowsChanged(res) {
		return e.noOpOrInvalid(ctx, tx, "payment_proof", a.ProofID,
			"approve", string(models.ProofStatusApproved), a.ActorID)
	}

	// Cascade: approving the proof completes the payment; the report's
	// paid status is advisory, driven by the payment's terminal state.
	payRes, err := tx.ExecContext(ctx, `
		UPDATE payments SET status = ?, remaining_amount = '0', updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?`,
		string(models.PaymentStatusCompleted), proof.PaymentID,
		string(models.PaymentStatusPendingApproval))
	if err != nil {
		return nil, fmt.Errorf("failed to complete payment %d: %w", proof.PaymentID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE reports SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?`,
		string(models.ReportStatusPaid), proof.ReportID,
		string(models.ReportStatusApproved)); err != nil {
		return nil, fmt.Errorf("failed to mark report %d paid: %w", proof.ReportID, err)
	}

	if err := insertHistory(ctx, tx, "payment_proof", a.ProofID,
		string(models.ProofStatusPendingApproval), string(models.ProofStatusApproved),
		a.ActorID, a.Comments); err != nil {
		return nil, err
	}
	if rowsChanged(payRes) {
		if err := insertHistory(ctx, tx, "payment", proof.PaymentID,
			string(models.PaymentStatusPendingApproval), string(models.PaymentStatusCompleted),
			a.ActorID, ""); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing approval of proof %d: %w", a.ProofID, err)
	}

	e.invalidateCaches(proof.UserID)
	e.notifier.NotifyUser(ctx, proof.UserID, models.NotificationProofApproved,
		"Payment proof approved",
		fmt.Sprintf("Your payment proof for report %d was approved. The payment is complete.", proof.ReportID),
		entityData("proof_id", a.ProofID))

	return &Outcome{
		Applied:        true,
		EntityType:     "payment_proof",
		EntityID:       a.ProofID,
		PreviousStatus: string(models.ProofStatusPendingApproval),
		NewStatus:      string(models.ProofStatusApproved),
	}, nil
}

func (e *Engine) rejectProof(ctx context.Context, a RejectProof) (*Outcome, error) {
	if strings.TrimSpace(a.Comments) == "" {
		return nil, fmt.Errorf("rejecting proof %d requires comments explaining the reason", a.ProofID)
	}
	proof, err := e.loadProof(ctx, a.ProofID)
	if err != nil {
		return nil, err
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error beginning database transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE payment_proofs SET status = ?, manager_comments = ?
		WHERE id = ? AND status = ?`,
		string(models.ProofStatusRejected), a.Comments, a.ProofID,
		string(models.ProofStatusPendingApproval))
	if err != nil {
		return nil, fmt.Errorf("failed to reject proof %d: %w", a.ProofID, err)
	}
	if !rowsChanged(res) {
		return e.noOpOrInvalid(ctx, tx, "payment_proof", a.ProofID,
			"reject", string(models.ProofStatusRejected), a.ActorID)
	}

	payRes, err := tx.ExecContext(ctx, `
		UPDATE payments SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?`,
		string(models.PaymentStatusRejected), proof.PaymentID,
		string(models.PaymentStatusPendingApproval))
	if err != nil {
		return nil, fmt.Errorf("failed to reject payment %d: %w", proof.PaymentID, err)
	}

	if err := insertHistory(ctx, tx, "payment_proof", a.ProofID,
		string(models.ProofStatusPendingApproval), string(models.ProofStatusRejected),
		a.ActorID, a.Comments); err != nil {
		return nil, err
	}
	if rowsChanged(payRes) {
		if err := insertHistory(ctx, tx, "payment", proof.PaymentID,
			string(models.PaymentStatusPendingApproval), string(models.PaymentStatusRejected),
			a.ActorID, ""); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing rejection of proof %d: %w", a.ProofID, err)
	}

	e.invalidateCaches(proof.UserID)
	e.notifier.NotifyUser(ctx, proof.UserID, models.NotificationProofRejected,
		"Payment proof rejected",
		fmt.Sprintf("Your payment proof for report %d was rejected: %s. You may upload a new proof.",
			proof.ReportID, a.Comments),
		entityData("proof_id", a.ProofID))

	return &Outcome{
		Applied:        true,
		EntityType:     "payment_proof",
		EntityID:       a.ProofID,
		PreviousStatus: string(models.ProofStatusPendingApproval),
		NewStatus:      string(models.ProofStatusRejected),
	}, nil
}

func (e *Engine) clearPendingPayment(ctx context.Context, a ClearPendingPayment) (*Outcome, error) {
	var reportID, ownerID int64
	var status string
	err := e.db.QueryRowContext(ctx, `SELECT report_id, user_id, status FROM payments WHERE id = ?`, a.PaymentID).
		Scan(&reportID, &ownerID, &status)
	if err == sql.ErrNoRows {
		// Tolerate a duplicate clear from the same actor.
		actor, found, lookupErr := e.lastTransitionActor(ctx, e.db, "payment", a.PaymentID, "cleared")
		if lookupErr != nil {
			return nil, lookupErr
		}
		if found && actor == a.ActorID {
			return &Outcome{EntityType: "payment", EntityID: a.PaymentID, NewStatus: "cleared"}, nil
		}
		return nil, fmt.Errorf("%w: payment %d", ErrNotFound, a.PaymentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment %d: %w", a.PaymentID, err)
	}
	if s := models.PaymentStatus(status); s != models.PaymentStatusPending && s != models.PaymentStatusRejected {
		return nil, fmt.Errorf("%w: payment %d is %q, only pending or rejected payments can be cleared",
			ErrInvalidTransition, a.PaymentID, status)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error beginning database transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM payment_proofs WHERE payment_id = ?`, a.PaymentID); err != nil {
		return nil, fmt.Errorf("failed to clear proofs of payment %d: %w", a.PaymentID, err)
	}
	res, err := tx.ExecContext(ctx, `
		DELETE FROM payments WHERE id = ? AND status IN (?, ?)`,
		a.PaymentID, string(models.PaymentStatusPending), string(models.PaymentStatusRejected))
	if err != nil {
		return nil, fmt.Errorf("failed to clear payment %d: %w", a.PaymentID, err)
	}
	if !rowsChanged(res) {
		return nil, fmt.Errorf("%w: payment %d changed state concurrently, refresh and retry",
			ErrInvalidTransition, a.PaymentID)
	}
	if err := insertHistory(ctx, tx, "payment", a.PaymentID, status, "cleared", a.ActorID, ""); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing clear of payment %d: %w", a.PaymentID, err)
	}

	e.invalidateCaches(ownerID)
	e.notifier.NotifyUser(ctx, ownerID, models.NotificationPaymentCleared,
		"Payment cleared",
		fmt.Sprintf("Your pending payment for report %d was cleared. You can restart the payment flow.", reportID),
		entityData("report_id", reportID))

	return &Outcome{
		Applied:        true,
		EntityType:     "payment",
		EntityID:       a.PaymentID,
		PreviousStatus: status,
		NewStatus:      "cleared",
	}, nil
}

// --- helpers ---

type proofRow struct {
	PaymentID int64
	ReportID  int64
	UserID    int64
	Status    string
}

func (e *Engine) loadProof(ctx context.Context, proofID int64) (*proofRow, error) {
	var p proofRow
	err := e.db.QueryRowContext(ctx, `
		SELECT payment_id, report_id, user_id, status FROM payment_proofs WHERE id = ?`, proofID).
		Scan(&p.PaymentID, &p.ReportID, &p.UserID, &p.Status)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: payment proof %d", ErrNotFound, proofID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load proof %d: %w", proofID, err)
	}
	return &p, nil
}

// noOpOrInvalid resolves a conditional update that affected zero rows.
// If the entity already sits in the target state and the same actor put it
// there, the duplicate invocation is a no-op; otherwise the action lost a
// race or was illegal to begin with.
func (e *Engine) noOpOrInvalid(ctx context.Context, tx *sql.Tx, entityType string, entityID int64, actionName, target string, actorID int64) (*Outcome, error) {
	var current string
	var table string
	switch entityType {
	case "report":
		table = "reports"
	case "payment":
		table = "payments"
	case "payment_proof":
		table = "payment_proofs"
	}
	err := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT status FROM %s WHERE id = ?`, table), entityID).
		Scan(&current)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s %d", ErrNotFound, entityType, entityID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to re-read %s %d: %w", entityType, entityID, err)
	}

	if current == target {
		actor, found, err := e.lastTransitionActor(ctx, tx, entityType, entityID, target)
		if err != nil {
			return nil, err
		}
		if found && actor == actorID {
			logger.L.Info("Duplicate workflow action ignored",
				"entityType", entityType, "entityID", entityID, "action", actionName, "actorID", actorID)
			return &Outcome{
				EntityType: entityType,
				EntityID:   entityID,
				NewStatus:  current,
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s %d is %q, cannot %s", ErrInvalidTransition, entityType, entityID, current, actionName)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (e *Engine) lastTransitionActor(ctx context.Context, q querier, entityType string, entityID int64, newStatus string) (int64, bool, error) {
	var actor int64
	err := q.QueryRowContext(ctx, `
		SELECT actor_id FROM status_history
		WHERE entity_type = ? AND entity_id = ? AND new_status = ?
		ORDER BY id DESC LIMIT 1`, entityType, entityID, newStatus).Scan(&actor)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up transition history of %s %d: %w", entityType, entityID, err)
	}
	return actor, true, nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, entityType string, entityID int64, previous, next string, actorID int64, comments string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO status_history (entity_type, entity_id, previous_status, new_status, actor_id, comments)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entityType, entityID, previous, next, actorID, comments)
	if err != nil {
		return fmt.Errorf("failed to record history for %s %d: %w", entityType, entityID, err)
	}
	return nil
}

func rowsChanged(res sql.Result) bool {
	n, err := res.RowsAffected()
	return err == nil && n > 0
}

func (e *Engine) invalidateCaches(userID int64) {
	if e.statusCache == nil {
		return
	}
	e.statusCache.Delete(fmt.Sprintf(CkUserReports, userID))
	e.statusCache.Delete(CkManagerQueue)
	e.statusCache.Delete(CkAdminStats)
}

func entityData(key string, id int64) string {
	data, _ := json.Marshal(map[string]int64{key: id})
	return string(data)
}
