package workflow

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/payfolio/src/logger"
	"github.com/username/payfolio/src/models"
	_ "modernc.org/sqlite"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

const testSchema = `
CREATE TABLE reports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	filename TEXT NOT NULL DEFAULT '',
	report_date TEXT NOT NULL DEFAULT '',
	total_amount TEXT NOT NULL DEFAULT '0',
	status TEXT NOT NULL,
	manager_comments TEXT NOT NULL DEFAULT '',
	rejection_reason TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE report_files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	report_id INTEGER NOT NULL,
	file_name TEXT NOT NULL DEFAULT '',
	file_url TEXT NOT NULL DEFAULT '',
	file_kind TEXT NOT NULL DEFAULT 'csv',
	status TEXT NOT NULL,
	matched_column TEXT NOT NULL DEFAULT '',
	amount_count INTEGER NOT NULL DEFAULT 0,
	total_amount TEXT NOT NULL DEFAULT '0',
	error_message TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE payments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	report_id INTEGER NOT NULL UNIQUE,
	user_id INTEGER NOT NULL,
	amount TEXT NOT NULL,
	remaining_amount TEXT NOT NULL,
	method TEXT NOT NULL,
	status TEXT NOT NULL,
	transaction_id TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE payment_proofs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	payment_id INTEGER NOT NULL,
	report_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	file_url TEXT NOT NULL DEFAULT '',
	file_type TEXT NOT NULL DEFAULT 'pdf',
	amount TEXT NOT NULL,
	status TEXT NOT NULL,
	manager_comments TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE status_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_type TEXT NOT NULL,
	entity_id INTEGER NOT NULL,
	previous_status TEXT NOT NULL DEFAULT '',
	new_status TEXT NOT NULL,
	actor_id INTEGER NOT NULL,
	comments TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// stubNotifier records dispatched notifications for assertions.
type stubNotifier struct {
	mu      sync.Mutex
	entries []stubNotification
}

type stubNotification struct {
	UserID int64 // 0 for manager broadcasts
	Type   string
}

func (s *stubNotifier) NotifyUser(_ context.Context, userID int64, ntype, _, _, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, stubNotification{UserID: userID, Type: ntype})
}

func (s *stubNotifier) NotifyManagers(_ context.Context, ntype, _, _, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, stubNotification{Type: ntype})
}

func (s *stubNotifier) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func newTestEngine(t *testing.T) (*Engine, *sql.DB, *stubNotifier) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	notifier := &stubNotifier{}
	engine := NewEngine(db, notifier, cache.New(cache.NoExpiration, 0))
	return engine, db, notifier
}

func insertReport(t *testing.T, db *sql.DB, userID int64, status models.ReportStatus, total string) int64 {
	t.Helper()
	res, err := db.Exec(`
		INSERT INTO reports (user_id, filename, report_date, total_amount, status)
		VALUES (?, 'expenses.csv', '2024-06-01', ?, ?)`, userID, total, string(status))
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func insertFile(t *testing.T, db *sql.DB, reportID int64, status models.FileStatus, matchedColumn, total string) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO report_files (report_id, file_name, status, matched_column, total_amount)
		VALUES (?, 'f.csv', ?, ?, ?)`, reportID, string(status), matchedColumn, total)
	require.NoError(t, err)
}

func reportStatus(t *testing.T, db *sql.DB, reportID int64) string {
	t.Helper()
	var status string
	require.NoError(t, db.QueryRow(`SELECT status FROM reports WHERE id = ?`, reportID).Scan(&status))
	return status
}

func historyCount(t *testing.T, db *sql.DB, entityType string, entityID int64) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`
		SELECT COUNT(*) FROM status_history WHERE entity_type = ? AND entity_id = ?`,
		entityType, entityID).Scan(&n))
	return n
}

func TestSubmitReport(t *testing.T) {
	engine, db, notifier := newTestEngine(t)
	ctx := context.Background()

	reportID := insertReport(t, db, 1, models.ReportStatusProcessing, "0")
	insertFile(t, db, reportID, models.FileStatusCompleted, "Total_Amount_Charged", "100.50")
	insertFile(t, db, reportID, models.FileStatusCompleted, "Total Amount Charged", "200")

	outcome, err := engine.Apply(ctx, SubmitReport{ReportID: reportID, ActorID: 1})
	require.NoError(t, err)
	assert.True(t, outcome.Applied)
	assert.Equal(t, string(models.ReportStatusPendingApproval), outcome.NewStatus)

	assert.Equal(t, string(models.ReportStatusPendingApproval), reportStatus(t, db, reportID))

	var total string
	require.NoError(t, db.QueryRow(`SELECT total_amount FROM reports WHERE id = ?`, reportID).Scan(&total))
	assert.True(t, decimal.RequireFromString(total).Equal(decimal.RequireFromString("300.50")), "got %s", total)

	assert.Equal(t, 1, historyCount(t, db, "report", reportID))
	assert.Equal(t, 1, notifier.count())
}

func TestSubmitReportWithUnfinishedFiles(t *testing.T) {
	engine, db, _ := newTestEngine(t)
	ctx := context.Background()

	reportID := insertReport(t, db, 1, models.ReportStatusProcessing, "0")
	insertFile(t, db, reportID, models.FileStatusCompleted, "amount", "10")
	insertFile(t, db, reportID, models.FileStatusProcessing, "", "0")

	_, err := engine.Apply(ctx, SubmitReport{ReportID: reportID, ActorID: 1})
	assert.ErrorIs(t, err, ErrIncompleteUpload)
	assert.Equal(t, string(models.ReportStatusProcessing), reportStatus(t, db, reportID))
}

func TestSubmitReportWithoutFiles(t *testing.T) {
	engine, db, _ := newTestEngine(t)

	reportID := insertReport(t, db, 1, models.ReportStatusProcessing, "0")

	_, err := engine.Apply(context.Background(), SubmitReport{ReportID: reportID, ActorID: 1})
	assert.ErrorIs(t, err, ErrIncompleteUpload)
}

func TestSubmitReportNoAmountColumn(t *testing.T) {
	engine, db, _ := newTestEngine(t)

	reportID := insertReport(t, db, 1, models.ReportStatusProcessing, "0")
	insertFile(t, db, reportID, models.FileStatusCompleted, "", "0")

	_, err := engine.Apply(context.Background(), SubmitReport{ReportID: reportID, ActorID: 1})
	assert.ErrorIs(t, err, ErrNoAmountColumn)
}

func TestApproveReport(t *testing.T) {
	engine, db, notifier := newTestEngine(t)
	ctx := context.Background()

	reportID := insertReport(t, db, 7, models.ReportStatusPendingApproval, "300.50")

	outcome, err := engine.Apply(ctx, ApproveReport{ReportID: reportID, ActorID: 2, Comments: "looks good"})
	require.NoError(t, err)
	assert.True(t, outcome.Applied)
	assert.Equal(t, string(models.ReportStatusApproved), reportStatus(t, db, reportID))
	assert.Equal(t, 1, historyCount(t, db, "report", reportID))
	require.Equal(t, 1, notifier.count())
	assert.Equal(t, int64(7), notifier.entries[0].UserID)
	assert.Equal(t, models.NotificationReportApproved, notifier.entries[0].Type)
}

func TestDuplicateApproveBySameActorIsNoOp(t *testing.T) {
	engine, db, notifier := newTestEngine(t)
	ctx := context.Background()

	reportID := insertReport(t, db, 7, models.ReportStatusPendingApproval, "100")

	first, err := engine.Apply(ctx, ApproveReport{ReportID: reportID, ActorID: 2})
	require.NoError(t, err)
	assert.True(t, first.Applied)

	// Same actor, same action: tolerated as a duplicate delivery.
	second, err := engine.Apply(ctx, ApproveReport{ReportID: reportID, ActorID: 2})
	require.NoError(t, err)
	assert.False(t, second.Applied)

	assert.Equal(t, 1, historyCount(t, db, "report", reportID))
	assert.Equal(t, 1, notifier.count())
}

func TestApproveByDifferentActorAfterApproveFails(t *testing.T) {
	engine, db, _ := newTestEngine(t)
	ctx := context.Background()

	reportID := insertReport(t, db, 7, models.ReportStatusPendingApproval, "100")

	_, err := engine.Apply(ctx, ApproveReport{ReportID: reportID, ActorID: 2})
	require.NoError(t, err)

	_, err = engine.Apply(ctx, ApproveReport{ReportID: reportID, ActorID: 3})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRejectApprovedReportFails(t *testing.T) {
	engine, db, notifier := newTestEngine(t)
	ctx := context.Background()

	reportID := insertReport(t, db, 7, models.ReportStatusPendingApproval, "100")

	_, err := engine.Apply(ctx, ApproveReport{ReportID: reportID, ActorID: 2})
	require.NoError(t, err)
	notificationsBefore := notifier.count()

	_, err = engine.Apply(ctx, RejectReport{ReportID: reportID, ActorID: 3, Comments: "wrong totals"})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// The failed rejection must leave no trace.
	assert.Equal(t, string(models.ReportStatusApproved), reportStatus(t, db, reportID))
	assert.Equal(t, 1, historyCount(t, db, "report", reportID))
	assert.Equal(t, notificationsBefore, notifier.count())
}

func TestRejectRequiresComments(t *testing.T) {
	engine, db, _ := newTestEngine(t)

	reportID := insertReport(t, db, 7, models.ReportStatusPendingApproval, "100")

	_, err := engine.Apply(context.Background(), RejectReport{ReportID: reportID, ActorID: 2, Comments: "  "})
	require.Error(t, err)
	assert.Equal(t, string(models.ReportStatusPendingApproval), reportStatus(t, db, reportID))
}

func TestRejectStoresReason(t *testing.T) {
	engine, db, _ := newTestEngine(t)

	reportID := insertReport(t, db, 7, models.ReportStatusPendingApproval, "100")

	_, err := engine.Apply(context.Background(), RejectReport{ReportID: reportID, ActorID: 2, Comments: "receipts missing"})
	require.NoError(t, err)

	var reason string
	require.NoError(t, db.QueryRow(`SELECT rejection_reason FROM reports WHERE id = ?`, reportID).Scan(&reason))
	assert.Equal(t, "receipts missing", reason)
}

func TestConcurrentApprovalsExactlyOneWins(t *testing.T) {
	engine, db, notifier := newTestEngine(t)
	ctx := context.Background()

	reportID := insertReport(t, db, 7, models.ReportStatusPendingApproval, "100")

	type result struct {
		outcome *Outcome
		err     error
	}
	results := make([]result, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome, err := engine.Apply(ctx, ApproveReport{ReportID: reportID, ActorID: int64(10 + i)})
			results[i] = result{outcome, err}
		}(i)
	}
	wg.Wait()

	applied, conflicts := 0, 0
	for _, r := range results {
		switch {
		case r.err == nil && r.outcome.Applied:
			applied++
		case assert.ErrorIs(t, r.err, ErrInvalidTransition):
			conflicts++
		}
	}
	assert.Equal(t, 1, applied, "exactly one approval must win")
	assert.Equal(t, 1, conflicts, "the loser must see a conflict")
	assert.Equal(t, 1, historyCount(t, db, "report", reportID))
	assert.Equal(t, 1, notifier.count())
}

func TestPaymentFlowEndToEnd(t *testing.T) {
	engine, db, notifier := newTestEngine(t)
	ctx := context.Background()

	reportID := insertReport(t, db, 7, models.ReportStatusApproved, "300.50")
	amount := decimal.RequireFromString("300.50")

	outcome, err := engine.Apply(ctx, UploadProof{
		ReportID: reportID,
		ActorID:  7,
		Method:   models.PaymentMethodUPI,
		Amount:   amount,
		FileURL:  "proofs/a.pdf",
		FileType: "pdf",
	})
	require.NoError(t, err)
	assert.True(t, outcome.Applied)
	assert.Equal(t, "payment_proof", outcome.EntityType)
	proofID := outcome.EntityID

	var paymentID int64
	var paymentStatus, transactionID string
	require.NoError(t, db.QueryRow(`
		SELECT id, status, transaction_id FROM payments WHERE report_id = ?`, reportID).
		Scan(&paymentID, &paymentStatus, &transactionID))
	assert.Equal(t, string(models.PaymentStatusPendingApproval), paymentStatus)
	assert.NotEmpty(t, transactionID)

	// Manager approves the proof: payment completes, report becomes paid.
	outcome, err = engine.Apply(ctx, ApproveProof{ProofID: proofID, ActorID: 2})
	require.NoError(t, err)
	assert.True(t, outcome.Applied)

	var remaining string
	require.NoError(t, db.QueryRow(`
		SELECT status, remaining_amount FROM payments WHERE id = ?`, paymentID).
		Scan(&paymentStatus, &remaining))
	assert.Equal(t, string(models.PaymentStatusCompleted), paymentStatus)
	assert.True(t, decimal.RequireFromString(remaining).IsZero())
	assert.Equal(t, string(models.ReportStatusPaid), reportStatus(t, db, reportID))

	// One manager broadcast for the submission, one user notice for the approval.
	require.Equal(t, 2, notifier.count())
	assert.Equal(t, models.NotificationProofSubmitted, notifier.entries[0].Type)
	assert.Equal(t, models.NotificationProofApproved, notifier.entries[1].Type)
	assert.Equal(t, int64(7), notifier.entries[1].UserID)
}

func TestDuplicateApproveProofBySameActorIsNoOp(t *testing.T) {
	engine, db, notifier := newTestEngine(t)
	ctx := context.Background()

	reportID := insertReport(t, db, 7, models.ReportStatusApproved, "100")
	outcome, err := engine.Apply(ctx, UploadProof{
		ReportID: reportID, ActorID: 7, Method: models.PaymentMethodUPI,
		Amount: decimal.RequireFromString("100"), FileURL: "proofs/a.pdf", FileType: "pdf",
	})
	require.NoError(t, err)
	proofID := outcome.EntityID

	first, err := engine.Apply(ctx, ApproveProof{ProofID: proofID, ActorID: 2})
	require.NoError(t, err)
	assert.True(t, first.Applied)

	var paymentID int64
	require.NoError(t, db.QueryRow(`SELECT id FROM payments WHERE report_id = ?`, reportID).Scan(&paymentID))
	proofHistory := historyCount(t, db, "payment_proof", proofID)
	paymentHistory := historyCount(t, db, "payment", paymentID)
	notifications := notifier.count()

	// Same manager approving again is a duplicate delivery, not a new
	// transition: no cascade, no history, no notification.
	second, err := engine.Apply(ctx, ApproveProof{ProofID: proofID, ActorID: 2})
	require.NoError(t, err)
	assert.False(t, second.Applied)

	assert.Equal(t, proofHistory, historyCount(t, db, "payment_proof", proofID))
	assert.Equal(t, paymentHistory, historyCount(t, db, "payment", paymentID))
	assert.Equal(t, notifications, notifier.count())

	var paymentStatus string
	require.NoError(t, db.QueryRow(`SELECT status FROM payments WHERE id = ?`, paymentID).Scan(&paymentStatus))
	assert.Equal(t, string(models.PaymentStatusCompleted), paymentStatus)
	assert.Equal(t, string(models.ReportStatusPaid), reportStatus(t, db, reportID))

	// A different manager repeating the action lost a race instead.
	_, err = engine.Apply(ctx, ApproveProof{ProofID: proofID, ActorID: 3})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestDuplicateSubmitBySameActorIsNoOp(t *testing.T) {
	engine, db, notifier := newTestEngine(t)
	ctx := context.Background()

	reportID := insertReport(t, db, 1, models.ReportStatusProcessing, "0")
	insertFile(t, db, reportID, models.FileStatusCompleted, "Total_Amount_Charged", "100.50")

	first, err := engine.Apply(ctx, SubmitReport{ReportID: reportID, ActorID: 1})
	require.NoError(t, err)
	assert.True(t, first.Applied)

	second, err := engine.Apply(ctx, SubmitReport{ReportID: reportID, ActorID: 1})
	require.NoError(t, err)
	assert.False(t, second.Applied)

	assert.Equal(t, 1, historyCount(t, db, "report", reportID))
	assert.Equal(t, 1, notifier.count())
}

func TestUploadProofRequiresApprovedReport(t *testing.T) {
	engine, db, _ := newTestEngine(t)

	reportID := insertReport(t, db, 7, models.ReportStatusPendingApproval, "100")

	_, err := engine.Apply(context.Background(), UploadProof{
		ReportID: reportID,
		ActorID:  7,
		Method:   models.PaymentMethodCreditCard,
		Amount:   decimal.RequireFromString("100"),
		FileURL:  "proofs/a.pdf",
		FileType: "pdf",
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUploadProofWhileAnotherPending(t *testing.T) {
	engine, db, _ := newTestEngine(t)
	ctx := context.Background()

	reportID := insertReport(t, db, 7, models.ReportStatusApproved, "100")
	amount := decimal.RequireFromString("100")
	upload := UploadProof{
		ReportID: reportID, ActorID: 7, Method: models.PaymentMethodUPI,
		Amount: amount, FileURL: "proofs/a.pdf", FileType: "pdf",
	}

	_, err := engine.Apply(ctx, upload)
	require.NoError(t, err)

	_, err = engine.Apply(ctx, upload)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRejectProofThenResubmit(t *testing.T) {
	engine, db, notifier := newTestEngine(t)
	ctx := context.Background()

	reportID := insertReport(t, db, 7, models.ReportStatusApproved, "100")
	amount := decimal.RequireFromString("100")
	upload := UploadProof{
		ReportID: reportID, ActorID: 7, Method: models.PaymentMethodNetBanking,
		Amount: amount, FileURL: "proofs/a.pdf", FileType: "pdf",
	}

	first, err := engine.Apply(ctx, upload)
	require.NoError(t, err)

	_, err = engine.Apply(ctx, RejectProof{ProofID: first.EntityID, ActorID: 2, Comments: "unreadable scan"})
	require.NoError(t, err)

	var paymentStatus string
	require.NoError(t, db.QueryRow(`SELECT status FROM payments WHERE report_id = ?`, reportID).Scan(&paymentStatus))
	assert.Equal(t, string(models.PaymentStatusRejected), paymentStatus)

	require.Equal(t, 2, notifier.count())
	assert.Equal(t, models.NotificationProofRejected, notifier.entries[1].Type)

	// Resubmission reopens the same payment with a fresh proof row; the
	// rejected proof stays for the audit trail.
	upload.FileURL = "proofs/b.pdf"
	second, err := engine.Apply(ctx, upload)
	require.NoError(t, err)
	assert.NotEqual(t, first.EntityID, second.EntityID)

	require.NoError(t, db.QueryRow(`SELECT status FROM payments WHERE report_id = ?`, reportID).Scan(&paymentStatus))
	assert.Equal(t, string(models.PaymentStatusPendingApproval), paymentStatus)

	var proofCount int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM payment_proofs WHERE report_id = ?`, reportID).Scan(&proofCount))
	assert.Equal(t, 2, proofCount)
}

func TestRejectProofRequiresComments(t *testing.T) {
	engine, db, _ := newTestEngine(t)
	ctx := context.Background()

	reportID := insertReport(t, db, 7, models.ReportStatusApproved, "100")
	outcome, err := engine.Apply(ctx, UploadProof{
		ReportID: reportID, ActorID: 7, Method: models.PaymentMethodUPI,
		Amount: decimal.RequireFromString("100"), FileURL: "proofs/a.pdf", FileType: "pdf",
	})
	require.NoError(t, err)

	_, err = engine.Apply(ctx, RejectProof{ProofID: outcome.EntityID, ActorID: 2, Comments: ""})
	require.Error(t, err)
}

func TestClearPendingPayment(t *testing.T) {
	engine, db, notifier := newTestEngine(t)
	ctx := context.Background()

	reportID := insertReport(t, db, 7, models.ReportStatusApproved, "100")
	upload := UploadProof{
		ReportID: reportID, ActorID: 7, Method: models.PaymentMethodUPI,
		Amount: decimal.RequireFromString("100"), FileURL: "proofs/a.pdf", FileType: "pdf",
	}
	first, err := engine.Apply(ctx, upload)
	require.NoError(t, err)
	_, err = engine.Apply(ctx, RejectProof{ProofID: first.EntityID, ActorID: 2, Comments: "bad scan"})
	require.NoError(t, err)

	var paymentID int64
	require.NoError(t, db.QueryRow(`SELECT id FROM payments WHERE report_id = ?`, reportID).Scan(&paymentID))

	outcome, err := engine.Apply(ctx, ClearPendingPayment{PaymentID: paymentID, ActorID: 7})
	require.NoError(t, err)
	assert.True(t, outcome.Applied)
	assert.Equal(t, "cleared", outcome.NewStatus)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM payments WHERE id = ?`, paymentID).Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM payment_proofs WHERE payment_id = ?`, paymentID).Scan(&n))
	assert.Zero(t, n)

	assert.Equal(t, models.NotificationPaymentCleared, notifier.entries[notifier.count()-1].Type)

	// A duplicate clear by the same actor is tolerated.
	again, err := engine.Apply(ctx, ClearPendingPayment{PaymentID: paymentID, ActorID: 7})
	require.NoError(t, err)
	assert.False(t, again.Applied)

	// Anyone else clearing a gone payment gets not-found.
	_, err = engine.Apply(ctx, ClearPendingPayment{PaymentID: paymentID, ActorID: 8})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClearCompletedPaymentFails(t *testing.T) {
	engine, db, _ := newTestEngine(t)
	ctx := context.Background()

	reportID := insertReport(t, db, 7, models.ReportStatusApproved, "100")
	outcome, err := engine.Apply(ctx, UploadProof{
		ReportID: reportID, ActorID: 7, Method: models.PaymentMethodUPI,
		Amount: decimal.RequireFromString("100"), FileURL: "proofs/a.pdf", FileType: "pdf",
	})
	require.NoError(t, err)
	_, err = engine.Apply(ctx, ApproveProof{ProofID: outcome.EntityID, ActorID: 2})
	require.NoError(t, err)

	var paymentID int64
	require.NoError(t, db.QueryRow(`SELECT id FROM payments WHERE report_id = ?`, reportID).Scan(&paymentID))

	_, err = engine.Apply(ctx, ClearPendingPayment{PaymentID: paymentID, ActorID: 7})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
