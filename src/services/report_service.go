// src/services/report_service.go
package services

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/username/payfolio/src/extractors"
	"github.com/username/payfolio/src/logger"
	"github.com/username/payfolio/src/models"
	"github.com/username/payfolio/src/workflow"
)

const (
	DefaultCacheExpiration = 15 * time.Minute
	CacheCleanupInterval   = 30 * time.Minute
)

type reportServiceImpl struct {
	db          *sql.DB
	storage     *StorageService
	reportCache *cache.Cache
}

func NewReportService(db *sql.DB, storage *StorageService, reportCache *cache.Cache) ReportService {
	return &reportServiceImpl{
		db:          db,
		storage:     storage,
		reportCache: reportCache,
	}
}

func (s *reportServiceImpl) ProcessUpload(ctx context.Context, fileReader io.Reader, userID, reportID int64, fileName, reportDate string) (*UploadOutcome, error) {
	startTime := time.Now()
	logger.L.Info("ProcessUpload START", "userID", userID, "reportID", reportID, "fileName", fileName)

	data, err := io.ReadAll(fileReader)
	if err != nil {
		return nil, fmt.Errorf("error reading uploaded file %q: %w", fileName, err)
	}

	if reportID == 0 {
		if reportDate == "" {
			reportDate = time.Now().Format("2006-01-02")
		}
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO reports (user_id, filename, report_date, status)
			VALUES (?, ?, ?, ?)`,
			userID, fileName, reportDate, string(models.ReportStatusProcessing))
		if err != nil {
			return nil, fmt.Errorf("error creating report: %w", err)
		}
		reportID, err = res.LastInsertId()
		if err != nil {
			return nil, err
		}
	} else {
		// Files may only be added while the report is still processing;
		// the total is fixed at submission and never recomputed.
		var ownerID int64
		var status string
		err := s.db.QueryRowContext(ctx, `SELECT user_id, status FROM reports WHERE id = ?`, reportID).
			Scan(&ownerID, &status)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: report %d", ErrReportNotFound, reportID)
		}
		if err != nil {
			return nil, fmt.Errorf("error loading report %d: %w", reportID, err)
		}
		if ownerID != userID {
			return nil, fmt.Errorf("%w: report %d", ErrReportNotFound, reportID)
		}
		if models.ReportStatus(status) != models.ReportStatusProcessing {
			return nil, fmt.Errorf("%w: report %d is %q", ErrReportNotEditable, reportID, status)
		}
	}

	fileURL, err := s.storage.Save(data, fmt.Sprintf("reports/%d", reportID), fileName)
	if err != nil {
		return nil, err
	}

	result, extractErr := extractors.Extract(data, fileName)

	fileKind := "csv"
	if result != nil {
		fileKind = result.FileKind
	}
	file := models.ReportFile{
		ReportID:    reportID,
		FileName:    fileName,
		FileURL:     fileURL,
		FileKind:    fileKind,
		TotalAmount: decimal.Zero,
	}

	if extractErr != nil {
		// File-scoped failure: recorded on the file row, siblings in the
		// batch are unaffected.
		file.Status = models.FileStatusError
		file.ErrorMessage = extractErr.Error()
	} else {
		file.Status = models.FileStatusCompleted
		file.MatchedColumn = result.MatchedColumn
		file.AmountCount = len(result.Amounts)
		file.TotalAmount = result.Total
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO report_files (report_id, file_name, file_url, file_kind, status, matched_column, amount_count, total_amount, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		file.ReportID, file.FileName, file.FileURL, file.FileKind, string(file.Status),
		file.MatchedColumn, file.AmountCount, file.TotalAmount.String(), file.ErrorMessage)
	if err != nil {
		return nil, fmt.Errorf("error recording uploaded file %q: %w", fileName, err)
	}
	file.ID, _ = res.LastInsertId()

	s.reportCache.Delete(fmt.Sprintf(workflow.CkUserReports, userID))

	outcome := &UploadOutcome{File: file, Extraction: result}
	if extractErr == nil && result.MatchedColumn == "" {
		// Ambiguous case: structurally fine but nothing qualified. Not an
		// error on its own, yet worth flagging before submission.
		outcome.Warning = fmt.Sprintf("no amount column found in %q; expected a header like 'Total Amount Charged'", fileName)
	} else if extractErr == nil && len(result.Amounts) == 0 {
		outcome.Warning = fmt.Sprintf("column %q matched in %q but no positive amounts were found", result.MatchedColumn, fileName)
	}

	logger.L.Info("ProcessUpload END", "userID", userID, "reportID", reportID,
		"fileStatus", file.Status, "duration", time.Since(startTime))
	if extractErr != nil {
		return outcome, extractErr
	}
	return outcome, nil
}

func (s *reportServiceImpl) GetReport(ctx context.Context, reportID int64) (*models.Report, error) {
	var r models.Report
	var totalStr, status string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, filename, report_date, total_amount, status, manager_comments, rejection_reason, created_at, updated_at
		FROM reports WHERE id = ?`, reportID).
		Scan(&r.ID, &r.UserID, &r.Filename, &r.ReportDate, &totalStr, &status,
			&r.ManagerComments, &r.RejectionReason, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: report %d", ErrReportNotFound, reportID)
	}
	if err != nil {
		return nil, fmt.Errorf("error loading report %d: %w", reportID, err)
	}
	if r.Status, err = models.ParseReportStatus(status); err != nil {
		return nil, err
	}
	if r.TotalAmount, err = decimal.NewFromString(totalStr); err != nil {
		return nil, fmt.Errorf("corrupt total on report %d: %w", reportID, err)
	}

	files, err := s.listReportFiles(ctx, reportID)
	if err != nil {
		return nil, err
	}
	r.Files = files
	return &r, nil
}

func (s *reportServiceImpl) listReportFiles(ctx context.Context, reportID int64) ([]models.ReportFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, report_id, file_name, file_url, file_kind, status, matched_column, amount_count, total_amount, error_message, created_at
		FROM report_files WHERE report_id = ? ORDER BY id ASC`, reportID)
	if err != nil {
		return nil, fmt.Errorf("error loading files of report %d: %w", reportID, err)
	}
	defer rows.Close()

	files := []models.ReportFile{}
	for rows.Next() {
		var f models.ReportFile
		var status, totalStr string
		if err := rows.Scan(&f.ID, &f.ReportID, &f.FileName, &f.FileURL, &f.FileKind, &status,
			&f.MatchedColumn, &f.AmountCount, &totalStr, &f.ErrorMessage, &f.CreatedAt); err != nil {
			return nil, err
		}
		if f.Status, err = models.ParseFileStatus(status); err != nil {
			return nil, err
		}
		if f.TotalAmount, err = decimal.NewFromString(totalStr); err != nil {
			return nil, fmt.Errorf("corrupt total on file %d: %w", f.ID, err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *reportServiceImpl) ListReportsByUser(ctx context.Context, userID int64) ([]models.Report, error) {
	cacheKey := fmt.Sprintf(workflow.CkUserReports, userID)
	if cached, found := s.reportCache.Get(cacheKey); found {
		return cached.([]models.Report), nil
	}
	reports, err := s.listReports(ctx, `WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	s.reportCache.Set(cacheKey, reports, DefaultCacheExpiration)
	return reports, nil
}

func (s *reportServiceImpl) ListReportsByStatus(ctx context.Context, status models.ReportStatus) ([]models.Report, error) {
	// Only the pending-approval queue is hot enough to cache.
	useCache := status == models.ReportStatusPendingApproval
	if useCache {
		if cached, found := s.reportCache.Get(workflow.CkManagerQueue); found {
			return cached.([]models.Report), nil
		}
	}
	reports, err := s.listReports(ctx, `WHERE status = ?`, string(status))
	if err != nil {
		return nil, err
	}
	if useCache {
		s.reportCache.Set(workflow.CkManagerQueue, reports, DefaultCacheExpiration)
	}
	return reports, nil
}

func (s *reportServiceImpl) listReports(ctx context.Context, where string, arg any) ([]models.Report, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, filename, report_date, total_amount, status, manager_comments, rejection_reason, created_at, updated_at
		FROM reports `+where+` ORDER BY id DESC`, arg)
	if err != nil {
		return nil, fmt.Errorf("error listing reports: %w", err)
	}
	defer rows.Close()

	reports := []models.Report{}
	for rows.Next() {
		var r models.Report
		var totalStr, status string
		if err := rows.Scan(&r.ID, &r.UserID, &r.Filename, &r.ReportDate, &totalStr, &status,
			&r.ManagerComments, &r.RejectionReason, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		if r.Status, err = models.ParseReportStatus(status); err != nil {
			return nil, err
		}
		if r.TotalAmount, err = decimal.NewFromString(totalStr); err != nil {
			return nil, fmt.Errorf("corrupt total on report %d: %w", r.ID, err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

func (s *reportServiceImpl) GetPaymentByReport(ctx context.Context, reportID int64) (*models.Payment, error) {
	return s.getPayment(ctx, `report_id = ?`, reportID)
}

func (s *reportServiceImpl) GetPayment(ctx context.Context, paymentID int64) (*models.Payment, error) {
	return s.getPayment(ctx, `id = ?`, paymentID)
}

func (s *reportServiceImpl) getPayment(ctx context.Context, where string, arg any) (*models.Payment, error) {
	var p models.Payment
	var amountStr, remainingStr, method, status string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, report_id, user_id, amount, remaining_amount, method, status, transaction_id, created_at, updated_at
		FROM payments WHERE `+where, arg).
		Scan(&p.ID, &p.ReportID, &p.UserID, &amountStr, &remainingStr, &method, &status,
			&p.TransactionID, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error loading payment: %w", err)
	}
	if p.Method, err = models.ParsePaymentMethod(method); err != nil {
		return nil, err
	}
	if p.Status, err = models.ParsePaymentStatus(status); err != nil {
		return nil, err
	}
	if p.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("corrupt amount on payment %d: %w", p.ID, err)
	}
	if p.RemainingAmount, err = decimal.NewFromString(remainingStr); err != nil {
		return nil, fmt.Errorf("corrupt remaining amount on payment %d: %w", p.ID, err)
	}
	return &p, nil
}

func (s *reportServiceImpl) ListProofsByPayment(ctx context.Context, paymentID int64) ([]models.PaymentProof, error) {
	// Full proof history, newest first, rejected attempts included.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payment_id, report_id, user_id, file_url, file_type, amount, status, manager_comments, created_at
		FROM payment_proofs WHERE payment_id = ? ORDER BY id DESC`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("error listing proofs of payment %d: %w", paymentID, err)
	}
	defer rows.Close()

	proofs := []models.PaymentProof{}
	for rows.Next() {
		var p models.PaymentProof
		var amountStr, status string
		if err := rows.Scan(&p.ID, &p.PaymentID, &p.ReportID, &p.UserID, &p.FileURL, &p.FileType,
			&amountStr, &status, &p.ManagerComments, &p.CreatedAt); err != nil {
			return nil, err
		}
		if p.Status, err = models.ParseProofStatus(status); err != nil {
			return nil, err
		}
		if p.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("corrupt amount on proof %d: %w", p.ID, err)
		}
		proofs = append(proofs, p)
	}
	return proofs, rows.Err()
}

func (s *reportServiceImpl) GetHistory(ctx context.Context, entityType string, entityID int64) ([]models.StatusHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, previous_status, new_status, actor_id, comments, created_at
		FROM status_history WHERE entity_type = ? AND entity_id = ? ORDER BY id ASC`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("error loading history of %s %d: %w", entityType, entityID, err)
	}
	defer rows.Close()

	history := []models.StatusHistory{}
	for rows.Next() {
		var h models.StatusHistory
		if err := rows.Scan(&h.ID, &h.EntityType, &h.EntityID, &h.PreviousStatus, &h.NewStatus,
			&h.ActorID, &h.Comments, &h.CreatedAt); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}
