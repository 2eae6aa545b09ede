// src/handlers/payment_handler.go
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/username/payfolio/src/config"
	"github.com/username/payfolio/src/database"
	"github.com/username/payfolio/src/logger"
	"github.com/username/payfolio/src/models"
	"github.com/username/payfolio/src/security/validation"
	"github.com/username/payfolio/src/services"
	"github.com/username/payfolio/src/utils"
	"github.com/username/payfolio/src/workflow"
)

type PaymentHandler struct {
	reportService services.ReportService
	storage       *services.StorageService
	engine        *workflow.Engine
}

func NewPaymentHandler(reportService services.ReportService, storage *services.StorageService, engine *workflow.Engine) *PaymentHandler {
	return &PaymentHandler{
		reportService: reportService,
		storage:       storage,
		engine:        engine,
	}
}

// HandleCreatePayment records a payment attempt for an approved report:
// the chosen method plus an uploaded proof document. Re-submitting after a
// rejection reopens the same payment with a fresh proof.
func (h *PaymentHandler) HandleCreatePayment(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())
	userID, _ := GetUserIDFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, config.Cfg.MaxProofUploadBytes)
	if err := r.ParseMultipartForm(config.Cfg.MaxProofUploadBytes); err != nil {
		ctxLogger.Warn("Failed to parse proof multipart form", "error", err)
		sendJSONError(w, "File too large or malformed form data", http.StatusRequestEntityTooLarge)
		return
	}

	reportID, err := strconv.ParseInt(r.FormValue("report_id"), 10, 64)
	if err != nil {
		sendJSONError(w, "A valid report_id form field is required", http.StatusBadRequest)
		return
	}

	method, err := models.ParsePaymentMethod(r.FormValue("method"))
	if err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(r.FormValue("amount")))
	if err != nil || !amount.IsPositive() {
		sendJSONError(w, "A positive amount form field is required", http.StatusBadRequest)
		return
	}

	report, err := h.reportService.GetReport(r.Context(), reportID)
	if err != nil || report.UserID != userID {
		sendJSONError(w, "Report not found", http.StatusNotFound)
		return
	}
	if !amount.Round(2).Equal(report.TotalAmount.Round(2)) {
		sendJSONError(w, "Payment amount must match the report total", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		sendJSONError(w, "A proof 'file' form field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
	if err := validation.ValidateProofContent(file, ext); err != nil {
		sendJSONError(w, err.Error(), http.StatusUnsupportedMediaType)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		ctxLogger.Error("Failed to read proof upload", "error", err)
		sendJSONError(w, "Failed to read uploaded file", http.StatusInternalServerError)
		return
	}
	fileURL, err := h.storage.Save(data, "proofs", header.Filename)
	if err != nil {
		ctxLogger.Error("Failed to store proof file", "error", err)
		sendJSONError(w, "Failed to store uploaded file", http.StatusInternalServerError)
		return
	}

	outcome, err := h.engine.Apply(r.Context(), workflow.UploadProof{
		ReportID: reportID,
		ActorID:  userID,
		Method:   method,
		Amount:   amount,
		FileURL:  fileURL,
		FileType: ext,
	})
	if err != nil {
		// The stored file is orphaned on failure; remove it.
		if delErr := h.storage.Delete(fileURL); delErr != nil {
			ctxLogger.Warn("Failed to clean up orphaned proof file", "fileURL", fileURL, "error", delErr)
		}
		sendTransitionError(w, err)
		return
	}

	utils.WriteJSON(w, outcome, http.StatusCreated)
}

// HandleClearPayment deletes a pending or rejected payment and its proofs
// so the user can start over. Completed payments are immutable.
func (h *PaymentHandler) HandleClearPayment(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetUserIDFromContext(r.Context())
	paymentID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		sendJSONError(w, "Invalid payment ID", http.StatusBadRequest)
		return
	}

	payment, err := h.reportService.GetPayment(r.Context(), paymentID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to load payment", "paymentID", paymentID, "error", err)
		sendJSONError(w, "Failed to load payment", http.StatusInternalServerError)
		return
	}
	if payment == nil || payment.UserID != userID {
		sendJSONError(w, "Payment not found", http.StatusNotFound)
		return
	}

	outcome, err := h.engine.Apply(r.Context(), workflow.ClearPendingPayment{PaymentID: paymentID, ActorID: userID})
	if err != nil {
		sendTransitionError(w, err)
		return
	}
	utils.WriteJSON(w, outcome, http.StatusOK)
}

// HandleGetPaymentByReport returns the report's payment, if any.
func (h *PaymentHandler) HandleGetPaymentByReport(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetUserIDFromContext(r.Context())
	reportID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		sendJSONError(w, "Invalid report ID", http.StatusBadRequest)
		return
	}

	report, err := h.reportService.GetReport(r.Context(), reportID)
	if err != nil || (report.UserID != userID && !callerIsManager(r)) {
		sendJSONError(w, "Report not found", http.StatusNotFound)
		return
	}

	payment, err := h.reportService.GetPaymentByReport(r.Context(), reportID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to load payment", "reportID", reportID, "error", err)
		sendJSONError(w, "Failed to load payment", http.StatusInternalServerError)
		return
	}
	if payment == nil {
		sendJSONError(w, "No payment exists for this report", http.StatusNotFound)
		return
	}
	utils.WriteJSON(w, payment, http.StatusOK)
}

// HandleListProofs returns the payment's full proof trail, rejected
// attempts included.
func (h *PaymentHandler) HandleListProofs(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetUserIDFromContext(r.Context())
	paymentID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		sendJSONError(w, "Invalid payment ID", http.StatusBadRequest)
		return
	}

	payment, err := h.reportService.GetPayment(r.Context(), paymentID)
	if err != nil {
		sendJSONError(w, "Failed to load payment", http.StatusInternalServerError)
		return
	}
	if payment == nil || (payment.UserID != userID && !callerIsManager(r)) {
		sendJSONError(w, "Payment not found", http.StatusNotFound)
		return
	}

	proofs, err := h.reportService.ListProofsByPayment(r.Context(), paymentID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to list proofs", "paymentID", paymentID, "error", err)
		sendJSONError(w, "Failed to list proofs", http.StatusInternalServerError)
		return
	}
	utils.WriteJSON(w, proofs, http.StatusOK)
}

// HandlePendingProofs lists proofs awaiting manager review.
func (h *PaymentHandler) HandlePendingProofs(w http.ResponseWriter, r *http.Request) {
	rows, err := database.DB.QueryContext(r.Context(), `
		SELECT id, payment_id, report_id, user_id, file_url, file_type, amount, status, manager_comments, created_at
		FROM payment_proofs WHERE status = ? ORDER BY id ASC`,
		string(models.ProofStatusPendingApproval))
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to list pending proofs", "error", err)
		sendJSONError(w, "Failed to list proofs", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	proofs := []models.PaymentProof{}
	for rows.Next() {
		var p models.PaymentProof
		var amountStr, status string
		if err := rows.Scan(&p.ID, &p.PaymentID, &p.ReportID, &p.UserID, &p.FileURL, &p.FileType,
			&amountStr, &status, &p.ManagerComments, &p.CreatedAt); err != nil {
			sendJSONError(w, "Failed to list proofs", http.StatusInternalServerError)
			return
		}
		p.Status = models.ProofStatus(status)
		p.Amount, _ = decimal.NewFromString(amountStr)
		proofs = append(proofs, p)
	}

	utils.WriteJSON(w, proofs, http.StatusOK)
}

func (h *PaymentHandler) HandleApproveProof(w http.ResponseWriter, r *http.Request) {
	h.decideProof(w, r, true)
}

func (h *PaymentHandler) HandleRejectProof(w http.ResponseWriter, r *http.Request) {
	h.decideProof(w, r, false)
}

func (h *PaymentHandler) decideProof(w http.ResponseWriter, r *http.Request, approve bool) {
	actorID, _ := GetUserIDFromContext(r.Context())
	proofID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		sendJSONError(w, "Invalid proof ID", http.StatusBadRequest)
		return
	}

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	comments := validation.SanitizeText(strings.TrimSpace(req.Comments))
	if err := validation.ValidateStringMaxLength(comments, validation.MaxCommentLength, "Comments"); err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !approve && comments == "" {
		sendJSONError(w, "Comments are required when rejecting a proof", http.StatusBadRequest)
		return
	}

	var action workflow.Action
	if approve {
		action = workflow.ApproveProof{ProofID: proofID, ActorID: actorID, Comments: comments}
	} else {
		action = workflow.RejectProof{ProofID: proofID, ActorID: actorID, Comments: comments}
	}

	outcome, err := h.engine.Apply(r.Context(), action)
	if err != nil {
		sendTransitionError(w, err)
		return
	}
	utils.WriteJSON(w, outcome, http.StatusOK)
}
