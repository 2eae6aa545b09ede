// src/handlers/report_handler.go
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/username/payfolio/src/config"
	"github.com/username/payfolio/src/database"
	"github.com/username/payfolio/src/logger"
	"github.com/username/payfolio/src/model"
	"github.com/username/payfolio/src/models"
	"github.com/username/payfolio/src/security/validation"
	"github.com/username/payfolio/src/services"
	"github.com/username/payfolio/src/utils"
	"github.com/username/payfolio/src/workflow"
)

type ReportHandler struct {
	reportService services.ReportService
	engine        *workflow.Engine
}

func NewReportHandler(reportService services.ReportService, engine *workflow.Engine) *ReportHandler {
	return &ReportHandler{
		reportService: reportService,
		engine:        engine,
	}
}

// sendTransitionError maps workflow engine errors onto HTTP statuses.
func sendTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		sendJSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, workflow.ErrInvalidTransition):
		sendJSONError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, workflow.ErrIncompleteUpload):
		sendJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, workflow.ErrNoAmountColumn):
		sendJSONError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		logger.L.Error("Transition failed", "error", err)
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// HandleUpload ingests one report file. A report_id form field attaches the
// file to an existing processing report; without it a new report is created.
func (h *ReportHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.Cfg.MaxReportUploadBytes)
	if err := r.ParseMultipartForm(config.Cfg.MaxReportUploadBytes); err != nil {
		ctxLogger.Warn("Failed to parse multipart form", "error", err)
		sendJSONError(w, "File too large or malformed form data", http.StatusRequestEntityTooLarge)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		sendJSONError(w, "A 'file' form field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if err := validation.ValidateStringMaxLength(header.Filename, validation.MaxFileNameLength, "File name"); err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validation.ValidateReportContentType(header.Header.Get("Content-Type")); err != nil {
		sendJSONError(w, err.Error(), http.StatusUnsupportedMediaType)
		return
	}
	if _, err := validation.ValidateReportContentByMagicBytes(file); err != nil {
		sendJSONError(w, err.Error(), http.StatusUnsupportedMediaType)
		return
	}

	var reportID int64
	if v := r.FormValue("report_id"); v != "" {
		reportID, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			sendJSONError(w, "Invalid report_id", http.StatusBadRequest)
			return
		}
	}

	reportDate := strings.TrimSpace(r.FormValue("report_date"))
	if reportDate != "" {
		if _, err := validation.ValidateDateString(reportDate, "Report date"); err != nil {
			sendJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	outcome, err := h.reportService.ProcessUpload(r.Context(), file, userID, reportID, header.Filename, reportDate)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrReportNotFound):
			sendJSONError(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, services.ErrReportNotEditable):
			sendJSONError(w, err.Error(), http.StatusConflict)
		case outcome != nil:
			// Extraction failed; the file row records the error and the rest
			// of the batch is untouched.
			utils.WriteJSON(w, outcome, http.StatusUnprocessableEntity)
		default:
			ctxLogger.Error("Upload processing failed", "fileName", header.Filename, "error", err)
			sendJSONError(w, "Failed to process upload", http.StatusInternalServerError)
		}
		return
	}

	utils.WriteJSON(w, outcome, http.StatusCreated)
}

// HandleSubmit moves the caller's report into the manager review queue.
func (h *ReportHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetUserIDFromContext(r.Context())
	reportID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		sendJSONError(w, "Invalid report ID", http.StatusBadRequest)
		return
	}

	if !h.callerOwnsReport(w, r, userID, reportID) {
		return
	}

	outcome, err := h.engine.Apply(r.Context(), workflow.SubmitReport{ReportID: reportID, ActorID: userID})
	if err != nil {
		sendTransitionError(w, err)
		return
	}
	utils.WriteJSON(w, outcome, http.StatusOK)
}

// callerOwnsReport hides other users' reports behind a 404.
func (h *ReportHandler) callerOwnsReport(w http.ResponseWriter, r *http.Request, userID, reportID int64) bool {
	report, err := h.reportService.GetReport(r.Context(), reportID)
	if err != nil {
		sendJSONError(w, "Report not found", http.StatusNotFound)
		return false
	}
	if report.UserID != userID {
		sendJSONError(w, "Report not found", http.StatusNotFound)
		return false
	}
	return true
}

func (h *ReportHandler) HandleListMyReports(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetUserIDFromContext(r.Context())
	reports, err := h.reportService.ListReportsByUser(r.Context(), userID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to list reports", "error", err)
		sendJSONError(w, "Failed to list reports", http.StatusInternalServerError)
		return
	}
	utils.WriteJSON(w, reports, http.StatusOK)
}

func (h *ReportHandler) HandleGetReport(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetUserIDFromContext(r.Context())
	reportID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		sendJSONError(w, "Invalid report ID", http.StatusBadRequest)
		return
	}

	report, err := h.reportService.GetReport(r.Context(), reportID)
	if err != nil {
		sendJSONError(w, "Report not found", http.StatusNotFound)
		return
	}

	if report.UserID != userID && !callerIsManager(r) {
		sendJSONError(w, "Report not found", http.StatusNotFound)
		return
	}

	utils.WriteJSON(w, report, http.StatusOK)
}

func (h *ReportHandler) HandleGetReportHistory(w http.ResponseWriter, r *http.Request) {
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

	history, err := h.reportService.GetHistory(r.Context(), "report", reportID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to load report history", "reportID", reportID, "error", err)
		sendJSONError(w, "Failed to load history", http.StatusInternalServerError)
		return
	}
	utils.WriteJSON(w, history, http.StatusOK)
}

// callerIsManager reports whether the authenticated caller holds a manager
// or admin role. Used on read endpoints shared between owners and reviewers.
func callerIsManager(r *http.Request) bool {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		return false
	}
	user, err := model.GetUserByID(database.DB, userID)
	if err != nil {
		return false
	}
	return user.IsManager()
}

// HandleManagerQueue lists reports awaiting review. A status query param
// lets managers browse other buckets too.
func (h *ReportHandler) HandleManagerQueue(w http.ResponseWriter, r *http.Request) {
	status := models.ReportStatusPendingApproval
	if v := r.URL.Query().Get("status"); v != "" {
		parsed, err := models.ParseReportStatus(v)
		if err != nil {
			sendJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		status = parsed
	}

	reports, err := h.reportService.ListReportsByStatus(r.Context(), status)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to list manager queue", "status", status, "error", err)
		sendJSONError(w, "Failed to list reports", http.StatusInternalServerError)
		return
	}
	utils.WriteJSON(w, reports, http.StatusOK)
}

type decisionRequest struct {
	Comments string `json:"comments"`
}

func (h *ReportHandler) HandleApproveReport(w http.ResponseWriter, r *http.Request) {
	h.decideReport(w, r, true)
}

func (h *ReportHandler) HandleRejectReport(w http.ResponseWriter, r *http.Request) {
	h.decideReport(w, r, false)
}

func (h *ReportHandler) decideReport(w http.ResponseWriter, r *http.Request, approve bool) {
	actorID, _ := GetUserIDFromContext(r.Context())
	reportID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		sendJSONError(w, "Invalid report ID", http.StatusBadRequest)
		return
	}

	// An empty body is fine for approvals; comments are optional there.
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
		sendJSONError(w, "Comments are required when rejecting a report", http.StatusBadRequest)
		return
	}

	var action workflow.Action
	if approve {
		action = workflow.ApproveReport{ReportID: reportID, ActorID: actorID, Comments: comments}
	} else {
		action = workflow.RejectReport{ReportID: reportID, ActorID: actorID, Comments: comments}
	}

	outcome, err := h.engine.Apply(r.Context(), action)
	if err != nil {
		sendTransitionError(w, err)
		return
	}
	utils.WriteJSON(w, outcome, http.StatusOK)
}
