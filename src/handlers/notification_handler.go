// src/handlers/notification_handler.go
package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/username/payfolio/src/logger"
	"github.com/username/payfolio/src/services"
	"github.com/username/payfolio/src/utils"
)

type NotificationHandler struct {
	notificationService *services.NotificationService
}

func NewNotificationHandler(notificationService *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{notificationService: notificationService}
}

// HandleList returns the caller's notifications, newest first. Supports
// ?unread=true and conditional requests via ETag so polling clients skip
// unchanged payloads.
func (h *NotificationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetUserIDFromContext(r.Context())
	unreadOnly := r.URL.Query().Get("unread") == "true"

	notifications, err := h.notificationService.ListByUser(r.Context(), userID, unreadOnly)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to list notifications", "error", err)
		sendJSONError(w, "Failed to list notifications", http.StatusInternalServerError)
		return
	}

	if etag, err := utils.GenerateETag(notifications); err == nil {
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
	}

	utils.WriteJSON(w, notifications, http.StatusOK)
}

func (h *NotificationHandler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetUserIDFromContext(r.Context())
	notificationID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		sendJSONError(w, "Invalid notification ID", http.StatusBadRequest)
		return
	}

	if err := h.notificationService.MarkRead(r.Context(), userID, notificationID); err != nil {
		logger.FromContext(r.Context()).Error("Failed to mark notification read", "notificationID", notificationID, "error", err)
		sendJSONError(w, "Failed to update notification", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandler) HandleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetUserIDFromContext(r.Context())

	if err := h.notificationService.MarkAllRead(r.Context(), userID); err != nil {
		logger.FromContext(r.Context()).Error("Failed to mark notifications read", "error", err)
		sendJSONError(w, "Failed to update notifications", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
