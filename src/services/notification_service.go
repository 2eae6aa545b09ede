// src/services/notification_service.go
package services

import (
	"context"
	"database/sql"

	"github.com/username/payfolio/src/logger"
	"github.com/username/payfolio/src/model"
	"github.com/username/payfolio/src/models"
)

// NotificationService stores and serves in-app notifications. It
// implements workflow.Notifier: dispatch runs after a transition commits
// and a failure here is logged, never propagated, so it can never roll
// back the state change it announces.
type NotificationService struct {
	db *sql.DB
}

func NewNotificationService(db *sql.DB) *NotificationService {
	return &NotificationService{db: db}
}

func (s *NotificationService) NotifyUser(ctx context.Context, userID int64, ntype, title, message, data string) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (user_id, type, title, message, data)
		VALUES (?, ?, ?, ?, ?)`, userID, ntype, title, message, data)
	if err != nil {
		logger.L.Error("Failed to dispatch notification", "userID", userID, "type", ntype, "error", err)
	}
}

func (s *NotificationService) NotifyManagers(ctx context.Context, ntype, title, message, data string) {
	managerIDs, err := model.ListManagerIDs(s.db)
	if err != nil {
		logger.L.Error("Failed to resolve manager pool for notification", "type", ntype, "error", err)
		return
	}
	for _, id := range managerIDs {
		s.NotifyUser(ctx, id, ntype, title, message, data)
	}
}

func (s *NotificationService) ListByUser(ctx context.Context, userID int64, unreadOnly bool) ([]models.Notification, error) {
	query := `
		SELECT id, user_id, type, title, message, data, read, created_at
		FROM notifications WHERE user_id = ?`
	if unreadOnly {
		query += ` AND read = 0`
	}
	query += ` ORDER BY id DESC LIMIT 100`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Data, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkRead flips the read flag for one notification owned by the user.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ?`, notificationID, userID)
	return err
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read = 1 WHERE user_id = ? AND read = 0`, userID)
	return err
}
