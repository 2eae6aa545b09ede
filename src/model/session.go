package model

import (
	"database/sql"
	"time"
)

// Session ties an issued access/refresh token pair to a user so tokens can
// be revoked on logout.
type Session struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	Token        string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

func CreateSession(db *sql.DB, userID int64, token, refreshToken string, expiresAt time.Time) (*Session, error) {
	res, err := db.Exec(`
		INSERT INTO sessions (user_id, token, refresh_token, expires_at)
		VALUES (?, ?, ?, ?)`, userID, token, refreshToken, expiresAt)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Session{ID: id, UserID: userID, Token: token, RefreshToken: refreshToken, ExpiresAt: expiresAt}, nil
}

func GetSessionByToken(db *sql.DB, token string) (*Session, error) {
	var s Session
	err := db.QueryRow(`
		SELECT id, user_id, token, refresh_token, expires_at, created_at
		FROM sessions WHERE token = ?`, token).
		Scan(&s.ID, &s.UserID, &s.Token, &s.RefreshToken, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func GetSessionByRefreshToken(db *sql.DB, refreshToken string) (*Session, error) {
	var s Session
	err := db.QueryRow(`
		SELECT id, user_id, token, refresh_token, expires_at, created_at
		FROM sessions WHERE refresh_token = ?`, refreshToken).
		Scan(&s.ID, &s.UserID, &s.Token, &s.RefreshToken, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func DeleteSessionByRefreshToken(db *sql.DB, refreshToken string) error {
	_, err := db.Exec(`DELETE FROM sessions WHERE refresh_token = ?`, refreshToken)
	return err
}

func DeleteSessionByToken(db *sql.DB, token string) error {
	_, err := db.Exec(`DELETE FROM sessions WHERE token = ?`, token)
	return err
}

func DeleteExpiredSessions(db *sql.DB) error {
	_, err := db.Exec(`DELETE FROM sessions WHERE expires_at < CURRENT_TIMESTAMP`)
	return err
}
