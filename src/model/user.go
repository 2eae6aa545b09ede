package model

import (
	"database/sql"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Role values. Managers review submissions and proofs; admins additionally
// manage users and see platform stats.
const (
	RoleUser    = "user"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Password     string    `json:"-"`
	AuthProvider string    `json:"auth_provider,omitempty"`
	Role         string    `json:"role"`
	LoginCount   int       `json:"login_count"`
	LastLoginAt  NullTime  `json:"last_login_at"`
	MfaSecret    string    `json:"-"`
	MfaEnabled   bool      `json:"mfa_enabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NullTime is an alias for sql.NullTime for better JSON handling.
type NullTime sql.NullTime

func (nt NullTime) MarshalJSON() ([]byte, error) {
	if !nt.Valid {
		return []byte("null"), nil
	}
	return nt.Time.MarshalJSON()
}

func (u *User) HashPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.Password = string(hashedPassword)
	return nil
}

func (u *User) CheckPassword(password string) error {
	return bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password))
}

// IsManager reports whether the user may act on the manager review queues.
// Admins review too.
func (u *User) IsManager() bool {
	return u.Role == RoleManager || u.Role == RoleAdmin
}

func (u *User) CreateUser(db *sql.DB) error {
	now := time.Now()
	u.CreatedAt = now
	u.UpdatedAt = now
	if u.AuthProvider == "" {
		u.AuthProvider = "local"
	}
	if u.Role == "" {
		u.Role = RoleUser
	}

	query := `
	INSERT INTO users (username, email, password, auth_provider, role, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := db.Exec(query, u.Username, u.Email, u.Password, u.AuthProvider, u.Role, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = id
	return nil
}

func scanUser(row *sql.Row) (*User, error) {
	var user User
	var mfaSecret sql.NullString
	var lastLoginAt sql.NullTime
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.Password, &user.AuthProvider, &user.Role,
		&user.LoginCount, &lastLoginAt, &mfaSecret, &user.MfaEnabled,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.MfaSecret = mfaSecret.String
	user.LastLoginAt = NullTime(lastLoginAt)
	return &user, nil
}

const userColumns = `id, username, email, password, auth_provider, role,
	login_count, last_login_at, mfa_secret, mfa_enabled, created_at, updated_at`

func GetUserByID(db *sql.DB, id int64) (*User, error) {
	row := db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func GetUserByUsername(db *sql.DB, username string) (*User, error) {
	row := db.QueryRow(`SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	return scanUser(row)
}

func GetUserByEmail(db *sql.DB, email string) (*User, error) {
	row := db.QueryRow(`SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

func (u *User) RecordLogin(db *sql.DB) error {
	_, err := db.Exec(`
		UPDATE users SET login_count = login_count + 1, last_login_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, u.ID)
	return err
}

func (u *User) UpdateRole(db *sql.DB, role string) error {
	if role != RoleUser && role != RoleManager && role != RoleAdmin {
		return errors.New("invalid role")
	}
	_, err := db.Exec(`UPDATE users SET role = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, role, u.ID)
	if err == nil {
		u.Role = role
	}
	return err
}

func (u *User) UpdateMfa(db *sql.DB, secret string, enabled bool) error {
	_, err := db.Exec(`UPDATE users SET mfa_secret = ?, mfa_enabled = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		secret, enabled, u.ID)
	return err
}

// ListManagerIDs returns the IDs of every manager and admin, the recipient
// pool for submission notifications.
func ListManagerIDs(db *sql.DB) ([]int64, error) {
	rows, err := db.Query(`SELECT id FROM users WHERE role IN (?, ?)`, RoleManager, RoleAdmin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
