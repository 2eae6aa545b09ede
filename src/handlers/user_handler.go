// src/handlers/user_handler.go
package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/patrickmn/go-cache"
	"github.com/username/payfolio/src/config"
	"github.com/username/payfolio/src/database"
	"github.com/username/payfolio/src/logger"
	"github.com/username/payfolio/src/model"
	"github.com/username/payfolio/src/security"
	"github.com/username/payfolio/src/security/validation"
	"github.com/username/payfolio/src/services"
	"github.com/username/payfolio/src/utils"
	"github.com/username/payfolio/src/workflow"
)

var (
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	passwordRegex = regexp.MustCompile(`^.{6,}$`)
)

type UserHandler struct {
	authService *security.AuthService
	mfaService  *services.MFAService
	statsCache  *cache.Cache
}

func NewUserHandler(authService *security.AuthService, mfaService *services.MFAService, statsCache *cache.Cache) *UserHandler {
	return &UserHandler{
		authService: authService,
		mfaService:  mfaService,
		statsCache:  statsCache,
	}
}

func sendJSONError(w http.ResponseWriter, message string, statusCode int) {
	utils.SendJSONError(w, message, statusCode)
}

// isAdminEmail checks whether an email is on the configured admin list.
func isAdminEmail(email string) bool {
	for _, adminEmail := range config.Cfg.AdminEmails {
		if strings.EqualFold(email, adminEmail) {
			return true
		}
	}
	return false
}

func (h *UserHandler) RegisterUserHandler(w http.ResponseWriter, r *http.Request) {
	var credentials struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	credentials.Username = validation.SanitizeText(strings.TrimSpace(credentials.Username))
	credentials.Email = strings.ToLower(validation.SanitizeText(strings.TrimSpace(credentials.Email)))
	credentials.Password = strings.TrimSpace(credentials.Password)

	if credentials.Username == "" && strings.Contains(credentials.Email, "@") {
		credentials.Username = strings.Split(credentials.Email, "@")[0]
	}

	if credentials.Username == "" {
		sendJSONError(w, "Username is required", http.StatusBadRequest)
		return
	}
	if err := validation.ValidateStringMaxLength(credentials.Username, validation.MaxUsernameLength, "Username"); err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !emailRegex.MatchString(credentials.Email) {
		sendJSONError(w, "Invalid email format", http.StatusBadRequest)
		return
	}
	if !passwordRegex.MatchString(credentials.Password) {
		sendJSONError(w, "Password must be at least 6 characters long", http.StatusBadRequest)
		return
	}

	_, err := model.GetUserByUsername(database.DB, credentials.Username)
	if err == nil {
		sendJSONError(w, "Username already exists", http.StatusConflict)
		return
	} else if !errors.Is(err, sql.ErrNoRows) {
		logger.L.Error("Error checking username uniqueness", "error", err)
		sendJSONError(w, "Failed to process registration", http.StatusInternalServerError)
		return
	}

	_, err = model.GetUserByEmail(database.DB, credentials.Email)
	if err == nil {
		sendJSONError(w, "Email address already in use", http.StatusConflict)
		return
	} else if !errors.Is(err, sql.ErrNoRows) {
		logger.L.Error("Error checking email uniqueness", "error", err)
		sendJSONError(w, "Failed to process registration", http.StatusInternalServerError)
		return
	}

	user := &model.User{
		Username:     credentials.Username,
		Email:        credentials.Email,
		AuthProvider: "local",
		Role:         model.RoleUser,
	}
	if isAdminEmail(user.Email) {
		user.Role = model.RoleAdmin
	}
	if err := user.HashPassword(credentials.Password); err != nil {
		logger.L.Error("Failed to hash password", "error", err)
		sendJSONError(w, "Failed to process registration", http.StatusInternalServerError)
		return
	}

	if err := user.CreateUser(database.DB); err != nil {
		logger.L.Error("Failed to create user in DB", "error", err)
		sendJSONError(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	logger.L.Info("User registered", "userID", user.ID, "role", user.Role)
	utils.WriteJSON(w, map[string]string{"message": "User registered successfully."}, http.StatusCreated)
}

func (h *UserHandler) LoginUserHandler(w http.ResponseWriter, r *http.Request) {
	var credentials struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		MfaCode  string `json:"mfa_code"`
	}

	if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		logger.L.Warn("Invalid request body for login", "error", err)
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	credentials.Email = strings.ToLower(validation.SanitizeText(strings.TrimSpace(credentials.Email)))

	user, err := model.GetUserByEmail(database.DB, credentials.Email)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.L.Error("User lookup by email failed for login", "error", err)
		}
		sendJSONError(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}

	if err := user.CheckPassword(credentials.Password); err != nil {
		logger.L.Warn("Password check failed for login", "userID", user.ID)
		sendJSONError(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}

	if user.MfaEnabled {
		if credentials.MfaCode == "" {
			utils.WriteJSON(w, map[string]string{
				"error": "MFA code required",
				"code":  "MFA_REQUIRED",
			}, http.StatusUnauthorized)
			return
		}
		if !h.mfaService.ValidateToken(user.MfaSecret, credentials.MfaCode) {
			sendJSONError(w, "Invalid MFA code", http.StatusUnauthorized)
			return
		}
	}

	if err := user.RecordLogin(database.DB); err != nil {
		logger.L.Error("Failed to record login", "userID", user.ID, "error", err)
	}

	accessToken, refreshToken, err := h.issueSession(r, user.ID)
	if err != nil {
		sendJSONError(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	logger.L.Info("User login successful", "userID", user.ID)

	utils.WriteJSON(w, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"user": map[string]interface{}{
			"id":            user.ID,
			"username":      user.Username,
			"email":         user.Email,
			"auth_provider": user.AuthProvider,
			"role":          user.Role,
			"mfa_enabled":   user.MfaEnabled,
		},
	}, http.StatusOK)
}

// issueSession generates a token pair and persists the session row.
func (h *UserHandler) issueSession(r *http.Request, userID int64) (accessToken, refreshToken string, err error) {
	accessToken, err = h.authService.GenerateToken(userID, config.Cfg.AccessTokenExpiry)
	if err != nil {
		logger.L.Error("Failed to generate access token", "userID", userID, "error", err)
		return "", "", err
	}
	refreshToken, err = h.authService.GenerateRefreshToken()
	if err != nil {
		logger.L.Error("Failed to generate refresh token", "userID", userID, "error", err)
		return "", "", err
	}
	expiresAt := time.Now().Add(config.Cfg.RefreshTokenExpiry)
	if _, err = model.CreateSession(database.DB, userID, accessToken, refreshToken, expiresAt); err != nil {
		logger.L.Error("Failed to create session", "userID", userID, "error", err)
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

func (h *UserHandler) RefreshTokenHandler(w http.ResponseWriter, r *http.Request) {
	var requestBody struct {
		RefreshToken string `json:"refresh_token"`
	}

	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if requestBody.RefreshToken == "" {
		sendJSONError(w, "Refresh token is required", http.StatusBadRequest)
		return
	}

	oldSession, err := model.GetSessionByRefreshToken(database.DB, requestBody.RefreshToken)
	if err != nil || oldSession.ExpiresAt.Before(time.Now()) {
		logger.L.Warn("Refresh token lookup failed or token expired", "error", err)
		sendJSONError(w, "Invalid or expired refresh token", http.StatusUnauthorized)
		return
	}

	// Rotation: the old pair is revoked before the new one is issued.
	if err := model.DeleteSessionByRefreshToken(database.DB, requestBody.RefreshToken); err != nil {
		logger.L.Error("Failed to delete old session during refresh", "userID", oldSession.UserID, "error", err)
	}

	accessToken, refreshToken, err := h.issueSession(r, oldSession.UserID)
	if err != nil {
		sendJSONError(w, "Failed to refresh session", http.StatusInternalServerError)
		return
	}

	logger.L.Info("Token refreshed successfully", "userID", oldSession.UserID)
	utils.WriteJSON(w, map[string]string{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
	}, http.StatusOK)
}

func (h *UserHandler) LogoutUserHandler(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")

	if tokenString != "" {
		if err := model.DeleteSessionByToken(database.DB, tokenString); err != nil {
			logger.L.Warn("Failed to delete session on logout", "error", err)
		}
	} else {
		logger.L.Warn("Logout attempt with no token in Authorization header")
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleGetMe returns the authenticated user's own profile.
func (h *UserHandler) HandleGetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}
	user, err := model.GetUserByID(database.DB, userID)
	if err != nil {
		sendJSONError(w, "User not found", http.StatusNotFound)
		return
	}
	utils.WriteJSON(w, user, http.StatusOK)
}

// AdminStats is the aggregate snapshot served on the admin dashboard.
type AdminStats struct {
	TotalUsers            int64  `json:"total_users"`
	TotalManagers         int64  `json:"total_managers"`
	TotalReports          int64  `json:"total_reports"`
	ReportsPendingReview  int64  `json:"reports_pending_review"`
	ReportsApproved       int64  `json:"reports_approved"`
	ReportsRejected       int64  `json:"reports_rejected"`
	ReportsPaid           int64  `json:"reports_paid"`
	PaymentsCompleted     int64  `json:"payments_completed"`
	ProofsPendingApproval int64  `json:"proofs_pending_approval"`
	TotalAmountApproved   string `json:"total_amount_approved"`
	TotalAmountPaid       string `json:"total_amount_paid"`
}

func (h *UserHandler) HandleGetAdminStats(w http.ResponseWriter, r *http.Request) {
	if cached, found := h.statsCache.Get(workflow.CkAdminStats); found {
		utils.WriteJSON(w, cached, http.StatusOK)
		return
	}

	var stats AdminStats
	queries := []struct {
		dest  *int64
		query string
	}{
		{&stats.TotalUsers, `SELECT COUNT(*) FROM users`},
		{&stats.TotalManagers, `SELECT COUNT(*) FROM users WHERE role IN ('manager', 'admin')`},
		{&stats.TotalReports, `SELECT COUNT(*) FROM reports`},
		{&stats.ReportsPendingReview, `SELECT COUNT(*) FROM reports WHERE status = 'pending_approval'`},
		{&stats.ReportsApproved, `SELECT COUNT(*) FROM reports WHERE status = 'approved'`},
		{&stats.ReportsRejected, `SELECT COUNT(*) FROM reports WHERE status = 'rejected'`},
		{&stats.ReportsPaid, `SELECT COUNT(*) FROM reports WHERE status = 'paid'`},
		{&stats.PaymentsCompleted, `SELECT COUNT(*) FROM payments WHERE status = 'completed'`},
		{&stats.ProofsPendingApproval, `SELECT COUNT(*) FROM payment_proofs WHERE status = 'pending_approval'`},
	}
	for _, q := range queries {
		if err := database.DB.QueryRow(q.query).Scan(q.dest); err != nil {
			logger.L.Error("Admin stats query failed", "query", q.query, "error", err)
			sendJSONError(w, "Failed to compute stats", http.StatusInternalServerError)
			return
		}
	}

	// Totals stored as TEXT; SQLite sums them numerically well enough for a
	// dashboard figure. Exact arithmetic stays in the decimal package paths.
	if err := database.DB.QueryRow(
		`SELECT COALESCE(printf('%.2f', SUM(CAST(total_amount AS REAL))), '0.00') FROM reports WHERE status IN ('approved', 'paid')`).
		Scan(&stats.TotalAmountApproved); err != nil {
		logger.L.Error("Admin stats approved-amount query failed", "error", err)
		sendJSONError(w, "Failed to compute stats", http.StatusInternalServerError)
		return
	}
	if err := database.DB.QueryRow(
		`SELECT COALESCE(printf('%.2f', SUM(CAST(amount AS REAL))), '0.00') FROM payments WHERE status = 'completed'`).
		Scan(&stats.TotalAmountPaid); err != nil {
		logger.L.Error("Admin stats paid-amount query failed", "error", err)
		sendJSONError(w, "Failed to compute stats", http.StatusInternalServerError)
		return
	}

	h.statsCache.Set(workflow.CkAdminStats, stats, 5*time.Minute)
	utils.WriteJSON(w, stats, http.StatusOK)
}

func (h *UserHandler) HandleGetAdminUsers(w http.ResponseWriter, r *http.Request) {
	rows, err := database.DB.Query(`
		SELECT id, username, email, auth_provider, role, login_count, last_login_at, mfa_enabled, created_at
		FROM users ORDER BY id ASC`)
	if err != nil {
		logger.L.Error("Failed to list users", "error", err)
		sendJSONError(w, "Database error", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		var u model.User
		var lastLoginAt sql.NullTime
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.AuthProvider, &u.Role,
			&u.LoginCount, &lastLoginAt, &u.MfaEnabled, &u.CreatedAt); err != nil {
			logger.L.Error("Failed to scan user row", "error", err)
			sendJSONError(w, "Database error", http.StatusInternalServerError)
			return
		}
		u.LastLoginAt = model.NullTime(lastLoginAt)
		users = append(users, u)
	}

	utils.WriteJSON(w, users, http.StatusOK)
}

// HandleUpdateUserRole lets an admin promote or demote a user. Admins
// cannot demote themselves; that guards against locking everyone out.
func (h *UserHandler) HandleUpdateUserRole(w http.ResponseWriter, r *http.Request) {
	targetID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		sendJSONError(w, "Invalid user ID format", http.StatusBadRequest)
		return
	}

	var req struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	actorID, _ := GetUserIDFromContext(r.Context())
	if actorID == targetID && req.Role != model.RoleAdmin {
		sendJSONError(w, "Admins cannot demote themselves", http.StatusBadRequest)
		return
	}

	user, err := model.GetUserByID(database.DB, targetID)
	if err != nil {
		sendJSONError(w, "User not found", http.StatusNotFound)
		return
	}

	if err := user.UpdateRole(database.DB, req.Role); err != nil {
		logger.L.Error("Failed to update user role", "targetID", targetID, "role", req.Role, "error", err)
		sendJSONError(w, "Invalid role or update failed", http.StatusBadRequest)
		return
	}

	logger.L.Info("User role updated", "actorID", actorID, "targetID", targetID, "newRole", req.Role)
	utils.WriteJSON(w, user, http.StatusOK)
}

func (h *UserHandler) HandleSetupMFA(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetUserIDFromContext(r.Context())
	user, err := model.GetUserByID(database.DB, userID)
	if err != nil {
		sendJSONError(w, "User not found", http.StatusNotFound)
		return
	}

	secret, qrCode, err := h.mfaService.GenerateMFASecret(user.Username)
	if err != nil {
		logger.L.Error("Failed to generate MFA secret", "userID", userID, "error", err)
		sendJSONError(w, "Failed to generate MFA", http.StatusInternalServerError)
		return
	}

	// Stored disabled until the user confirms a valid code.
	if err := user.UpdateMfa(database.DB, secret, false); err != nil {
		logger.L.Error("Failed to save MFA secret", "userID", userID, "error", err)
		sendJSONError(w, "Failed to save MFA secret", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, map[string]string{
		"secret":  secret,
		"qr_code": qrCode,
	}, http.StatusOK)
}

func (h *UserHandler) HandleActivateMFA(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetUserIDFromContext(r.Context())

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := model.GetUserByID(database.DB, userID)
	if err != nil {
		sendJSONError(w, "User not found", http.StatusNotFound)
		return
	}
	if user.MfaSecret == "" {
		sendJSONError(w, "MFA setup has not been started", http.StatusBadRequest)
		return
	}
	if !h.mfaService.ValidateToken(user.MfaSecret, req.Code) {
		sendJSONError(w, "Invalid MFA code", http.StatusUnauthorized)
		return
	}

	if err := user.UpdateMfa(database.DB, user.MfaSecret, true); err != nil {
		logger.L.Error("Failed to enable MFA", "userID", userID, "error", err)
		sendJSONError(w, "Failed to enable MFA", http.StatusInternalServerError)
		return
	}

	logger.L.Info("MFA enabled", "userID", userID)
	utils.WriteJSON(w, map[string]string{"message": "MFA enabled"}, http.StatusOK)
}
