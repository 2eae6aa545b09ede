package main

import (
	"crypto/tls"
	"encoding/json"
	stdlog "log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"
	"github.com/username/payfolio/src/config"
	"github.com/username/payfolio/src/database"
	"github.com/username/payfolio/src/handlers"
	"github.com/username/payfolio/src/logger"
	"github.com/username/payfolio/src/model"
	"github.com/username/payfolio/src/security"
	"github.com/username/payfolio/src/services"
	"github.com/username/payfolio/src/workflow"
	"golang.org/x/time/rate"
)

func proxyHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Forwarded-Proto") == "https" {
			r.URL.Scheme = "https"
			r.TLS = &tls.ConnectionState{}
		}
		next.ServeHTTP(w, r)
	})
}

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded", "path", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			"http://localhost:3000":    true,
			config.Cfg.FrontendBaseURL: true,
		}

		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, PATCH")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-Requested-With, Cookie, If-None-Match")
			w.Header().Set("Access-Control-Expose-Headers", "X-CSRF-Token, ETag")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)

	logger.L.Info("Payfolio backend server starting...")

	if config.Cfg.JWTSecret == "" || len(config.Cfg.JWTSecret) < 32 {
		logger.L.Error("JWT_SECRET configuration invalid.")
		os.Exit(1)
	}

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	database.RunMigrations(config.Cfg.DatabasePath)

	statusCache := cache.New(services.DefaultCacheExpiration, services.CacheCleanupInterval)

	handlers.InitializeGoogleOAuthConfig()

	authService := security.NewAuthService(config.Cfg.JWTSecret)
	mfaService := services.NewMFAService()
	storageService := services.NewStorageService(config.Cfg.UploadDir)
	notificationService := services.NewNotificationService(database.DB)
	reportService := services.NewReportService(database.DB, storageService, statusCache)

	engine := workflow.NewEngine(database.DB, notificationService, statusCache)

	// Sweep revoked-by-expiry sessions so the table does not grow unbounded.
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if err := model.DeleteExpiredSessions(database.DB); err != nil {
				logger.L.Warn("Expired session cleanup failed", "error", err)
			}
		}
	}()

	userHandler := handlers.NewUserHandler(authService, mfaService, statusCache)
	reportHandler := handlers.NewReportHandler(reportService, engine)
	paymentHandler := handlers.NewPaymentHandler(reportService, storageService, engine)
	notificationHandler := handlers.NewNotificationHandler(notificationService)

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(handlers.ContextualLoggerMiddleware)
	r.Use(proxyHeadersMiddleware)
	r.Use(enableCORS)
	r.Use(rateLimitMiddleware)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": "Payfolio Backend is running"})
	})

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Group(func(r chi.Router) {
			r.Get("/auth/csrf", handlers.GetCSRFToken)
			r.Get("/auth/google/login", userHandler.HandleGoogleLogin)
			r.Get("/auth/google/callback", userHandler.HandleGoogleCallback)
		})

		// Auth routes (CSRF protected)
		r.Group(func(r chi.Router) {
			r.Use(handlers.CSRFMiddleware)
			r.Post("/auth/login", userHandler.LoginUserHandler)
			r.Post("/auth/register", userHandler.RegisterUserHandler)
			r.Post("/auth/refresh", userHandler.RefreshTokenHandler)
			r.With(userHandler.AuthMiddleware).Post("/auth/logout", userHandler.LogoutUserHandler)
		})

		// Authenticated routes (auth + CSRF)
		r.Group(func(r chi.Router) {
			r.Use(handlers.CSRFMiddleware)
			r.Use(userHandler.AuthMiddleware)

			r.Get("/me", userHandler.HandleGetMe)
			r.Get("/mfa/setup", userHandler.HandleSetupMFA)
			r.Post("/mfa/enable", userHandler.HandleActivateMFA)

			r.Post("/reports/upload", reportHandler.HandleUpload)
			r.Get("/reports", reportHandler.HandleListMyReports)
			r.Get("/reports/{id}", reportHandler.HandleGetReport)
			r.Post("/reports/{id}/submit", reportHandler.HandleSubmit)
			r.Get("/reports/{id}/history", reportHandler.HandleGetReportHistory)
			r.Get("/reports/{id}/payment", paymentHandler.HandleGetPaymentByReport)

			r.Post("/payments", paymentHandler.HandleCreatePayment)
			r.Delete("/payments/{id}", paymentHandler.HandleClearPayment)
			r.Get("/payments/{id}/proofs", paymentHandler.HandleListProofs)

			r.Get("/notifications", notificationHandler.HandleList)
			r.Post("/notifications/{id}/read", notificationHandler.HandleMarkRead)
			r.Post("/notifications/read-all", notificationHandler.HandleMarkAllRead)

			// Manager review routes
			r.Group(func(r chi.Router) {
				r.Use(handlers.ManagerMiddleware)
				r.Get("/manager/reports", reportHandler.HandleManagerQueue)
				r.Post("/manager/reports/{id}/approve", reportHandler.HandleApproveReport)
				r.Post("/manager/reports/{id}/reject", reportHandler.HandleRejectReport)
				r.Get("/manager/proofs", paymentHandler.HandlePendingProofs)
				r.Post("/manager/proofs/{id}/approve", paymentHandler.HandleApproveProof)
				r.Post("/manager/proofs/{id}/reject", paymentHandler.HandleRejectProof)
			})

			// Admin routes
			r.Group(func(r chi.Router) {
				r.Use(handlers.AdminMiddleware)
				r.Get("/admin/stats", userHandler.HandleGetAdminStats)
				r.Get("/admin/users", userHandler.HandleGetAdminUsers)
				r.Put("/admin/users/{id}/role", userHandler.HandleUpdateUserRole)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			http.NotFound(w, r)
		}
	})

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stdlog.Fatalf("Failed to start server: %v", err)
	}
}
