// Package server is the composition root: it builds every dependency from
// the configuration, registers the routes, and runs the HTTP server with
// graceful shutdown.
//
// DEPENDENCY INJECTION FLOW:
//
//	config → sqlite.DB → repositories
//	       → notify.Templates + Sender → notify.Dispatcher
//	       → service.UserService / service.IssueService
//	       → handler.AuthHandler / handler.IssueHandler → chi routes
//
// Each layer only receives what it needs. Services get repository
// interfaces, handlers get services, and nothing below this package knows
// how its collaborators were constructed.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/sakif/civic-issues/internal/auth"
	"github.com/sakif/civic-issues/internal/config"
	"github.com/sakif/civic-issues/internal/handler"
	"github.com/sakif/civic-issues/internal/metrics"
	"github.com/sakif/civic-issues/internal/middleware"
	"github.com/sakif/civic-issues/internal/notify"
	sqliteRepo "github.com/sakif/civic-issues/internal/repository/sqlite"
	"github.com/sakif/civic-issues/internal/service"
	"github.com/sakif/civic-issues/internal/upload"
)

const (
	shutdownTimeout = 30 * time.Second
	limiterMaxIdle  = 30 * time.Minute
)

// Server owns the router and every long-lived resource: the database, the
// notification workers, and the scheduler. Start releases them on exit.
type Server struct {
	router     *chi.Mux
	config     *config.Config
	logger     *slog.Logger
	db         *sqliteRepo.DB
	metrics    *metrics.Metrics
	dispatcher *notify.Dispatcher
	scheduler  *cron.Cron
	limiter    *middleware.RateLimiter
	tokens     *auth.TokenService
	github     *auth.GitHubProvider // nil when GitHub sign-in is off
	users      *service.UserService
	issues     *service.IssueService
	uploads    *upload.Store
	closed     bool
}

// New builds the whole dependency graph. Background workers are not started
// until Start.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		db:      db,
		metrics: metrics.New(),
	}

	if err := s.wire(); err != nil {
		db.Close()
		return nil, err
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) wire() error {
	cfg := s.config

	templates, err := notify.NewTemplates()
	if err != nil {
		return fmt.Errorf("loading email templates: %w", err)
	}

	smtpCfg := notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SenderEmail,
	}
	var sender notify.Sender
	if smtpCfg.Enabled() {
		sender = notify.NewSMTPSender(smtpCfg, s.logger)
	} else {
		s.logger.Warn("SMTP_HOST or SENDER_EMAIL not set, emails will only be logged")
		sender = notify.NewLogSender(s.logger)
	}

	s.dispatcher = notify.NewDispatcher(sender, templates, notify.Config{
		Workers:     cfg.NotifyWorkers,
		QueueSize:   cfg.NotifyQueueSize,
		SendTimeout: cfg.NotifyTimeout,
	}, s.metrics, s.logger)

	s.tokens, err = auth.NewTokenService(cfg.JWTSecret, cfg.SessionTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	s.users = service.NewUserService(s.db.Users(), s.tokens, auth.NewPasswordService(), s.dispatcher, cfg.AdminEmails, s.logger)
	s.issues = service.NewIssueService(s.db.Issues(), s.db.Comments(), s.db.Users(), s.dispatcher, s.metrics, s.logger)

	if err := s.users.PromoteAdmins(context.Background()); err != nil {
		return fmt.Errorf("promoting admins: %w", err)
	}

	s.uploads, err = upload.NewStore(cfg.UploadDir, s.logger)
	if err != nil {
		return err
	}

	s.limiter = middleware.NewRateLimiter(cfg.ReportRatePerMinute, cfg.ReportBurst, s.metrics, s.logger)

	if cfg.GitHubEnabled() {
		s.github = auth.NewGitHubProvider(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubCallbackURL)
	} else {
		s.logger.Info("GitHub sign-in disabled, GITHUB_CLIENT_ID not set")
	}

	s.scheduler = cron.New()
	if _, err := s.scheduler.AddFunc("@every 10m", s.sweepRateLimiter); err != nil {
		return fmt.Errorf("scheduling limiter sweep: %w", err)
	}
	if _, err := s.scheduler.AddFunc("@hourly", s.logStats); err != nil {
		return fmt.Errorf("scheduling stats log: %w", err)
	}

	return nil
}

// setupRoutes configures middleware and routes.
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID   - unique ID per request, picked up by the logger
//  2. RealIP      - client IP from proxy headers, used by the rate limiter
//  3. LoadActor   - session cookie → *model.Actor in the context
//  4. Logger      - one line per request, with the actor when known
//  5. Recoverer   - a panic becomes a 500 that the logger still sees
//  6. Instrument  - Prometheus request counters and latency
func (s *Server) setupRoutes() {
	r := s.router

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(auth.LoadActor(s.tokens, s.users, s.logger))
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(s.metrics.InstrumentHandler)

	authHandler := handler.NewAuthHandler(s.users, s.github, s.users.SessionTTL(), s.logger)
	issueHandler := handler.NewIssueHandler(s.issues, s.uploads, s.logger)

	// === Pages ===
	r.Get("/", issueHandler.HandleList)
	r.Get("/issue/{id}", issueHandler.HandleDetail)
	r.Get("/report", issueHandler.HandleReportForm)
	r.With(s.limiter.Handler).Post("/report", issueHandler.HandleReport)
	r.Post("/add_comment/{id}", issueHandler.HandleAddComment)
	r.Get("/admin", issueHandler.HandleAdmin)
	r.Get("/uploads/{filename}", issueHandler.HandleUpload)

	// === AJAX actions ===
	r.Post("/update_status/{id}", issueHandler.HandleUpdateStatus)
	r.Post("/upvote/{id}", issueHandler.HandleUpvote)

	// === Accounts ===
	r.Get("/login", authHandler.HandleLoginForm)
	r.Post("/login", authHandler.HandleLogin)
	r.Get("/register", authHandler.HandleRegisterForm)
	r.Post("/register", authHandler.HandleRegister)
	r.Get("/logout", authHandler.HandleLogout)
	if s.github != nil {
		r.Get("/auth/github/login", authHandler.HandleGitHubLogin)
		r.Get("/auth/github/callback", authHandler.HandleGitHubCallback)
	}

	// === Operations ===
	r.Handle("/metrics", s.metrics.Handler())
	r.Get("/healthz", s.handleHealth)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, body := http.StatusOK, map[string]string{"status": "ok"}
	if err := s.db.Ping(); err != nil {
		s.logger.Error("health check failed", slog.String("error", err.Error()))
		status, body = http.StatusServiceUnavailable, map[string]string{"status": "unavailable"}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

func (s *Server) sweepRateLimiter() {
	if n := s.limiter.Cleanup(limiterMaxIdle); n > 0 {
		s.logger.Debug("rate limiter swept", slog.Int("removed", n), slog.Int("remaining", s.limiter.Len()))
	}
}

func (s *Server) logStats() {
	stats, err := s.issues.Stats(context.Background())
	if err != nil {
		s.logger.Error("collecting stats", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("issue stats",
		slog.Int("total", stats.TotalIssues),
		slog.Int("pending", stats.PendingIssues),
		slog.Int("resolved", stats.ResolvedIssues),
		slog.Int("users", stats.TotalUsers),
	)
}

// startBackground launches the notification workers and the scheduler.
func (s *Server) startBackground() {
	s.dispatcher.Start()
	s.scheduler.Start()
}

// Close stops the background work and closes the database, waiting at most
// until ctx is done for queued notifications to drain. It is safe to call
// more than once.
func (s *Server) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error

	select {
	case <-s.scheduler.Stop().Done():
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for scheduled jobs: %w", ctx.Err()))
	}

	if err := s.dispatcher.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("draining notifications: %w", err))
	}

	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}
	return errors.Join(errs...)
}

// Start runs the HTTP server and blocks until SIGINT/SIGTERM or a listen
// error.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting connections and let in-flight requests finish
//  2. Stop the scheduler
//  3. Drain queued notifications
//  4. Close the database (flushes WAL, releases the file lock)
//
// Requests can enqueue notifications, so the dispatcher only stops after
// the HTTP server has.
func (s *Server) Start() error {
	s.startBackground()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
			slog.Bool("smtp", s.config.SMTPHost != ""),
			slog.Bool("github", s.github != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		closeErr := s.closeWithin(shutdownTimeout)
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return closeErr

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			s.Close(ctx)
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		if err := s.Close(ctx); err != nil {
			return fmt.Errorf("stopping background work: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

func (s *Server) closeWithin(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return s.Close(ctx)
}
