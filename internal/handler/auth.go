package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/civic-issues/internal/auth"
	"github.com/sakif/civic-issues/internal/service"
)

const oauthStateCookie = "oauth_state"

// Accounts is the part of service.UserService the auth handler needs.
type Accounts interface {
	Register(ctx context.Context, in service.RegisterInput) (*service.AuthResult, error)
	Login(ctx context.Context, email, password string) (*service.AuthResult, error)
	LoginOrRegisterGitHub(ctx context.Context, gh *auth.GitHubUser) (*service.AuthResult, error)
}

// AuthHandler serves login, registration, logout, and the optional GitHub
// sign-in flow.
//
// HANDLER RESPONSIBILITIES:
//   - HandleLoginForm / HandleRegisterForm → describe the form
//   - HandleLogin / HandleRegister        → check the form, set the session cookie
//   - HandleLogout                        → clear the session cookie
//   - HandleGitHubLogin / Callback        → OAuth redirect dance
type AuthHandler struct {
	accounts   Accounts
	github     *auth.GitHubProvider // nil when GitHub sign-in is not configured
	sessionTTL time.Duration
	logger     *slog.Logger
}

// NewAuthHandler creates an AuthHandler. github may be nil.
func NewAuthHandler(accounts Accounts, github *auth.GitHubProvider, sessionTTL time.Duration, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		accounts:   accounts,
		github:     github,
		sessionTTL: sessionTTL,
		logger:     logger,
	}
}

// HandleLoginForm describes the login form.
//
// HTTP: GET /login
func (h *AuthHandler) HandleLoginForm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, FormView{
		Form:     "login",
		Action:   "/login",
		Fields:   []string{"email", "password"},
		User:     auth.ActorFromContext(r.Context()),
		Messages: popFlashes(w, r),
	})
}

// HandleLogin checks the credentials and starts a session.
//
// HTTP: POST /login (form: email, password)
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	res, err := h.accounts.Login(r.Context(), r.FormValue("email"), r.FormValue("password"))
	if err != nil {
		failPage(w, r, h.logger, err, "/login")
		return
	}
	h.startSession(w, r, res)
	setFlash(w, "success", "Login successful!")
	redirect(w, r, "/")
}

// HandleRegisterForm describes the sign-up form.
//
// HTTP: GET /register
func (h *AuthHandler) HandleRegisterForm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, FormView{
		Form:     "register",
		Action:   "/register",
		Fields:   []string{"name", "email", "password"},
		User:     auth.ActorFromContext(r.Context()),
		Messages: popFlashes(w, r),
	})
}

// HandleRegister creates an account and signs it in.
//
// HTTP: POST /register (form: name, email, password)
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	res, err := h.accounts.Register(r.Context(), service.RegisterInput{
		Name:     r.FormValue("name"),
		Email:    r.FormValue("email"),
		Password: r.FormValue("password"),
	})
	if err != nil {
		failPage(w, r, h.logger, err, "/register")
		return
	}
	h.startSession(w, r, res)
	setFlash(w, "success", "Registration successful!")
	redirect(w, r, "/")
}

// HandleLogout clears the session cookie.
//
// HTTP: GET /logout
//
// Sessions are stateless JWTs, so logging out only removes the cookie. The
// token itself stays valid until it expires.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSession(w)
	setFlash(w, "success", "Logged out successfully!")
	redirect(w, r, "/")
}

// HandleGitHubLogin redirects the browser to GitHub's authorization page.
//
// HTTP: GET /auth/github/login
//
// CSRF PROTECTION VIA STATE:
// A random state goes into a short-lived HttpOnly cookie and into the
// authorization URL. The callback only proceeds when both match.
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	if h.github == nil {
		http.NotFound(w, r)
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes the GitHub sign-in.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code for a GitHub profile
//  3. Find or create the account by email
//  4. Set the session cookie and redirect home
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	if h.github == nil {
		http.NotFound(w, r)
		return
	}

	// --- Step 1: Validate CSRF state ---
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" {
		h.logger.Warn("auth callback: missing state cookie")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}
	if r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("auth callback: state mismatch",
			slog.String("expected", stateCookie.Value),
			slog.String("got", r.URL.Query().Get("state")),
		)
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}

	// single use
	http.SetCookie(w, &http.Cookie{
		Name:   oauthStateCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		setFlash(w, "error", "GitHub sign-in was cancelled.")
		redirect(w, r, "/login")
		return
	}

	// --- Step 2: Exchange code for a GitHub profile ---
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing OAuth code", http.StatusBadRequest)
		return
	}

	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: GitHub exchange failed", slog.String("error", err.Error()))
		setFlash(w, "error", "GitHub sign-in failed, please try again.")
		redirect(w, r, "/login")
		return
	}

	// --- Step 3: Find or create the account ---
	res, err := h.accounts.LoginOrRegisterGitHub(r.Context(), ghUser)
	if err != nil {
		failPage(w, r, h.logger, err, "/login")
		return
	}

	// --- Step 4: Session cookie ---
	h.startSession(w, r, res)
	setFlash(w, "success", "Login successful!")
	redirect(w, r, "/")
}

func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, res *service.AuthResult) {
	auth.SetSession(w, r, res.Token, h.sessionTTL)
}
