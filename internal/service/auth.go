package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/civic-issues/internal/apperror"
	"github.com/sakif/civic-issues/internal/auth"
	"github.com/sakif/civic-issues/internal/model"
	"github.com/sakif/civic-issues/internal/notify"
	"github.com/sakif/civic-issues/internal/repository"
)

// UserService handles registration, login, and session resolution.
type UserService struct {
	users       repository.UserRepository
	tokens      *auth.TokenService
	passwords   *auth.PasswordService
	notifier    Notifier
	adminEmails map[string]bool
	logger      *slog.Logger
}

// NewUserService wires a UserService. Accounts registered with an email in
// adminEmails are created as administrators.
func NewUserService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	notifier Notifier,
	adminEmails []string,
	logger *slog.Logger,
) *UserService {
	admins := make(map[string]bool, len(adminEmails))
	for _, e := range adminEmails {
		if e = NormalizeEmail(e); e != "" {
			admins[e] = true
		}
	}
	return &UserService{
		users:       users,
		tokens:      tokens,
		passwords:   passwords,
		notifier:    notifier,
		adminEmails: admins,
		logger:      logger,
	}
}

// AuthResult bundles the user with a freshly issued session token so the
// handler can set the cookie in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// RegisterInput is the sign-up form.
type RegisterInput struct {
	Name     string `validate:"required,max=100"`
	Email    string `validate:"required,email,max=120"`
	Password string `validate:"min=6,max=72"`
}

// NormalizeEmail trims and lower-cases an address. Emails are stored and
// compared in this form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account and signs it in. A duplicate email is a
// ValidationError and nothing is written.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = NormalizeEmail(in.Email)
	if err := validateInput(&in); err != nil {
		return nil, err
	}

	if _, err := s.users.GetByEmail(ctx, in.Email); err == nil {
		return nil, apperror.ValidationFailed("email", "Email already exists!")
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("checking email: %w", err)
	}

	hash, err := s.passwords.Hash(in.Password)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		// the max tag counts runes, bcrypt counts bytes
		return nil, apperror.ValidationFailed("password",
			fmt.Sprintf("Password must be %d bytes or fewer", auth.MaxPasswordBytes))
	}
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &model.User{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		IsAdmin:      s.adminEmails[in.Email],
	}
	if err := s.users.Create(ctx, user); err != nil {
		// lost a race with a concurrent registration
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.ValidationFailed("email", "Email already exists!")
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	s.logger.Info("user registered",
		slog.String("userID", user.ID),
		slog.Bool("admin", user.IsAdmin),
	)

	if !s.notifier.Notify(ctx, notify.Notification{To: user.Email, Payload: notify.Welcome{Name: user.Name}}) {
		s.logger.Warn("welcome email not queued", slog.String("userID", user.ID))
	}

	return s.issue(user)
}

// Login checks credentials. Unknown email and wrong password produce the
// same error so the response does not reveal which accounts exist.
func (s *UserService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	invalid := apperror.ValidationFailed("email", "Invalid email or password")

	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, invalid
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrInvalidPassword) {
			s.logger.Error("verifying password",
				slog.String("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil, invalid
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID))
	return s.issue(user)
}

// LoginOrRegisterGitHub signs in the account matching the GitHub email,
// creating a password-less one on first login.
func (s *UserService) LoginOrRegisterGitHub(ctx context.Context, gh *auth.GitHubUser) (*AuthResult, error) {
	if gh == nil {
		return nil, fmt.Errorf("GitHub user must not be nil")
	}
	email := NormalizeEmail(gh.Email)
	if email == "" {
		return nil, apperror.ValidationFailed("email", "Your GitHub account has no verified email")
	}

	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		s.logger.Info("user logged in via GitHub", slog.String("userID", user.ID), slog.String("login", gh.Login))
		return s.issue(user)
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	user = &model.User{
		Name:    gh.DisplayName(),
		Email:   email,
		IsAdmin: s.adminEmails[email],
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("creating GitHub user %s: %w", gh.Login, err)
	}

	s.logger.Info("user registered via GitHub", slog.String("userID", user.ID), slog.String("login", gh.Login))
	if !s.notifier.Notify(ctx, notify.Notification{To: user.Email, Payload: notify.Welcome{Name: user.Name}}) {
		s.logger.Warn("welcome email not queued", slog.String("userID", user.ID))
	}
	return s.issue(user)
}

// PromoteAdmins grants admin rights to every configured admin email that
// already has an account. Accounts registered later are promoted by
// Register.
func (s *UserService) PromoteAdmins(ctx context.Context) error {
	for email := range s.adminEmails {
		ok, err := s.users.SetAdmin(ctx, email, true)
		if err != nil {
			return fmt.Errorf("promoting %s: %w", email, err)
		}
		if ok {
			s.logger.Info("admin promoted", slog.String("email", email))
		}
	}
	return nil
}

// ActorForUser resolves a session subject to the current Actor.
// It implements auth.ActorResolver.
func (s *UserService) ActorForUser(ctx context.Context, userID string) (*model.Actor, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return model.ActorFor(user), nil
}

// SessionTTL is how long issued tokens stay valid.
func (s *UserService) SessionTTL() time.Duration {
	return s.tokens.TTL()
}

func (s *UserService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("generating token for user %s: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}
