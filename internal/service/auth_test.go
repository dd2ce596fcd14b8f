package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/civic-issues/internal/apperror"
	"github.com/sakif/civic-issues/internal/auth"
	"github.com/sakif/civic-issues/internal/model"
	"github.com/sakif/civic-issues/internal/notify"
)

func TestRegister_CreatesUserAndSendsWelcome(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.users.Register(ctx, RegisterInput{Name: " Asha ", Email: " Asha@Example.com ", Password: "secret123"})
	require.NoError(t, err)

	assert.Equal(t, "Asha", res.User.Name)
	assert.Equal(t, "asha@example.com", res.User.Email)
	assert.NotEqual(t, "secret123", res.User.PasswordHash)
	assert.NotEmpty(t, res.Token)

	welcome := env.notifier.byEvent(notify.EventWelcome)
	require.Len(t, welcome, 1)
	assert.Equal(t, "asha@example.com", welcome[0].To)
	assert.Equal(t, notify.Welcome{Name: "Asha"}, welcome[0].Payload)
}

func TestRegister_ShortPasswordCreatesNoUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.users.Register(ctx, RegisterInput{Name: "Asha", Email: "asha@example.com", Password: "12345"})
	require.ErrorIs(t, err, apperror.ErrValidation)
	assert.Equal(t, "Password must be at least 6 characters!", err.Error())

	n, err := env.db.Users().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, env.notifier.byEvent(notify.EventWelcome))
}

func TestRegister_DuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.citizen(t, "Asha", "asha@example.com")

	_, err := env.users.Register(ctx, RegisterInput{Name: "Imposter", Email: "ASHA@example.com", Password: "secret123"})
	require.ErrorIs(t, err, apperror.ErrValidation)
	assert.Equal(t, "Email already exists!", err.Error())

	n, err := env.db.Users().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRegister_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		in    RegisterInput
		field string
	}{
		{"no name", RegisterInput{Email: "a@example.com", Password: "secret123"}, "name"},
		{"no email", RegisterInput{Name: "A", Password: "secret123"}, "email"},
		{"bad email", RegisterInput{Name: "A", Email: "not-an-email", Password: "secret123"}, "email"},
		{"password too long", RegisterInput{Name: "A", Email: "a@example.com", Password: strings.Repeat("x", 73)}, "password"},
		{"accented password over 72 bytes", RegisterInput{Name: "Asha", Email: "asha@example.com", Password: strings.Repeat("é", 40)}, "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.users.Register(context.Background(), tt.in)
			require.ErrorIs(t, err, apperror.ErrValidation)

			var appErr *apperror.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.field, appErr.Field)
		})
	}
}

func TestRegister_MultibytePasswordLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.users.Register(ctx, RegisterInput{Name: "Asha", Email: "asha@example.com", Password: strings.Repeat("é", 40)})
	require.ErrorIs(t, err, apperror.ErrValidation)
	assert.Equal(t, "Password must be 72 bytes or fewer", err.Error())

	n, err := env.db.Users().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = env.users.Register(ctx, RegisterInput{Name: "Asha", Email: "asha@example.com", Password: strings.Repeat("é", 36)})
	assert.NoError(t, err)
}

func TestRegister_ConfiguredAdminEmail(t *testing.T) {
	env := newTestEnv(t)
	admin := env.admin(t)
	assert.True(t, admin.IsAdmin)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	asha := env.citizen(t, "Asha", "asha@example.com")

	res, err := env.users.Login(ctx, "  ASHA@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, asha.UserID, res.User.ID)
	assert.NotEmpty(t, res.Token)

	for _, tc := range []struct{ email, password string }{
		{"asha@example.com", "wrong-password"},
		{"nobody@example.com", "secret123"},
	} {
		_, err := env.users.Login(ctx, tc.email, tc.password)
		require.ErrorIs(t, err, apperror.ErrValidation)
		assert.Equal(t, "Invalid email or password", err.Error())
	}
}

func TestLogin_GitHubOnlyAccountCannotUsePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.users.LoginOrRegisterGitHub(ctx, &auth.GitHubUser{ID: 1, Login: "asha", Email: "asha@example.com"})
	require.NoError(t, err)

	_, err = env.users.Login(ctx, "asha@example.com", "")
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestLoginOrRegisterGitHub(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	existing := env.citizen(t, "Asha", "asha@example.com")

	t.Run("matches existing account by email", func(t *testing.T) {
		res, err := env.users.LoginOrRegisterGitHub(ctx, &auth.GitHubUser{ID: 1, Login: "asha-gh", Email: "Asha@Example.com"})
		require.NoError(t, err)
		assert.Equal(t, existing.UserID, res.User.ID)
	})

	t.Run("creates account on first login", func(t *testing.T) {
		res, err := env.users.LoginOrRegisterGitHub(ctx, &auth.GitHubUser{ID: 2, Login: "ravi", Email: "ravi@example.com"})
		require.NoError(t, err)
		assert.Equal(t, "ravi", res.User.Name)
		assert.Empty(t, res.User.PasswordHash)
		assert.NotEmpty(t, res.Token)
	})

	t.Run("requires an email", func(t *testing.T) {
		_, err := env.users.LoginOrRegisterGitHub(ctx, &auth.GitHubUser{ID: 3, Login: "ghost"})
		assert.ErrorIs(t, err, apperror.ErrValidation)
	})
}

func TestPromoteAdmins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// created directly so Register's own promotion does not apply
	u := &model.User{Name: "Ward Office", Email: testAdminEmail}
	require.NoError(t, env.db.Users().Create(ctx, u))

	require.NoError(t, env.users.PromoteAdmins(ctx))

	actor, err := env.users.ActorForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, actor.IsAdmin)
}

func TestActorForUser(t *testing.T) {
	env := newTestEnv(t)
	asha := env.citizen(t, "Asha", "asha@example.com")

	got, err := env.users.ActorForUser(context.Background(), asha.UserID)
	require.NoError(t, err)
	assert.Equal(t, asha, got)

	_, err = env.users.ActorForUser(context.Background(), "missing")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}
