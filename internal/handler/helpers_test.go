package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/sakif/civic-issues/internal/auth"
	"github.com/sakif/civic-issues/internal/handler"
	"github.com/sakif/civic-issues/internal/model"
	"github.com/sakif/civic-issues/internal/notify"
	"github.com/sakif/civic-issues/internal/repository/sqlite"
	"github.com/sakif/civic-issues/internal/service"
	"github.com/sakif/civic-issues/internal/upload"
)

const testAdminEmail = "ward@city.gov"

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, notify.Notification) bool { return true }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testApp wires real services over an in-memory database behind the same
// routes the server registers.
type testApp struct {
	router    http.Handler
	issues    *service.IssueService
	users     *service.UserService
	uploadDir string
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	return newTestAppWithGitHub(t, nil)
}

func newTestAppWithGitHub(t *testing.T, gh *auth.GitHubProvider) *testApp {
	t.Helper()
	logger := discardLogger()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars", time.Hour)
	require.NoError(t, err)

	users := service.NewUserService(db.Users(), tokens, auth.NewPasswordServiceForTest(4), nopNotifier{},
		[]string{testAdminEmail}, logger)
	issues := service.NewIssueService(db.Issues(), db.Comments(), db.Users(), nopNotifier{}, nil, logger)

	dir := t.TempDir()
	store, err := upload.NewStore(dir, logger)
	require.NoError(t, err)

	authH := handler.NewAuthHandler(users, gh, users.SessionTTL(), logger)
	issueH := handler.NewIssueHandler(issues, store, logger)

	r := chi.NewRouter()
	r.Use(auth.LoadActor(tokens, users, logger))
	r.Get("/", issueH.HandleList)
	r.Get("/login", authH.HandleLoginForm)
	r.Post("/login", authH.HandleLogin)
	r.Get("/register", authH.HandleRegisterForm)
	r.Post("/register", authH.HandleRegister)
	r.Get("/logout", authH.HandleLogout)
	r.Get("/auth/github/login", authH.HandleGitHubLogin)
	r.Get("/auth/github/callback", authH.HandleGitHubCallback)
	r.Get("/report", issueH.HandleReportForm)
	r.Post("/report", issueH.HandleReport)
	r.Get("/issue/{id}", issueH.HandleDetail)
	r.Post("/add_comment/{id}", issueH.HandleAddComment)
	r.Get("/admin", issueH.HandleAdmin)
	r.Post("/update_status/{id}", issueH.HandleUpdateStatus)
	r.Post("/upvote/{id}", issueH.HandleUpvote)
	r.Get("/uploads/{filename}", issueH.HandleUpload)

	return &testApp{router: r, issues: issues, users: users, uploadDir: dir}
}

// session registers an account and returns its cookie and actor.
func (a *testApp) session(t *testing.T, name, email string) (*http.Cookie, *model.Actor) {
	t.Helper()
	res, err := a.users.Register(context.Background(), service.RegisterInput{
		Name: name, Email: email, Password: "secret123",
	})
	require.NoError(t, err)
	return &http.Cookie{Name: auth.SessionCookie, Value: res.Token}, model.ActorFor(res.User)
}

func (a *testApp) citizen(t *testing.T) (*http.Cookie, *model.Actor) {
	t.Helper()
	return a.session(t, "Asha", "asha@example.com")
}

func (a *testApp) admin(t *testing.T) (*http.Cookie, *model.Actor) {
	t.Helper()
	return a.session(t, "Ward Office", testAdminEmail)
}

func floatPtr(f float64) *float64 { return &f }

func (a *testApp) report(t *testing.T, actor *model.Actor, title, category string) *model.Issue {
	t.Helper()
	issue, err := a.issues.Create(context.Background(), actor, service.CreateIssueInput{
		Title:       title,
		Description: "Reported from a handler test",
		Category:    category,
		Priority:    model.PriorityMedium,
		Latitude:    floatPtr(12.9),
		Longitude:   floatPtr(77.6),
		Address:     "MG Road",
	})
	require.NoError(t, err)
	return issue
}

func (a *testApp) do(req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testApp) get(path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	return a.do(httptest.NewRequest(http.MethodGet, path, nil), cookies...)
}

func (a *testApp) postForm(path string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return a.do(req, cookies...)
}

// flashes follows a redirect's flash cookie into GET / and returns the
// delivered messages.
func (a *testApp) flashes(t *testing.T, rec *httptest.ResponseRecorder) []string {
	t.Helper()
	c := cookieNamed(rec, "flash")
	if c == nil {
		return nil
	}
	var view handler.ListView
	decode(t, a.get("/", c), &view)

	out := make([]string, 0, len(view.Messages))
	for _, m := range view.Messages {
		out = append(out, m.Message)
	}
	return out
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"), rec.Body.String())
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dst))
}
