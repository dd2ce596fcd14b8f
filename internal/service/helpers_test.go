package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sakif/civic-issues/internal/auth"
	"github.com/sakif/civic-issues/internal/model"
	"github.com/sakif/civic-issues/internal/notify"
	"github.com/sakif/civic-issues/internal/repository/sqlite"
)

const testAdminEmail = "ward@city.gov"

// recordingNotifier keeps every notification instead of sending it.
// With reject set it refuses them, like a full dispatcher queue.
type recordingNotifier struct {
	mu     sync.Mutex
	sent   []notify.Notification
	reject bool
}

func (n *recordingNotifier) Notify(_ context.Context, x notify.Notification) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, x)
	return !n.reject
}

func (n *recordingNotifier) byEvent(ev notify.Event) []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Notification
	for _, x := range n.sent {
		if x.Payload.Event() == ev {
			out = append(out, x)
		}
	}
	return out
}

type countingEvents struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingEvents) LifecycleEvent(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[event]++
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEnv is both services over one in-memory database.
type testEnv struct {
	db       *sqlite.DB
	issues   *IssueService
	users    *UserService
	notifier *recordingNotifier
	events   *countingEvents
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithNotifier(t, &recordingNotifier{})
}

func newTestEnvWithNotifier(t *testing.T, n Notifier) *testEnv {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars", time.Hour)
	require.NoError(t, err)

	events := &countingEvents{}
	env := &testEnv{
		db:     db,
		events: events,
		issues: NewIssueService(db.Issues(), db.Comments(), db.Users(), n, events, testLogger()),
		users: NewUserService(db.Users(), tokens, auth.NewPasswordServiceForTest(4), n,
			[]string{testAdminEmail}, testLogger()),
	}
	if rn, ok := n.(*recordingNotifier); ok {
		env.notifier = rn
	}
	return env
}

// citizen registers a regular account and returns its actor.
func (e *testEnv) citizen(t *testing.T, name, email string) *model.Actor {
	t.Helper()
	res, err := e.users.Register(context.Background(), RegisterInput{Name: name, Email: email, Password: "secret123"})
	require.NoError(t, err)
	require.False(t, res.User.IsAdmin)
	return model.ActorFor(res.User)
}

// admin registers the configured admin account.
func (e *testEnv) admin(t *testing.T) *model.Actor {
	t.Helper()
	res, err := e.users.Register(context.Background(), RegisterInput{Name: "Ward Office", Email: testAdminEmail, Password: "secret123"})
	require.NoError(t, err)
	require.True(t, res.User.IsAdmin)
	return model.ActorFor(res.User)
}

func floatPtr(f float64) *float64 { return &f }

func validIssueInput(title string) CreateIssueInput {
	return CreateIssueInput{
		Title:       title,
		Description: "Deep pothole near the bus stop",
		Category:    "roads",
		Priority:    model.PriorityHigh,
		Latitude:    floatPtr(12.9),
		Longitude:   floatPtr(77.6),
		Address:     "5th Main, Indiranagar",
	}
}

func (e *testEnv) report(t *testing.T, actor *model.Actor, title string) *model.Issue {
	t.Helper()
	issue, err := e.issues.Create(context.Background(), actor, validIssueInput(title))
	require.NoError(t, err)
	return issue
}
