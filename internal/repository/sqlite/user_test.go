package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/civic-issues/internal/apperror"
	"github.com/sakif/civic-issues/internal/model"
)

// newTestDB opens a fresh in-memory database for one test.
//
// t.Helper() makes failures point at the caller's line, and t.Cleanup
// closes the database when the test (or subtest) finishes.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// createTestUser creates a user and fails the test if it errors.
func createTestUser(t *testing.T, db *DB, name, email string, admin bool) *model.User {
	t.Helper()
	user := &model.User{
		Name:         name,
		Email:        email,
		PasswordHash: "$2a$04$not-a-real-hash",
		IsAdmin:      admin,
	}
	if err := db.Users().Create(context.Background(), user); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// =========================================================================
// CREATE TESTS
// =========================================================================

func TestUserCreate(t *testing.T) {
	db := newTestDB(t)

	user := &model.User{Name: "Asha", Email: "asha@example.com", PasswordHash: "hash"}
	if err := db.Users().Create(context.Background(), user); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if user.ID == "" {
		t.Error("Create() did not set user.ID")
	}
	if user.CreatedAt.IsZero() {
		t.Error("Create() did not set user.CreatedAt")
	}
}

func TestUserCreate_DuplicateEmail(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "First", "dup@example.com", false)

	err := db.Users().Create(context.Background(), &model.User{Name: "Second", Email: "dup@example.com"})
	if err == nil {
		t.Fatal("Create() should fail for a duplicate email")
	}
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("Create() error = %v, want ErrConflict", err)
	}

	n, err := db.Users().Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d after rejected duplicate, want 1", n)
	}
}

// =========================================================================
// LOOKUP TESTS
// =========================================================================

func TestUserGetByID(t *testing.T) {
	db := newTestDB(t)
	created := createTestUser(t, db, "Ravi", "ravi@example.com", true)

	found, err := db.Users().GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if found.Email != "ravi@example.com" {
		t.Errorf("Email = %q, want %q", found.Email, "ravi@example.com")
	}
	if !found.IsAdmin {
		t.Error("IsAdmin = false, want true")
	}
	if found.PasswordHash != created.PasswordHash {
		t.Errorf("PasswordHash = %q, want %q", found.PasswordHash, created.PasswordHash)
	}
}

func TestUserGetByID_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.Users().GetByID(context.Background(), "missing")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestUserGetByEmail(t *testing.T) {
	db := newTestDB(t)
	created := createTestUser(t, db, "Meera", "meera@example.com", false)

	found, err := db.Users().GetByEmail(context.Background(), "meera@example.com")
	if err != nil {
		t.Fatalf("GetByEmail() error = %v", err)
	}
	if found.ID != created.ID {
		t.Errorf("ID = %q, want %q", found.ID, created.ID)
	}

	_, err = db.Users().GetByEmail(context.Background(), "nobody@example.com")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByEmail(unknown) error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// SET ADMIN TESTS
// =========================================================================

func TestUserSetAdmin(t *testing.T) {
	db := newTestDB(t)
	created := createTestUser(t, db, "Officer", "officer@city.gov", false)

	ok, err := db.Users().SetAdmin(context.Background(), "officer@city.gov", true)
	if err != nil {
		t.Fatalf("SetAdmin() error = %v", err)
	}
	if !ok {
		t.Fatal("SetAdmin() = false for an existing user")
	}

	found, _ := db.Users().GetByID(context.Background(), created.ID)
	if !found.IsAdmin {
		t.Error("IsAdmin = false after SetAdmin(true)")
	}

	ok, err = db.Users().SetAdmin(context.Background(), "ghost@city.gov", true)
	if err != nil {
		t.Fatalf("SetAdmin(unknown) error = %v", err)
	}
	if ok {
		t.Error("SetAdmin(unknown) = true, want false")
	}
}
