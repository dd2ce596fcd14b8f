// Package repository declares the storage contracts the service layer
// depends on. The sqlite sub-package is the only production implementation.
package repository

import (
	"context"

	"github.com/sakif/civic-issues/internal/model"
)

// FilterAll is the sentinel value meaning "do not filter on this field".
const FilterAll = "all"

// IssueFilter narrows an issue listing. Empty fields and FilterAll are
// ignored; the remaining fields are combined with AND. Search matches the
// title OR the description as a substring.
//
// Case folding only covers ASCII letters, the same as SQLite's LIKE: "STREET"
// finds "street", but "ÉCLAIRAGE" does not find "éclairage". Accented letters
// must match exactly.
type IssueFilter struct {
	Category string
	Status   string
	Search   string
}

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	SetAdmin(ctx context.Context, email string, isAdmin bool) (bool, error)
	Count(ctx context.Context) (int, error)
}

type IssueRepository interface {
	Create(ctx context.Context, issue *model.Issue) error
	GetByID(ctx context.Context, id string) (*model.IssueSummary, error)
	List(ctx context.Context, filter IssueFilter) ([]model.IssueSummary, error)
	Recent(ctx context.Context, limit int) ([]model.IssueSummary, error)
	UpdateStatus(ctx context.Context, id string, status model.Status) error
	IncrementUpvotes(ctx context.Context, id string) (int, error)
	CountByStatus(ctx context.Context) (map[model.Status]int, error)
}

type CommentRepository interface {
	Create(ctx context.Context, comment *model.Comment) error
	ListByIssue(ctx context.Context, issueID string) ([]model.CommentView, error)
}
