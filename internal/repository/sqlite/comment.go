package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/civic-issues/internal/model"
	"github.com/sakif/civic-issues/internal/repository"
)

var _ repository.CommentRepository = (*CommentDB)(nil)

// CommentDB is the comments table accessor. There is no Update or Delete:
// comments are immutable once posted.
type CommentDB struct {
	conn *sql.DB
}

// Create inserts a comment. The foreign keys reject unknown issues or users.
func (d *CommentDB) Create(ctx context.Context, comment *model.Comment) error {
	comment.ID = xid.New().String()
	comment.CreatedAt = time.Now().UTC()

	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO comments (id, issue_id, user_id, content, is_official, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		comment.ID,
		comment.IssueID,
		comment.UserID,
		comment.Content,
		comment.IsOfficial,
		comment.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating comment on issue %s: %w", comment.IssueID, err)
	}

	return nil
}

// ListByIssue returns an issue's comments in posting order (oldest first).
func (d *CommentDB) ListByIssue(ctx context.Context, issueID string) ([]model.CommentView, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT c.id, c.issue_id, c.user_id, c.content, c.is_official, c.created_at, u.name
		 FROM comments c
		 JOIN users u ON u.id = c.user_id
		 WHERE c.issue_id = ?
		 ORDER BY c.created_at ASC, c.id ASC`,
		issueID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing comments for issue %s: %w", issueID, err)
	}
	defer rows.Close()

	comments := make([]model.CommentView, 0)
	for rows.Next() {
		var c model.CommentView
		if err := rows.Scan(
			&c.ID, &c.IssueID, &c.UserID, &c.Content, &c.IsOfficial,
			&c.CreatedAt, &c.AuthorName,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning comment row: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating comments: %w", err)
	}

	return comments, nil
}
