package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/civic-issues/internal/apperror"
	"github.com/sakif/civic-issues/internal/model"
	"github.com/sakif/civic-issues/internal/repository"
)

var _ repository.IssueRepository = (*IssueDB)(nil)

// IssueDB is the issues table accessor.
type IssueDB struct {
	conn *sql.DB
}

// summarySelect is shared by every read that returns IssueSummary rows.
//
// LEFT JOIN, not JOIN: anonymous issues have reported_by = NULL and must
// still be listed, with a NULL reporter name.
const summarySelect = `
	SELECT i.id, i.title, i.description, i.category, i.priority, i.status,
	       i.latitude, i.longitude, i.address, i.image_filename, i.upvotes,
	       i.reported_by, i.created_at, u.name, u.email
	FROM issues i
	LEFT JOIN users u ON u.id = i.reported_by`

// newestFirst orders by creation time, breaking ties on the id. xid values
// embed a timestamp plus a counter, so the id order matches insert order
// even within the same clock tick.
const newestFirst = ` ORDER BY i.created_at DESC, i.id DESC`

// Create inserts a new issue. The caller sets every user-supplied field;
// Create fills ID and CreatedAt and forces the initial lifecycle values
// (status pending, zero upvotes).
func (d *IssueDB) Create(ctx context.Context, issue *model.Issue) error {
	issue.ID = xid.New().String()
	issue.CreatedAt = time.Now().UTC()
	issue.Status = model.StatusPending
	issue.Upvotes = 0

	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO issues (id, title, description, category, priority, status,
		                     latitude, longitude, address, image_filename, upvotes,
		                     reported_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		issue.ID,
		issue.Title,
		issue.Description,
		issue.Category,
		string(issue.Priority),
		string(issue.Status),
		issue.Latitude,
		issue.Longitude,
		issue.Address,
		nullString(issue.ImageFilename),
		issue.Upvotes,
		nullString(issue.ReportedBy),
		issue.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating issue: %w", err)
	}

	return nil
}

// GetByID returns one issue with its reporter identity.
func (d *IssueDB) GetByID(ctx context.Context, id string) (*model.IssueSummary, error) {
	row := d.conn.QueryRowContext(ctx, summarySelect+` WHERE i.id = ?`, id)

	summary, err := scanSummary(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("issue", id)
		}
		return nil, fmt.Errorf("sqlite: getting issue %s: %w", id, err)
	}
	return summary, nil
}

// List returns every issue matching the filter, newest first.
//
// DYNAMIC WHERE CLAUSE:
// Only the clause skeletons are concatenated, and they are constants. Every
// user-supplied value still travels as a ? parameter, so the query stays
// injection-safe.
func (d *IssueDB) List(ctx context.Context, filter repository.IssueFilter) ([]model.IssueSummary, error) {
	var (
		clauses []string
		args    []any
	)

	if c := filter.Category; c != "" && c != repository.FilterAll {
		clauses = append(clauses, `i.category = ?`)
		args = append(args, c)
	}
	if s := filter.Status; s != "" && s != repository.FilterAll {
		clauses = append(clauses, `i.status = ?`)
		args = append(args, s)
	}
	if term := filter.Search; term != "" {
		// SQLite's LIKE is case-insensitive for ASCII. The term is escaped
		// so a literal % or _ typed by the user does not act as a wildcard.
		pattern := "%" + escapeLike(term) + "%"
		clauses = append(clauses, `(i.title LIKE ? ESCAPE '\' OR i.description LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}

	query := summarySelect
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, ` AND `)
	}
	query += newestFirst

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing issues: %w", err)
	}
	defer rows.Close()

	return collectSummaries(rows)
}

// Recent returns the newest `limit` issues regardless of status.
func (d *IssueDB) Recent(ctx context.Context, limit int) ([]model.IssueSummary, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := d.conn.QueryContext(ctx, summarySelect+newestFirst+` LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing recent issues: %w", err)
	}
	defer rows.Close()

	return collectSummaries(rows)
}

// UpdateStatus assigns a new status. There is no check against the current
// status: any transition is allowed. The CHECK constraint on the column
// still rejects values outside the fixed set.
func (d *IssueDB) UpdateStatus(ctx context.Context, id string, status model.Status) error {
	result, err := d.conn.ExecContext(ctx,
		`UPDATE issues SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("sqlite: updating status of issue %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("issue", id)
	}

	return nil
}

// IncrementUpvotes adds exactly one upvote and returns the new total.
//
// ATOMICITY:
// The read-modify-write happens inside one UPDATE ... RETURNING statement,
// so two concurrent upvotes can never both read the same old value.
func (d *IssueDB) IncrementUpvotes(ctx context.Context, id string) (int, error) {
	var upvotes int
	err := d.conn.QueryRowContext(ctx,
		`UPDATE issues SET upvotes = upvotes + 1 WHERE id = ? RETURNING upvotes`, id,
	).Scan(&upvotes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, apperror.NotFound("issue", id)
		}
		return 0, fmt.Errorf("sqlite: upvoting issue %s: %w", id, err)
	}
	return upvotes, nil
}

// CountByStatus returns the number of issues per status. Statuses with no
// issues are absent from the map.
func (d *IssueDB) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM issues GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: counting issues: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("sqlite: scanning status count: %w", err)
		}
		counts[model.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating status counts: %w", err)
	}

	return counts, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(s scanner) (*model.IssueSummary, error) {
	var (
		summary       model.IssueSummary
		priority      string
		status        string
		image         sql.NullString
		reportedBy    sql.NullString
		reporterName  sql.NullString
		reporterEmail sql.NullString
	)

	err := s.Scan(
		&summary.ID,
		&summary.Title,
		&summary.Description,
		&summary.Category,
		&priority,
		&status,
		&summary.Latitude,
		&summary.Longitude,
		&summary.Address,
		&image,
		&summary.Upvotes,
		&reportedBy,
		&summary.CreatedAt,
		&reporterName,
		&reporterEmail,
	)
	if err != nil {
		return nil, err
	}

	summary.Priority = model.Priority(priority)
	summary.Status = model.Status(status)
	summary.ImageFilename = stringPtr(image)
	summary.ReportedBy = stringPtr(reportedBy)
	summary.ReporterName = stringPtr(reporterName)
	summary.ReporterEmail = stringPtr(reporterEmail)

	return &summary, nil
}

func collectSummaries(rows *sql.Rows) ([]model.IssueSummary, error) {
	issues := make([]model.IssueSummary, 0)
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning issue row: %w", err)
		}
		issues = append(issues, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating issues: %w", err)
	}
	return issues, nil
}

// escapeLike escapes the LIKE metacharacters using backslash, matching the
// ESCAPE '\' clause in List.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
