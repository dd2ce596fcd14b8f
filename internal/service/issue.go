// Package service holds the business rules: the issue lifecycle, the
// listing query, and accounts.
//
// Every state-changing operation takes the acting *model.Actor explicitly.
// A nil actor is an anonymous caller. Permission checks depend only on the
// actor and the resource, so the same rules apply whether the call comes
// from a handler, a test, or a background job.
//
// Notifications are handed to a Notifier and never affect the outcome of
// the operation that triggered them.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/civic-issues/internal/apperror"
	"github.com/sakif/civic-issues/internal/model"
	"github.com/sakif/civic-issues/internal/notify"
	"github.com/sakif/civic-issues/internal/repository"
)

// RecentIssuesLimit is how many issues the admin dashboard shows.
const RecentIssuesLimit = 10

// Lifecycle event names, used in logs and metrics.
const (
	EventCreated       = "created"
	EventCommented     = "commented"
	EventStatusChanged = "status_changed"
	EventUpvoted       = "upvoted"
)

// Notifier accepts a notification for delivery. It must not block on the
// transport. *notify.Dispatcher implements it.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notification) bool
}

// EventRecorder counts lifecycle events. *metrics.Metrics implements it.
type EventRecorder interface {
	LifecycleEvent(event string)
}

type nopRecorder struct{}

func (nopRecorder) LifecycleEvent(string) {}

// IssueService is the issue lifecycle manager and query engine.
type IssueService struct {
	issues   repository.IssueRepository
	comments repository.CommentRepository
	users    repository.UserRepository
	notifier Notifier
	events   EventRecorder
	logger   *slog.Logger
}

// NewIssueService wires an IssueService. events may be nil.
func NewIssueService(
	issues repository.IssueRepository,
	comments repository.CommentRepository,
	users repository.UserRepository,
	notifier Notifier,
	events EventRecorder,
	logger *slog.Logger,
) *IssueService {
	if events == nil {
		events = nopRecorder{}
	}
	return &IssueService{
		issues:   issues,
		comments: comments,
		users:    users,
		notifier: notifier,
		events:   events,
		logger:   logger,
	}
}

// CreateIssueInput is a new report as submitted by a citizen.
type CreateIssueInput struct {
	Title         string         `validate:"required,max=255"`
	Description   string         `validate:"required"`
	Category      string         `validate:"required,max=100"`
	Priority      model.Priority `validate:"required,oneof=low medium high"`
	Latitude      *float64       `validate:"required,gte=-90,lte=90"`
	Longitude     *float64       `validate:"required,gte=-180,lte=180"`
	Address       string         `validate:"required,max=255"`
	ImageFilename *string
}

func (in *CreateIssueInput) normalize() {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Category = strings.TrimSpace(in.Category)
	in.Priority = model.Priority(strings.ToLower(strings.TrimSpace(string(in.Priority))))
	in.Address = strings.TrimSpace(in.Address)
}

// IssueDetail is an issue with its comments, oldest first.
type IssueDetail struct {
	Issue    model.IssueSummary  `json:"issue"`
	Comments []model.CommentView `json:"comments"`
}

// Dashboard backs the admin panel.
type Dashboard struct {
	Stats  model.Stats          `json:"stats"`
	Recent []model.IssueSummary `json:"recentIssues"`
}

// List returns the issues matching filter, newest first.
func (s *IssueService) List(ctx context.Context, filter repository.IssueFilter) ([]model.IssueSummary, error) {
	filter.Category = strings.TrimSpace(filter.Category)
	filter.Status = strings.TrimSpace(filter.Status)
	filter.Search = strings.TrimSpace(filter.Search)

	issues, err := s.issues.List(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list issues", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing issues: %w", err)
	}
	return issues, nil
}

// Get returns an issue with its reporter name and comments.
func (s *IssueService) Get(ctx context.Context, id string) (*IssueDetail, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "issue ID is required")
	}

	issue, err := s.issues.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	comments, err := s.comments.ListByIssue(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("listing comments for issue %s: %w", id, err)
	}

	return &IssueDetail{Issue: *issue, Comments: comments}, nil
}

// Create files a new report owned by actor. It starts pending with no
// upvotes, and the reporter gets a confirmation email.
func (s *IssueService) Create(ctx context.Context, actor *model.Actor, in CreateIssueInput) (*model.Issue, error) {
	if actor == nil {
		return nil, apperror.Unauthenticated("Please login to report issues!")
	}

	in.normalize()
	if err := validateInput(&in); err != nil {
		return nil, err
	}

	reporter := actor.UserID
	issue := &model.Issue{
		Title:         in.Title,
		Description:   in.Description,
		Category:      in.Category,
		Priority:      in.Priority,
		Latitude:      *in.Latitude,
		Longitude:     *in.Longitude,
		Address:       in.Address,
		ImageFilename: in.ImageFilename,
		ReportedBy:    &reporter,
	}

	if err := s.issues.Create(ctx, issue); err != nil {
		s.logger.Error("failed to create issue",
			slog.String("userID", actor.UserID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating issue: %w", err)
	}

	s.events.LifecycleEvent(EventCreated)
	s.logger.Info("issue created",
		slog.String("issueID", issue.ID),
		slog.String("userID", actor.UserID),
		slog.String("category", issue.Category),
	)

	if actor.Email != "" {
		s.notify(ctx, actor.Email, notify.IssueCreated{
			ReporterName: actor.Name,
			IssueID:      issue.ID,
			Title:        issue.Title,
			Category:     issue.Category,
			Priority:     issue.Priority,
			Address:      issue.Address,
		})
	}

	return issue, nil
}

// AddComment appends a comment by actor. Comments by admins are official.
// The reporter is notified unless they wrote the comment themselves.
func (s *IssueService) AddComment(ctx context.Context, actor *model.Actor, issueID, content string) (*model.Comment, error) {
	if actor == nil {
		return nil, apperror.Unauthenticated("Please login to comment!")
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperror.ValidationFailed("content", "Comment cannot be empty")
	}

	issue, err := s.issues.GetByID(ctx, issueID)
	if err != nil {
		return nil, err
	}

	comment := &model.Comment{
		IssueID:    issue.ID,
		UserID:     actor.UserID,
		Content:    content,
		IsOfficial: actor.IsAdmin,
	}
	if err := s.comments.Create(ctx, comment); err != nil {
		return nil, fmt.Errorf("adding comment to issue %s: %w", issue.ID, err)
	}

	s.events.LifecycleEvent(EventCommented)
	s.logger.Info("comment added",
		slog.String("issueID", issue.ID),
		slog.String("userID", actor.UserID),
		slog.Bool("official", comment.IsOfficial),
	)

	if to, ok := reporterEmail(issue); ok && !strings.EqualFold(to, actor.Email) {
		s.notify(ctx, to, notify.CommentAdded{
			ReporterName:  derefOr(issue.ReporterName, ""),
			IssueID:       issue.ID,
			IssueTitle:    issue.Title,
			CommenterName: actor.Name,
			Content:       content,
			Official:      comment.IsOfficial,
		})
	}

	return comment, nil
}

// UpdateStatus moves an issue to status. Any transition within the fixed
// set is allowed. A non-empty note is stored as an official comment and
// included in the reporter's email.
func (s *IssueService) UpdateStatus(ctx context.Context, actor *model.Actor, issueID string, status model.Status, note string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	status = model.Status(strings.TrimSpace(string(status)))
	if !status.Valid() {
		return apperror.ValidationFailed("status", fmt.Sprintf("unknown status %q", status))
	}

	issue, err := s.issues.GetByID(ctx, issueID)
	if err != nil {
		return err
	}

	if err := s.issues.UpdateStatus(ctx, issue.ID, status); err != nil {
		return err
	}

	note = strings.TrimSpace(note)
	if note != "" {
		err := s.comments.Create(ctx, &model.Comment{
			IssueID:    issue.ID,
			UserID:     actor.UserID,
			Content:    note,
			IsOfficial: true,
		})
		if err != nil {
			return fmt.Errorf("recording status note on issue %s: %w", issue.ID, err)
		}
	}

	s.events.LifecycleEvent(EventStatusChanged)
	s.logger.Info("issue status updated",
		slog.String("issueID", issue.ID),
		slog.String("from", string(issue.Status)),
		slog.String("to", string(status)),
		slog.String("adminID", actor.UserID),
	)

	if to, ok := reporterEmail(issue); ok {
		s.notify(ctx, to, notify.StatusChanged{
			ReporterName: derefOr(issue.ReporterName, ""),
			IssueID:      issue.ID,
			IssueTitle:   issue.Title,
			Status:       status,
			Comment:      note,
		})
	}

	return nil
}

// Upvote adds one vote and returns the new total. Repeat votes count.
func (s *IssueService) Upvote(ctx context.Context, actor *model.Actor, issueID string) (int, error) {
	if actor == nil {
		return 0, apperror.Unauthenticated("Login required")
	}

	total, err := s.issues.IncrementUpvotes(ctx, issueID)
	if err != nil {
		return 0, err
	}

	s.events.LifecycleEvent(EventUpvoted)
	s.logger.Debug("issue upvoted",
		slog.String("issueID", issueID),
		slog.String("userID", actor.UserID),
		slog.Int("upvotes", total),
	)
	return total, nil
}

// Stats computes the dashboard counters.
func (s *IssueService) Stats(ctx context.Context) (model.Stats, error) {
	byStatus, err := s.issues.CountByStatus(ctx)
	if err != nil {
		return model.Stats{}, fmt.Errorf("counting issues: %w", err)
	}
	users, err := s.users.Count(ctx)
	if err != nil {
		return model.Stats{}, fmt.Errorf("counting users: %w", err)
	}

	stats := model.Stats{
		PendingIssues:  byStatus[model.StatusPending],
		ResolvedIssues: byStatus[model.StatusResolved],
		TotalUsers:     users,
	}
	for _, n := range byStatus {
		stats.TotalIssues += n
	}
	return stats, nil
}

// Dashboard returns the admin counters and the most recent reports.
func (s *IssueService) Dashboard(ctx context.Context, actor *model.Actor) (*Dashboard, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := s.issues.Recent(ctx, RecentIssuesLimit)
	if err != nil {
		return nil, fmt.Errorf("loading recent issues: %w", err)
	}
	return &Dashboard{Stats: stats, Recent: recent}, nil
}

func (s *IssueService) notify(ctx context.Context, to string, p notify.Payload) {
	if !s.notifier.Notify(ctx, notify.Notification{To: to, Payload: p}) {
		s.logger.Warn("notification not queued",
			slog.String("event", string(p.Event())),
			slog.String("recipient", to),
		)
	}
}

func requireAdmin(actor *model.Actor) error {
	if actor == nil {
		return apperror.Unauthenticated("Please login first!")
	}
	if !actor.IsAdmin {
		return apperror.Forbidden("Admin access required")
	}
	return nil
}

func reporterEmail(issue *model.IssueSummary) (string, bool) {
	if issue.ReporterEmail == nil || *issue.ReporterEmail == "" {
		return "", false
	}
	return *issue.ReporterEmail, true
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
