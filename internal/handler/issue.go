package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/civic-issues/internal/apperror"
	"github.com/sakif/civic-issues/internal/auth"
	"github.com/sakif/civic-issues/internal/model"
	"github.com/sakif/civic-issues/internal/repository"
	"github.com/sakif/civic-issues/internal/service"
	"github.com/sakif/civic-issues/internal/upload"
)

// Issues is the part of service.IssueService the handlers call.
type Issues interface {
	List(ctx context.Context, filter repository.IssueFilter) ([]model.IssueSummary, error)
	Get(ctx context.Context, id string) (*service.IssueDetail, error)
	Create(ctx context.Context, actor *model.Actor, in service.CreateIssueInput) (*model.Issue, error)
	AddComment(ctx context.Context, actor *model.Actor, issueID, content string) (*model.Comment, error)
	UpdateStatus(ctx context.Context, actor *model.Actor, issueID string, status model.Status, note string) error
	Upvote(ctx context.Context, actor *model.Actor, issueID string) (int, error)
	Dashboard(ctx context.Context, actor *model.Actor) (*service.Dashboard, error)
}

// ImageStore is the part of upload.Store the report form uses.
type ImageStore interface {
	Save(original string, r io.Reader) (string, error)
	Remove(name string)
	Path(name string) (string, error)
}

// IssueHandler serves the public issue pages, the report and comment forms,
// upvotes, and the admin panel.
type IssueHandler struct {
	issues  Issues
	uploads ImageStore
	logger  *slog.Logger
}

func NewIssueHandler(issues Issues, uploads ImageStore, logger *slog.Logger) *IssueHandler {
	return &IssueHandler{issues: issues, uploads: uploads, logger: logger}
}

// ListView is the home page: the filtered issue list.
type ListView struct {
	Issues   []model.IssueSummary `json:"issues"`
	Filters  ListFilters          `json:"filters"`
	Statuses []model.Status       `json:"statuses"`
	User     *model.Actor         `json:"user,omitempty"`
	Messages []Flash              `json:"messages"`
}

// ListFilters echoes the active filters so the client can keep them selected.
type ListFilters struct {
	Category string `json:"category"`
	Status   string `json:"status"`
	Search   string `json:"search"`
}

// DetailView is a single issue with its comment thread.
type DetailView struct {
	Issue    model.IssueSummary  `json:"issue"`
	Comments []model.CommentView `json:"comments"`
	User     *model.Actor        `json:"user,omitempty"`
	Messages []Flash             `json:"messages"`
}

// AdminView is the admin panel.
type AdminView struct {
	Stats        model.Stats          `json:"stats"`
	RecentIssues []model.IssueSummary `json:"recentIssues"`
	Statuses     []model.Status       `json:"statuses"`
	User         *model.Actor         `json:"user"`
	Messages     []Flash              `json:"messages"`
}

// HandleList returns issues matching ?category=&status=&search=.
//
// HTTP: GET /
func (h *IssueHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	filter := filterFromQuery(r)

	issues, err := h.issues.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("listing issues", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	if issues == nil {
		issues = []model.IssueSummary{}
	}

	writeJSON(w, http.StatusOK, ListView{
		Issues: issues,
		Filters: ListFilters{
			Category: filter.Category,
			Status:   filter.Status,
			Search:   filter.Search,
		},
		Statuses: model.Statuses,
		User:     auth.ActorFromContext(r.Context()),
		Messages: popFlashes(w, r),
	})
}

// HandleReportForm describes the report form. Anonymous visitors are sent
// to the login page.
//
// HTTP: GET /report
func (h *IssueHandler) HandleReportForm(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())
	if actor == nil {
		setFlash(w, "error", "Please login to report issues!")
		redirect(w, r, "/login")
		return
	}

	writeJSON(w, http.StatusOK, FormView{
		Form:   "report",
		Action: "/report",
		Fields: []string{"title", "description", "category", "priority", "latitude", "longitude", "address", "image"},
		Options: &FormOptions{
			Priorities: []model.Priority{model.PriorityLow, model.PriorityMedium, model.PriorityHigh},
		},
		User:     actor,
		Messages: popFlashes(w, r),
	})
}

// HandleReport creates an issue from a multipart form with an optional
// "image" file.
//
// HTTP: POST /report
//
// The image is stored before the issue is created so its name can go into
// the row. If creation then fails the file is removed again.
func (h *IssueHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())
	if actor == nil {
		setFlash(w, "error", "Please login to report issues!")
		redirect(w, r, "/login")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, upload.MaxBytes)
	if err := r.ParseMultipartForm(upload.MaxBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			failPage(w, r, h.logger, apperror.ValidationFailed("image", "Image must be 16 MB or smaller"), "/report")
			return
		}
		failPage(w, r, h.logger, apperror.ValidationFailed("", "Could not read the submitted form"), "/report")
		return
	}

	in := issueInputFromForm(r)

	image, err := h.saveImage(r)
	if err != nil {
		failPage(w, r, h.logger, err, "/report")
		return
	}
	in.ImageFilename = image

	issue, err := h.issues.Create(r.Context(), actor, in)
	if err != nil {
		if image != nil {
			h.uploads.Remove(*image)
		}
		failPage(w, r, h.logger, err, "/report")
		return
	}

	setFlash(w, "success", "Issue reported successfully!")
	redirect(w, r, "/issue/"+issue.ID)
}

// saveImage stores the optional "image" part. No file, or a file input
// left empty, yields nil.
func (h *IssueHandler) saveImage(r *http.Request) (*string, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, apperror.ValidationFailed("image", "Could not read the uploaded image")
	}
	defer file.Close()

	if header.Filename == "" {
		return nil, nil
	}
	name, err := h.uploads.Save(header.Filename, file)
	if err != nil {
		return nil, err
	}
	return &name, nil
}

// HandleDetail returns one issue with its comments. A missing issue
// redirects home with a flash.
//
// HTTP: GET /issue/{id}
func (h *IssueHandler) HandleDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := h.issues.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		failPage(w, r, h.logger, err, "/")
		return
	}
	comments := detail.Comments
	if comments == nil {
		comments = []model.CommentView{}
	}

	writeJSON(w, http.StatusOK, DetailView{
		Issue:    detail.Issue,
		Comments: comments,
		User:     auth.ActorFromContext(r.Context()),
		Messages: popFlashes(w, r),
	})
}

// HandleAddComment posts a comment. Comments by admins are official.
//
// HTTP: POST /add_comment/{id} (form: content)
func (h *IssueHandler) HandleAddComment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor := auth.ActorFromContext(r.Context())

	if _, err := h.issues.AddComment(r.Context(), actor, id, r.FormValue("content")); err != nil {
		failPage(w, r, h.logger, err, "/issue/"+id)
		return
	}

	setFlash(w, "success", "Comment added successfully!")
	redirect(w, r, "/issue/"+id)
}

// HandleAdmin returns the dashboard. Signed-in non-admins are sent home
// with a flash, anonymous visitors to the login page.
//
// HTTP: GET /admin
func (h *IssueHandler) HandleAdmin(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())

	dash, err := h.issues.Dashboard(r.Context(), actor)
	if err != nil {
		if errors.Is(err, apperror.ErrForbidden) {
			setFlash(w, "error", "Admin access required!")
			redirect(w, r, "/")
			return
		}
		failPage(w, r, h.logger, err, "/")
		return
	}
	recent := dash.Recent
	if recent == nil {
		recent = []model.IssueSummary{}
	}

	writeJSON(w, http.StatusOK, AdminView{
		Stats:        dash.Stats,
		RecentIssues: recent,
		Statuses:     model.Statuses,
		User:         actor,
		Messages:     popFlashes(w, r),
	})
}

// HandleUpdateStatus sets an issue's status, with an optional official
// comment. Failures answer in JSON since the admin panel posts this from
// script.
//
// HTTP: POST /update_status/{id} (form: status, comment)
func (h *IssueHandler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status := model.Status(strings.TrimSpace(r.FormValue("status")))

	err := h.issues.UpdateStatus(r.Context(), auth.ActorFromContext(r.Context()), id, status, r.FormValue("comment"))
	if err != nil {
		if _, kind := statusFor(err); kind == "internal_error" {
			h.logger.Error("updating status", slog.String("issueID", id), slog.String("error", err.Error()))
		}
		writeActionError(w, err)
		return
	}

	setFlash(w, "success", "Status updated successfully!")
	redirect(w, r, "/admin")
}

// HandleUpvote adds one vote and returns the new total.
//
// HTTP: POST /upvote/{id}
func (h *IssueHandler) HandleUpvote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	n, err := h.issues.Upvote(r.Context(), auth.ActorFromContext(r.Context()), id)
	if err != nil {
		if _, kind := statusFor(err); kind == "internal_error" {
			h.logger.Error("upvoting", slog.String("issueID", id), slog.String("error", err.Error()))
		}
		writeActionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ActionResponse{Success: true, Upvotes: &n})
}

// HandleUpload serves a stored image.
//
// HTTP: GET /uploads/{filename}
func (h *IssueHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	path, err := h.uploads.Path(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, name, info.ModTime(), f)
}
