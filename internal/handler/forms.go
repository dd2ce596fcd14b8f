package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/sakif/civic-issues/internal/model"
	"github.com/sakif/civic-issues/internal/repository"
	"github.com/sakif/civic-issues/internal/service"
)

// FormView describes an input form for a client that renders its own page.
type FormView struct {
	Form     string       `json:"form"`
	Action   string       `json:"action"`
	Fields   []string     `json:"fields"`
	Options  *FormOptions `json:"options,omitempty"`
	User     *model.Actor `json:"user,omitempty"`
	Messages []Flash      `json:"messages"`
}

// FormOptions lists the allowed values of enumerated fields.
type FormOptions struct {
	Priorities []model.Priority `json:"priorities,omitempty"`
	Statuses   []model.Status   `json:"statuses,omitempty"`
}

// optionalFloat parses a coordinate. Blank or malformed input becomes nil,
// which the service reports as a missing field.
func optionalFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// issueInputFromForm reads the report form. The image is handled separately.
func issueInputFromForm(r *http.Request) service.CreateIssueInput {
	priority := r.FormValue("priority")
	if strings.TrimSpace(priority) == "" {
		priority = string(model.PriorityMedium)
	}
	return service.CreateIssueInput{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Category:    r.FormValue("category"),
		Priority:    model.Priority(priority),
		Latitude:    optionalFloat(r.FormValue("latitude")),
		Longitude:   optionalFloat(r.FormValue("longitude")),
		Address:     r.FormValue("address"),
	}
}

// filterFromQuery reads ?category=&status=&search= for the listing.
func filterFromQuery(r *http.Request) repository.IssueFilter {
	q := r.URL.Query()
	return repository.IssueFilter{
		Category: strings.TrimSpace(q.Get("category")),
		Status:   strings.TrimSpace(q.Get("status")),
		Search:   strings.TrimSpace(q.Get("search")),
	}
}
