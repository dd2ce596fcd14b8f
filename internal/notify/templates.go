package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"

	"github.com/sakif/civic-issues/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

// Event identifies a notification kind. It selects the template and is the
// label used in logs and metrics.
type Event string

const (
	EventWelcome       Event = "welcome"
	EventIssueCreated  Event = "issue_created"
	EventCommentAdded  Event = "comment_added"
	EventStatusChanged Event = "status_changed"
)

// Payload is the structured data for one event.
type Payload interface {
	Event() Event
	Subject() string
}

type Welcome struct {
	Name string
}

func (Welcome) Event() Event { return EventWelcome }

func (w Welcome) Subject() string {
	return "Welcome to Civic Issues, " + w.Name + "!"
}

type IssueCreated struct {
	ReporterName string
	IssueID      string
	Title        string
	Category     string
	Priority     model.Priority
	Address      string
}

func (IssueCreated) Event() Event { return EventIssueCreated }

func (p IssueCreated) Subject() string {
	return fmt.Sprintf("Issue Reported Successfully - #%s", p.IssueID)
}

type CommentAdded struct {
	ReporterName  string
	IssueID       string
	IssueTitle    string
	CommenterName string
	Content       string
	Official      bool
}

func (CommentAdded) Event() Event { return EventCommentAdded }

func (p CommentAdded) Subject() string {
	if p.Official {
		return fmt.Sprintf("Official Response to Your Issue #%s", p.IssueID)
	}
	return fmt.Sprintf("New Comment on Your Issue #%s", p.IssueID)
}

type StatusChanged struct {
	ReporterName string
	IssueID      string
	IssueTitle   string
	Status       model.Status
	Comment      string // optional
}

func (StatusChanged) Event() Event { return EventStatusChanged }

func (p StatusChanged) Subject() string {
	return fmt.Sprintf("Issue #%s Status Update: %s", p.IssueID, p.Status.Label())
}

// Indicator is the visual marker shown next to a status.
type Indicator struct {
	Emoji  string
	Colour string
}

var indicators = map[model.Status]Indicator{
	model.StatusPending:    {Emoji: "⏳", Colour: "#f59e0b"},
	model.StatusInProgress: {Emoji: "🔧", Colour: "#3b82f6"},
	model.StatusResolved:   {Emoji: "✅", Colour: "#10b981"},
	model.StatusRejected:   {Emoji: "❌", Colour: "#ef4444"},
}

var defaultIndicator = Indicator{Emoji: "📋", Colour: "#6b7280"}

// IndicatorFor returns the marker for s, or the neutral default for
// statuses without one.
func IndicatorFor(s model.Status) Indicator {
	if ind, ok := indicators[s]; ok {
		return ind
	}
	return defaultIndicator
}

// statusView adds the derived fields the status template renders.
type statusView struct {
	StatusChanged
	StatusLabel string
	Emoji       string
	Colour      template.CSS // fixed palette, safe inside style attributes
}

// Message is a rendered email.
type Message struct {
	Subject string
	Body    string
}

// Templates renders payloads into HTML emails.
type Templates struct {
	set *template.Template
}

// NewTemplates parses the embedded template set.
func NewTemplates() (*Templates, error) {
	set, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("notify: parsing templates: %w", err)
	}
	for _, ev := range []Event{EventWelcome, EventIssueCreated, EventCommentAdded, EventStatusChanged} {
		if set.Lookup(string(ev)+".html") == nil {
			return nil, fmt.Errorf("notify: missing template for event %q", ev)
		}
	}
	return &Templates{set: set}, nil
}

// Render produces the subject and HTML body for p.
func (t *Templates) Render(p Payload) (Message, error) {
	var data any = p
	if sc, ok := p.(StatusChanged); ok {
		ind := IndicatorFor(sc.Status)
		data = statusView{
			StatusChanged: sc,
			StatusLabel:   sc.Status.Label(),
			Emoji:         ind.Emoji,
			Colour:        template.CSS(ind.Colour),
		}
	}

	var buf bytes.Buffer
	if err := t.set.ExecuteTemplate(&buf, string(p.Event())+".html", data); err != nil {
		return Message{}, fmt.Errorf("notify: rendering %s: %w", p.Event(), err)
	}
	return Message{Subject: p.Subject(), Body: buf.String()}, nil
}
