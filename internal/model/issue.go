package model

import (
	"strings"
	"time"
)

// Status is the lifecycle state of an issue.
//
// Transitions are unconstrained: an admin may assign any status at any time,
// including moving backwards. The only invariant is membership in this set.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusResolved   Status = "resolved"
	StatusRejected   Status = "rejected"
)

// Statuses lists every valid status in display order.
var Statuses = []Status{StatusPending, StatusInProgress, StatusResolved, StatusRejected}

// Valid reports whether s is one of the fixed statuses.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Label turns the stored value into a human-readable form:
// "in-progress" becomes "In Progress".
func (s Status) Label() string {
	words := strings.Fields(strings.ReplaceAll(string(s), "-", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Priority is how urgent the reporter thinks the issue is.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Issue is a reported urban problem.
//
// ReportedBy is nil for anonymous reports. Upvotes only ever grows.
type Issue struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Category      string    `json:"category"`
	Priority      Priority  `json:"priority"`
	Status        Status    `json:"status"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Address       string    `json:"address"`
	ImageFilename *string   `json:"imageFilename,omitempty"`
	Upvotes       int       `json:"upvotes"`
	ReportedBy    *string   `json:"reportedBy,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// IssueSummary is an Issue joined with its reporter's identity.
// Both reporter fields are nil for anonymous issues.
type IssueSummary struct {
	Issue
	ReporterName  *string `json:"reporterName"`
	ReporterEmail *string `json:"-"`
}

// Stats backs the admin dashboard counters.
type Stats struct {
	TotalIssues    int `json:"totalIssues"`
	PendingIssues  int `json:"pendingIssues"`
	ResolvedIssues int `json:"resolvedIssues"`
	TotalUsers     int `json:"totalUsers"`
}
