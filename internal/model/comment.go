package model

import "time"

// Comment is a note attached to an issue. Comments are written once and
// never edited or deleted.
//
// IsOfficial is captured at posting time from the author's admin flag, so
// later promotions or demotions do not rewrite history.
type Comment struct {
	ID         string    `json:"id"`
	IssueID    string    `json:"issueId"`
	UserID     string    `json:"userId"`
	Content    string    `json:"content"`
	IsOfficial bool      `json:"isOfficial"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CommentView is a Comment with its author's display name.
type CommentView struct {
	Comment
	AuthorName string `json:"authorName"`
}
