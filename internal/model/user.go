// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents a registered account.
//
// PasswordHash is a bcrypt hash. It is empty for accounts created through
// GitHub sign-in, which means password login can never succeed for them.
type User struct {
	ID           string    `json:"id"        db:"id"`
	Name         string    `json:"name"      db:"name"`
	Email        string    `json:"email"     db:"email"` // unique, lower-cased
	PasswordHash string    `json:"-"         db:"password_hash"`
	IsAdmin      bool      `json:"isAdmin"   db:"is_admin"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// Actor is the identity performing a request.
//
// A nil *Actor is an anonymous visitor. Every lifecycle operation takes the
// actor as an explicit argument, so permission checks depend only on the
// actor and the resource, never on ambient request state.
type Actor struct {
	UserID  string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"isAdmin"`
}

// ActorFor builds the Actor for a persisted user.
func ActorFor(u *User) *Actor {
	if u == nil {
		return nil
	}
	return &Actor{
		UserID:  u.ID,
		Name:    u.Name,
		Email:   u.Email,
		IsAdmin: u.IsAdmin,
	}
}
