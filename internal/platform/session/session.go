// Package session replaces process-wide login state with an explicit Session
// per browser. A session is created on the first request, attached to the
// echo context by Middleware, persisted in a Store after every request, and
// destroyed at logout or once its TTL has elapsed.
package session

import (
	"context"
	"errors"
	"time"
)

var ErrSessionNotFound = errors.New("session not found")

// Flash levels.
const (
	FlashSuccess = "success"
	FlashError   = "error"
)

// Flash is a one-shot message shown on the next render.
type Flash struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Analysis is the last symptom check result, shown once.
type Analysis struct {
	Input     string `json:"input"`
	Condition string `json:"condition"`
}

type Session struct {
	ID             string    `json:"id"`
	Username       string    `json:"username,omitempty"`
	Role           string    `json:"role,omitempty"`
	LoggedIn       bool      `json:"logged_in"`
	SelectedFolder string    `json:"selected_folder,omitempty"`
	Flash          *Flash    `json:"flash,omitempty"`
	Analysis       *Analysis `json:"analysis,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`

	destroyed bool
}

// Login moves the session to the logged-in state.
func (s *Session) Login(username, role string) {
	s.Username = username
	s.Role = role
	s.LoggedIn = true
	s.SelectedFolder = ""
	s.Analysis = nil
}

// Logout clears identity and per-user view state.
func (s *Session) Logout() {
	s.Username = ""
	s.Role = ""
	s.LoggedIn = false
	s.SelectedFolder = ""
	s.Analysis = nil
}

func (s *Session) AddFlash(level, message string) {
	s.Flash = &Flash{Level: level, Message: message}
}

// PopFlash returns the pending flash, if any, and clears it.
func (s *Session) PopFlash() *Flash {
	f := s.Flash
	s.Flash = nil
	return f
}

// PopAnalysis returns the pending symptom analysis, if any, and clears it.
func (s *Session) PopAnalysis() *Analysis {
	a := s.Analysis
	s.Analysis = nil
	return a
}

func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store persists sessions between requests.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}
