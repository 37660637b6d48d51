package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrSessionOwner is returned when a message is appended to a session that
// another user started.
var ErrSessionOwner = errors.New("session belongs to another user")

// ProfileRecord is one serialized user profile. Data holds the whole profile
// as JSON and is rewritten on every persist.
type ProfileRecord struct {
	UserName  string
	Data      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type SessionMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type Document struct {
	ID           string    `json:"id"`
	UserName     string    `json:"user_name"`
	Title        string    `json:"title"`
	Type         string    `json:"type"` // "text", "html", "pdf"
	Content      string    `json:"-"`
	Status       string    `json:"status"` // "queued", "learned", "failed"
	FactsLearned int       `json:"facts_learned"`
	CreatedAt    time.Time `json:"created_at"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
