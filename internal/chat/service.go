package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/kgchat/internal/composer"
	"github.com/kalambet/kgchat/internal/extract"
	"github.com/kalambet/kgchat/internal/profile"
	"github.com/kalambet/kgchat/internal/storage"
)

// UnknownTopic is reported by UpdateFromPair when no topic was detected.
const UnknownTopic = "unknown"

const defaultHistoryTurns = 6

// ErrSessionNotFound is returned for session ids with no stored messages.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionOwner is returned when a user continues a session that another
// user started.
var ErrSessionOwner = errors.New("session belongs to another user")

// SessionStore defines the storage operations the Service needs for
// conversation history. Implemented by storage.Store.
type SessionStore interface {
	AppendMessage(userName string, m storage.SessionMessage) error
	RecentMessages(sessionID string, limit int) ([]storage.SessionMessage, error)
	SessionOwner(sessionID string) (string, error)
	DeleteSession(sessionID string) error
}

// Config tunes the chat cycle.
type Config struct {
	// ResponseDelay simulates model latency before a reply is returned.
	ResponseDelay time.Duration
	// HistoryTurns bounds the history window; one turn is a user and an
	// assistant message.
	HistoryTurns int
}

// Response is the result of one chat cycle.
type Response struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`

	Learned []profile.KnowledgeItem `json:"-"`
}

// Metadata reports what a message pair taught about the user.
type Metadata struct {
	Topic             string   `json:"topic"`
	Interests         []string `json:"interests"`
	Skills            []string `json:"skills"`
	PersonalityTraits []string `json:"personality_traits"`
}

// Context is the slice of a profile relevant to a query.
type Context struct {
	Interests         []string `json:"interests"`
	Skills            []string `json:"skills"`
	PersonalityTraits []string `json:"personality_traits"`
	Topics            []string `json:"topics"`
}

// Service runs the chat cycle: learn from the user's message, reply from a
// template and record both sides of the exchange.
type Service struct {
	profiles  *profile.Manager
	sessions  SessionStore
	extractor *extract.Extractor
	composer  *composer.Composer
	cfg       Config
}

// NewService creates a Service.
func NewService(profiles *profile.Manager, sessions SessionStore, ex *extract.Extractor, comp *composer.Composer, cfg Config) *Service {
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = defaultHistoryTurns
	}
	return &Service{
		profiles:  profiles,
		sessions:  sessions,
		extractor: ex,
		composer:  comp,
		cfg:       cfg,
	}
}

// Send processes one user message. Users without a profile get the
// greeting and nothing is learned.
func (s *Service) Send(ctx context.Context, sessionID, userName, input string) (Response, error) {
	userName = strings.TrimSpace(userName)
	if userName == "" {
		return Response{}, fmt.Errorf("%w: user_name is required", profile.ErrValidation)
	}
	if strings.TrimSpace(input) == "" {
		return Response{}, fmt.Errorf("%w: user_input is required", profile.ErrValidation)
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	} else if err := s.checkOwner(sessionID, userName); err != nil {
		return Response{}, err
	}

	if err := s.wait(ctx); err != nil {
		return Response{}, err
	}

	var learned []profile.KnowledgeItem
	p, err := s.profiles.Mutate(userName, func(p *profile.Profile) error {
		learned = s.extractor.Apply(p, input)
		return nil
	})

	var reply string
	switch {
	case errors.Is(err, profile.ErrNotFound):
		reply = s.composer.Respond(userName, nil, input)
	case err != nil:
		return Response{}, fmt.Errorf("learning from message: %w", err)
	default:
		reply = s.composer.Respond(userName, &p, input)
	}

	if len(learned) > 0 {
		slog.Debug("learned from message", "user", userName, "facts", len(learned))
	}

	if err := s.record(userName, sessionID, input, reply); err != nil {
		return Response{}, err
	}
	return Response{Response: reply, SessionID: sessionID, Learned: learned}, nil
}

// UpdateFromPair learns from a user message and the assistant reply it got.
// Facts come from the user message only; a topic is looked for in the user
// message first, then in the assistant message, and recorded when found.
// A user without a profile gets an empty one first.
func (s *Service) UpdateFromPair(ctx context.Context, userName, assistantMsg, userMsg string) (Metadata, error) {
	if strings.TrimSpace(userName) == "" {
		return Metadata{}, fmt.Errorf("%w: user_name is required", profile.ErrValidation)
	}
	if strings.TrimSpace(userMsg) == "" {
		return Metadata{}, fmt.Errorf("%w: user_msg is required", profile.ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}

	topic, ok := composer.DetectTopic(userMsg)
	if !ok {
		topic, ok = composer.DetectTopic(assistantMsg)
	}

	meta := Metadata{
		Topic:             UnknownTopic,
		Interests:         []string{},
		Skills:            []string{},
		PersonalityTraits: []string{},
	}
	if _, err := s.profiles.Ensure(userName); err != nil {
		return Metadata{}, fmt.Errorf("creating profile: %w", err)
	}
	_, err := s.profiles.Mutate(userName, func(p *profile.Profile) error {
		for _, it := range s.extractor.Apply(p, userMsg) {
			switch it.Field {
			case profile.Interest:
				meta.Interests = append(meta.Interests, it.Value)
			case profile.Skill:
				meta.Skills = append(meta.Skills, it.Value)
			case profile.PersonalityTrait:
				meta.PersonalityTraits = append(meta.PersonalityTraits, it.Value)
			}
		}
		if ok {
			p.Append(profile.Topic, topic)
		}
		return nil
	})
	if err != nil {
		return Metadata{}, fmt.Errorf("updating profile from message pair: %w", err)
	}
	if ok {
		meta.Topic = topic
	}
	return meta, nil
}

// Query returns the profile lists for userName. When the query mentions a
// known topic, only stored topics containing it are returned.
func (s *Service) Query(ctx context.Context, userName, query string) (Context, error) {
	if err := ctx.Err(); err != nil {
		return Context{}, err
	}
	p, err := s.profiles.Get(userName)
	if err != nil {
		return Context{}, err
	}

	out := Context{
		Interests:         p.Interests,
		Skills:            p.Skills,
		PersonalityTraits: p.PersonalityTraits,
		Topics:            p.Topics,
	}
	if topic, ok := composer.DetectTopic(query); ok {
		matched := []string{}
		for _, t := range p.Topics {
			if strings.Contains(strings.ToLower(t), topic) {
				matched = append(matched, t)
			}
		}
		out.Topics = matched
	}
	return out, nil
}

// History returns the most recent messages of a session, oldest first.
func (s *Service) History(ctx context.Context, sessionID string) ([]storage.SessionMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := s.sessions.SessionOwner(sessionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, sessionID)
		}
		return nil, &profile.StorageError{Op: "load session", Err: err}
	}
	msgs, err := s.sessions.RecentMessages(sessionID, 2*s.cfg.HistoryTurns)
	if err != nil {
		return nil, &profile.StorageError{Op: "load session", Err: err}
	}
	if msgs == nil {
		msgs = []storage.SessionMessage{}
	}
	return msgs, nil
}

// ClearHistory deletes a session and all of its messages.
func (s *Service) ClearHistory(sessionID string) error {
	if err := s.sessions.DeleteSession(sessionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %q", ErrSessionNotFound, sessionID)
		}
		return &profile.StorageError{Op: "delete session", Err: err}
	}
	return nil
}

// checkOwner rejects continuing a session started by another user. Unknown
// ids are fine: the first message creates the session.
func (s *Service) checkOwner(sessionID, userName string) error {
	owner, err := s.sessions.SessionOwner(sessionID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil
	case err != nil:
		return &profile.StorageError{Op: "load session", Err: err}
	case owner != userName:
		return fmt.Errorf("%w: %q", ErrSessionOwner, sessionID)
	}
	return nil
}

func (s *Service) wait(ctx context.Context) error {
	if s.cfg.ResponseDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.cfg.ResponseDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Service) record(userName, sessionID, input, reply string) error {
	now := time.Now()
	msgs := []storage.SessionMessage{
		{ID: uuid.New().String(), SessionID: sessionID, Role: "user", Content: input, CreatedAt: now},
		{ID: uuid.New().String(), SessionID: sessionID, Role: "assistant", Content: reply, CreatedAt: now},
	}
	for _, m := range msgs {
		if err := s.sessions.AppendMessage(userName, m); err != nil {
			if errors.Is(err, storage.ErrSessionOwner) {
				return fmt.Errorf("%w: %q", ErrSessionOwner, sessionID)
			}
			return &profile.StorageError{Op: "append message", Err: err}
		}
	}
	return nil
}
