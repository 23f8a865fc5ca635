// Package session tracks the conversation message log and persists it
// under per-project directories.
package session

import (
	"sync"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation log.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Record is the persisted form of a Session.
type Record struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	ProjectPath    string         `json:"project_path,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	EndedAt        *time.Time     `json:"ended_at,omitempty"`
	Messages       []Message      `json:"messages"`
	Metadata       map[string]any `json:"metadata"`
}

// Session is a live conversation. Messages may be appended concurrently by
// the capture and generation stages.
type Session struct {
	ID             string
	ConversationID string
	ProjectPath    string
	CreatedAt      time.Time

	mu       sync.Mutex
	endedAt  time.Time
	messages []Message
	metadata map[string]any
	now      func() time.Time
}

func newSession(id, conversationID, projectPath string, now func() time.Time) *Session {
	return &Session{
		ID:             id,
		ConversationID: conversationID,
		ProjectPath:    projectPath,
		CreatedAt:      now(),
		messages:       make([]Message, 0),
		metadata:       make(map[string]any),
		now:            now,
	}
}

// AddUserMessage appends a user utterance.
func (s *Session) AddUserMessage(text string) {
	s.add(RoleUser, text)
}

// AddAssistantMessage appends a complete assistant reply.
func (s *Session) AddAssistantMessage(text string) {
	s.add(RoleAssistant, text)
}

func (s *Session) add(role Role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, Message{Role: role, Content: text, Timestamp: s.now()})
}

// Messages returns a copy of the message log.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// SetMetadata stores a metadata value.
func (s *Session) SetMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
}

// Close records the end time. Later calls are ignored.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endedAt.IsZero() {
		s.endedAt = s.now()
	}
}

// Record returns a snapshot suitable for persistence.
func (s *Session) Record() Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := Record{
		ID:             s.ID,
		ConversationID: s.ConversationID,
		ProjectPath:    s.ProjectPath,
		CreatedAt:      s.CreatedAt,
		Messages:       make([]Message, len(s.messages)),
		Metadata:       make(map[string]any, len(s.metadata)),
	}
	copy(r.Messages, s.messages)
	for k, v := range s.metadata {
		r.Metadata[k] = v
	}
	if !s.endedAt.IsZero() {
		ended := s.endedAt
		r.EndedAt = &ended
	}
	return r
}

// FromRecord rebuilds a Session from its persisted form.
func FromRecord(r Record) *Session {
	s := &Session{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		ProjectPath:    r.ProjectPath,
		CreatedAt:      r.CreatedAt,
		messages:       append(make([]Message, 0, len(r.Messages)), r.Messages...),
		metadata:       make(map[string]any, len(r.Metadata)),
		now:            time.Now,
	}
	for k, v := range r.Metadata {
		s.metadata[k] = v
	}
	if r.EndedAt != nil {
		s.endedAt = *r.EndedAt
	}
	return s
}
