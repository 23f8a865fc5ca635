package session

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ai-voice-dialogue-service/internal/observability/logging"
	"ai-voice-dialogue-service/internal/schema"
	"ai-voice-dialogue-service/internal/storage"
)

// ErrNotFound is returned when a session file does not exist.
var ErrNotFound = errors.New("session not found")

// ProjectInfo is written once per project directory.
type ProjectInfo struct {
	ProjectPath string    `json:"project_path"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
}

// ConversationInfo describes one conversation of a project.
type ConversationInfo struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	SessionCount int       `json:"session_count,omitempty"`
}

// Manager creates sessions and stores them as
// <base>/<project-hash>/conversations/<conversation>/sessions/<session>.json.
type Manager struct {
	basePath  string
	validator *schema.Validator
	logger    zerolog.Logger
	now       func() time.Time
}

// NewManager creates a manager rooted at basePath.
func NewManager(basePath string) *Manager {
	return &Manager{
		basePath:  basePath,
		validator: schema.NewSessionValidator(),
		logger:    logging.WithComponent("session"),
		now:       time.Now,
	}
}

// ProjectHash returns the directory name used for a project path.
func ProjectHash(projectPath string) string {
	sum := sha256.Sum256([]byte(projectPath))
	return hex.EncodeToString(sum[:])[:16]
}

func (m *Manager) projectDir(projectPath string) string {
	return filepath.Join(m.basePath, ProjectHash(projectPath))
}

func (m *Manager) conversationDir(projectPath, conversationID string) string {
	return filepath.Join(m.projectDir(projectPath), "conversations", conversationID)
}

func newID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + id.String()
}

// Create starts a new session in a new conversation. With a project path
// the project and conversation directories are created on disk.
func (m *Manager) Create(projectPath string) (*Session, error) {
	s := newSession(newID("session_"), newID("conv_"), projectPath, m.now)

	if projectPath != "" {
		projectMeta := filepath.Join(m.projectDir(projectPath), "metadata.json")
		if _, err := os.Stat(projectMeta); errors.Is(err, os.ErrNotExist) {
			info := ProjectInfo{
				ProjectPath: projectPath,
				Name:        filepath.Base(projectPath),
				CreatedAt:   s.CreatedAt,
			}
			if err := storage.WriteJSONAtomic(projectMeta, info); err != nil {
				return nil, fmt.Errorf("write project metadata: %w", err)
			}
		}

		conv := ConversationInfo{ID: s.ConversationID, CreatedAt: s.CreatedAt, LastAccessed: s.CreatedAt}
		convMeta := filepath.Join(m.conversationDir(projectPath, s.ConversationID), "metadata.json")
		if err := storage.WriteJSONAtomic(convMeta, conv); err != nil {
			return nil, fmt.Errorf("write conversation metadata: %w", err)
		}
	}

	m.logger.Info().
		Str("sessionId", s.ID).
		Str("conversationId", s.ConversationID).
		Str("projectPath", projectPath).
		Msg("Created new session")
	return s, nil
}

// Save writes the session atomically and touches the conversation's
// last-accessed time. Sessions without a project path are not persisted.
func (m *Manager) Save(s *Session) error {
	if s.ProjectPath == "" {
		m.logger.Warn().Str("sessionId", s.ID).Msg("No project path for session, not saving")
		return nil
	}

	rec := s.Record()
	if err := m.validator.Validate(rec); err != nil {
		return err
	}

	convDir := m.conversationDir(s.ProjectPath, s.ConversationID)
	path := filepath.Join(convDir, "sessions", s.ID+".json")
	if err := storage.WriteJSONAtomic(path, rec); err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}

	convMeta := filepath.Join(convDir, "metadata.json")
	var conv ConversationInfo
	if err := storage.ReadJSON(convMeta, &conv); err != nil {
		conv = ConversationInfo{ID: s.ConversationID, CreatedAt: s.CreatedAt}
	}
	conv.LastAccessed = m.now()
	if err := storage.WriteJSONAtomic(convMeta, conv); err != nil {
		m.logger.Error().Err(err).Str("conversationId", s.ConversationID).Msg("Failed to update conversation metadata")
	}

	m.logger.Info().
		Str("sessionId", s.ID).
		Int("messages", len(rec.Messages)).
		Str("path", path).
		Msg("Session saved")
	return nil
}

// Load finds a session by id among the project's conversations.
func (m *Manager) Load(projectPath, sessionID string) (*Session, error) {
	convRoot := filepath.Join(m.projectDir(projectPath), "conversations")
	entries, err := os.ReadDir(convRoot)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(convRoot, e.Name(), "sessions", sessionID+".json")
		var rec Record
		if err := storage.ReadJSON(path, &rec); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				m.logger.Error().Err(err).Str("sessionId", sessionID).Str("conversationId", e.Name()).Msg("Failed to load session")
			}
			continue
		}
		return FromRecord(rec), nil
	}
	return nil, ErrNotFound
}

// ListConversations returns the project's conversations, most recently
// accessed first.
func (m *Manager) ListConversations(projectPath string) ([]ConversationInfo, error) {
	convRoot := filepath.Join(m.projectDir(projectPath), "conversations")
	entries, err := os.ReadDir(convRoot)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var out []ConversationInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var info ConversationInfo
		if err := storage.ReadJSON(filepath.Join(convRoot, e.Name(), "metadata.json"), &info); err != nil {
			m.logger.Error().Err(err).Str("conversationId", e.Name()).Msg("Failed to load conversation metadata")
			continue
		}
		info.SessionCount = countJSON(filepath.Join(convRoot, e.Name(), "sessions"))
		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].LastAccessed.After(out[j].LastAccessed) })
	return out, nil
}

func countJSON(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			n++
		}
	}
	return n
}
