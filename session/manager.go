// Package session persists conversation history as JSON files under the
// workspace. Every session key maps to its own directory so related files
// (history backups, reports) can live next to the transcript.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/maddsec/kalibot/provider"
)

const sessionFileName = "session.json"

// DefaultKey is used when a caller passes an empty or blank session key.
const DefaultKey = "main"

// Session is one persisted conversation.
type Session struct {
	Key       string             `json:"key"`
	Messages  []provider.Message `json:"messages"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// Manager loads and saves sessions under <workspace>/sessions. It keeps a
// per-key cache so callers share one Session value per conversation.
type Manager struct {
	root string

	mu    sync.Mutex
	cache map[string]*Session
}

// NewManager creates a manager rooted at the given workspace.
func NewManager(workspace string) (*Manager, error) {
	workspace = strings.TrimSpace(workspace)
	if workspace == "" {
		return nil, fmt.Errorf("workspace path is empty")
	}
	root := filepath.Join(workspace, "sessions")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions directory: %w", err)
	}
	return &Manager{root: root, cache: make(map[string]*Session)}, nil
}

// PathForKey maps a session key to its file. Keys use ':' as a hierarchy
// separator and each segment is sanitized, so a key can never escape the
// sessions directory.
func (m *Manager) PathForKey(key string) string {
	parts := append([]string{m.root}, keySegments(key)...)
	parts = append(parts, sessionFileName)
	return filepath.Join(parts...)
}

// Get returns the session for key, loading or creating it on first use.
// Subsequent calls with the same key return the same pointer.
func (m *Manager) Get(key string) (*Session, error) {
	key = normalizeKey(key)
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.cache[key]; ok {
		return s, nil
	}
	s, err := m.load(key)
	if err != nil {
		return nil, err
	}
	m.cache[key] = s
	return s, nil
}

// Reload bypasses the cache and reads the session from disk, replacing the
// cached entry.
func (m *Manager) Reload(key string) (*Session, error) {
	key = normalizeKey(key)
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.load(key)
	if err != nil {
		return nil, err
	}
	m.cache[key] = s
	return s, nil
}

// Save writes the session to disk and refreshes the cache. CreatedAt is set
// on first save and preserved afterwards; UpdatedAt always advances.
func (m *Manager) Save(s *Session) error {
	if s == nil {
		return fmt.Errorf("nil session")
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	s.UpdatedAt = time.Now()

	path := m.PathForKey(s.Key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write session %s: %w", path, err)
	}

	m.mu.Lock()
	m.cache[normalizeKey(s.Key)] = s
	m.mu.Unlock()
	return nil
}

// Backup copies the current session file into a history/ directory next to
// it and returns the backup path. Call before destructive rewrites such as
// manual compaction.
func (m *Manager) Backup(key string) (string, error) {
	path := m.PathForKey(key)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read session %s: %w", path, err)
	}

	historyDir := filepath.Join(filepath.Dir(path), "history")
	if err := os.MkdirAll(historyDir, 0o755); err != nil {
		return "", fmt.Errorf("create history directory: %w", err)
	}
	now := time.Now()
	name := fmt.Sprintf("%d_%s.json", now.Unix(), now.Format("20060102T150405-0700"))
	backupPath := filepath.Join(historyDir, name)
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	return backupPath, nil
}

// load reads the session file, or initializes an empty session when none
// exists yet.
func (m *Manager) load(key string) (*Session, error) {
	path := m.PathForKey(key)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Session{Key: key, CreatedAt: time.Now()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", path, err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", path, err)
	}
	if s.Key == "" {
		s.Key = key
	}
	return &s, nil
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return DefaultKey
	}
	return key
}

// keySegments splits a key on ':' and strips every character that is not
// alphanumeric, '-' or '_' from each segment. Empty segments are dropped; a
// key with no usable segments maps to DefaultKey.
func keySegments(key string) []string {
	var segments []string
	for _, seg := range strings.Split(key, ":") {
		cleaned := sanitizeSegment(seg)
		if cleaned == "" {
			continue
		}
		segments = append(segments, cleaned)
	}
	if len(segments) == 0 {
		return []string{DefaultKey}
	}
	return segments
}

func sanitizeSegment(seg string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(seg) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}
