package services

import (
	"encoding/json"
	"errors"
	"flowdeck/internal/models"
	"flowdeck/internal/security"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrSessionNotFound is returned when no saved file exists for a session id
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionIDMismatch is returned when a session file holds a different id than its name
var ErrSessionIDMismatch = errors.New("session file id mismatch")

const sessionFileExt = ".json"

// SessionStore persists sessions as one JSON file per session id
type SessionStore struct {
	dir string
}

// NewSessionStore creates a store rooted at dir. The directory is created on first save.
func NewSessionStore(dir string) *SessionStore {
	return &SessionStore{dir: dir}
}

func (s *SessionStore) path(id string) string {
	return filepath.Join(s.dir, id+sessionFileExt)
}

// Save writes the session to <dir>/<id>.json, replacing any earlier file
func (s *SessionStore) Save(session *models.Session) (string, error) {
	if err := security.ValidateSessionID(session.ID); err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create sessions directory: %w", err)
	}

	file, version := session.Checkpoint()
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode session %s: %w", session.ID, err)
	}

	// Write to a temp file and rename so readers never see a partial file
	tmp, err := os.CreateTemp(s.dir, "."+session.ID+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write session %s: %w", session.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write session %s: %w", session.ID, err)
	}

	target := s.path(session.ID)
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write session %s: %w", session.ID, err)
	}

	session.MarkSaved(version)
	return target, nil
}

// List summarizes every saved session, newest first.
// Files that cannot be read or parsed are skipped without error.
func (s *SessionStore) List() ([]models.SessionSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []models.SessionSummary{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	summaries := make([]models.SessionSummary, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, sessionFileExt) {
			continue
		}

		file, err := s.readFile(strings.TrimSuffix(name, sessionFileExt))
		if err != nil {
			log.Printf("⚠️  [SESSIONS] Skipping unreadable session file %s: %v", name, err)
			continue
		}
		summaries = append(summaries, file.Summary())
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].StartTime.After(summaries[j].StartTime)
	})

	return summaries, nil
}

// Load reads and rebuilds one saved session
func (s *SessionStore) Load(id string) (*models.Session, error) {
	if err := security.ValidateSessionID(id); err != nil {
		return nil, err
	}

	file, err := s.readFile(id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s: %v", ErrSessionNotFound, id, err)
		}
		return nil, err
	}
	return file.ToSession(), nil
}

// readFile parses <dir>/<id>.json. A file whose recorded id differs from its name is corrupt.
func (s *SessionStore) readFile(id string) (*models.SessionFile, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, err
	}

	name := id + sessionFileExt
	var file models.SessionFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}

	switch file.ID {
	case "":
		file.ID = id
	case id:
	default:
		return nil, fmt.Errorf("%w: %s records id %q", ErrSessionIDMismatch, name, file.ID)
	}
	return &file, nil
}
