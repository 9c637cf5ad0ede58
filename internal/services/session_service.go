package services

import (
	"context"
	"flowdeck/internal/models"
	"fmt"
	"log"
	"time"
)

// SessionService ties the live registry, memory mirror and on-disk store together
type SessionService struct {
	registry *SessionRegistry
	memory   *MemoryStore
	store    *SessionStore
}

// NewSessionService creates a new session service
func NewSessionService(registry *SessionRegistry, memory *MemoryStore, store *SessionStore) *SessionService {
	return &SessionService{
		registry: registry,
		memory:   memory,
		store:    store,
	}
}

// Save persists a live session by id
func (s *SessionService) Save(sessionID string) (string, error) {
	session, ok := s.registry.Get(sessionID)
	if !ok {
		return "", fmt.Errorf("%w: %s is not live", ErrSessionNotFound, sessionID)
	}
	path, err := s.store.Save(session)
	if err != nil {
		return "", err
	}
	GetMetrics().RecordSessionSaved()
	return path, nil
}

// End stamps the session's end time and saves it
func (s *SessionService) End(sessionID string) error {
	session, ok := s.registry.Get(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s is not live", ErrSessionNotFound, sessionID)
	}
	session.MarkEnded(time.Now())
	_, err := s.Save(sessionID)
	return err
}

// SaveAll persists every live session. With onlyDirty it skips sessions unchanged since
// their last save. Failures are logged and counted; the first error is returned.
func (s *SessionService) SaveAll(onlyDirty bool) (int, error) {
	var firstErr error
	saved := 0

	for _, session := range s.registry.All() {
		if onlyDirty && !session.IsDirty() {
			continue
		}
		if _, err := s.store.Save(session); err != nil {
			log.Printf("❌ [SESSIONS] Failed to save %s: %v", session.ID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		GetMetrics().RecordSessionSaved()
		saved++
	}

	return saved, firstErr
}

// List summarizes saved sessions (unparsable files are omitted)
func (s *SessionService) List() ([]models.SessionSummary, error) {
	return s.store.List()
}

// Live summarizes sessions held in memory
func (s *SessionService) Live() []models.SessionSummary {
	sessions := s.registry.All()
	out := make([]models.SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, session.Summary())
	}
	return out
}

// Resume loads a saved session into the live registry under its original id,
// re-registers its agents and re-mirrors its memory. The steps are not atomic
// with respect to concurrent readers.
func (s *SessionService) Resume(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := s.store.Load(sessionID)
	if err != nil {
		return nil, err
	}

	s.registry.Put(session)
	for _, agent := range session.Agents() {
		s.registry.RegisterAgent(agent)
	}
	if err := s.memory.Rehydrate(ctx, session); err != nil {
		log.Printf("⚠️  [SESSIONS] Resumed %s but memory mirror is incomplete: %v", session.ID, err)
	}

	log.Printf("📂 [SESSIONS] Resumed session %s (%d agents, %d commands)",
		session.ID, len(session.Agents()), len(session.Commands()))
	return session, nil
}
