package services

import (
	"flowdeck/internal/models"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewSessionID returns a unique session id: session_<unixmillis>_<random>
func NewSessionID() string {
	return fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), randomSuffix())
}

// NewAgentID returns a unique agent id: agent_<unixmillis>_<random>
func NewAgentID() string {
	return fmt.Sprintf("agent_%d_%s", time.Now().UnixMilli(), randomSuffix())
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:9]
}

// SessionRegistry holds every live session and a process-wide agent index.
// Sessions are never removed for the lifetime of the process.
type SessionRegistry struct {
	sessions map[string]*models.Session
	agents   map[string]models.Agent
	mutex    sync.RWMutex
}

// NewSessionRegistry creates an empty registry
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*models.Session),
		agents:   make(map[string]models.Agent),
	}
}

// Create allocates a fresh session and inserts it
func (r *SessionRegistry) Create() *models.Session {
	session := models.NewSession(NewSessionID(), time.Now())
	r.Put(session)
	return session
}

// Put inserts a session, replacing any live record with the same id
func (r *SessionRegistry) Put(session *models.Session) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, exists := r.sessions[session.ID]; exists {
		log.Printf("♻️  [REGISTRY] Replacing live session %s", session.ID)
	}
	r.sessions[session.ID] = session
}

// Get looks up a live session
func (r *SessionRegistry) Get(id string) (*models.Session, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	session, ok := r.sessions[id]
	return session, ok
}

// All returns every live session
func (r *SessionRegistry) All() []*models.Session {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	out := make([]*models.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// SessionCount returns the number of live sessions
func (r *SessionRegistry) SessionCount() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.sessions)
}

// RegisterAgent adds an agent to the global index
func (r *SessionRegistry) RegisterAgent(agent models.Agent) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.agents[agent.ID] = agent
}

// GetAgent looks up an agent by id across all sessions
func (r *SessionRegistry) GetAgent(id string) (models.Agent, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	agent, ok := r.agents[id]
	return agent, ok
}

// Agents returns every registered agent
func (r *SessionRegistry) Agents() []models.Agent {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	out := make([]models.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	return out
}

// AgentCount returns the size of the global agent index
func (r *SessionRegistry) AgentCount() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.agents)
}

// SpawnAgent records a new active agent in session and in the global index
func (r *SessionRegistry) SpawnAgent(session *models.Session, agentType string) (models.Agent, error) {
	if !models.IsValidAgentType(agentType) {
		return models.Agent{}, fmt.Errorf("invalid agent type %q (expected one of: %s)",
			agentType, strings.Join(models.AgentTypes, ", "))
	}

	agent := models.Agent{
		ID:        NewAgentID(),
		Type:      agentType,
		Status:    models.AgentStatusActive,
		StartTime: time.Now(),
	}
	session.AddAgent(agent)
	r.RegisterAgent(agent)
	return agent, nil
}
