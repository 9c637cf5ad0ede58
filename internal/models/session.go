package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Agent statuses. Spawned agents start active and are never deactivated by the server.
const (
	AgentStatusActive = "active"
	AgentStatusIdle   = "idle"
)

// AgentTypes is the fixed set of agent types the panel can spawn
var AgentTypes = []string{
	"researcher",
	"coder",
	"analyst",
	"architect",
	"tester",
	"coordinator",
	"reviewer",
	"optimizer",
	"documenter",
	"monitor",
	"specialist",
}

// IsValidAgentType reports whether agentType is one of AgentTypes
func IsValidAgentType(agentType string) bool {
	for _, t := range AgentTypes {
		if t == agentType {
			return true
		}
	}
	return false
}

// Agent is a bookkeeping record for a unit of work spawned through the external CLI
type Agent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	StartTime time.Time `json:"startTime"`
}

// CommandRecord is one entry of a session's command history
type CommandRecord struct {
	Command   string    `json:"command"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the live record of one client's interaction window.
// All access goes through its methods; the record is shared between the
// connection goroutine, command goroutines and the autosave job.
type Session struct {
	ID        string
	StartTime time.Time

	mu       sync.RWMutex
	endTime  *time.Time
	agents   []Agent
	commands []CommandRecord
	memory   map[string]interface{}

	// version counts mutations; savedVersion is the version last written to disk
	version      uint64
	savedVersion uint64
}

// NewSession creates an empty session record
func NewSession(id string, startTime time.Time) *Session {
	return &Session{
		ID:        id,
		StartTime: startTime,
		agents:    make([]Agent, 0),
		commands:  make([]CommandRecord, 0),
		memory:    make(map[string]interface{}),
		version:   1,
	}
}

// AddAgent appends an agent record
func (s *Session) AddAgent(agent Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = append(s.agents, agent)
	s.version++
}

// AddCommand appends a command to the history
func (s *Session) AddCommand(command string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, CommandRecord{Command: command, Timestamp: at})
	s.version++
}

// SetMemory writes a memory entry (last write wins)
func (s *Session) SetMemory(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memory[key] = value
	s.version++
}

// GetMemory reads a memory entry
func (s *Session) GetMemory(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.memory[key]
	return value, ok
}

// Memory returns a copy of the memory map
func (s *Session) Memory() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]interface{}, len(s.memory))
	for k, v := range s.memory {
		out[k] = v
	}
	return out
}

// Agents returns a copy of the agent list
func (s *Session) Agents() []Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Agent(nil), s.agents...)
}

// Commands returns a copy of the command history
func (s *Session) Commands() []CommandRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]CommandRecord(nil), s.commands...)
}

// ActiveAgentCount counts agents whose status is active
func (s *Session) ActiveAgentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, a := range s.agents {
		if a.Status == AgentStatusActive {
			count++
		}
	}
	return count
}

// MarkEnded stamps the end time
func (s *Session) MarkEnded(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endTime = &at
	s.version++
}

// EndTime returns the end time, nil while the session is open
func (s *Session) EndTime() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.endTime == nil {
		return nil
	}
	t := *s.endTime
	return &t
}

// IsDirty reports whether the record changed since it was last marked saved
func (s *Session) IsDirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version != s.savedVersion
}

// MarkSaved records that version was written. A change made after that version
// was taken keeps the session dirty.
func (s *Session) MarkSaved(version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version > s.savedVersion {
		s.savedVersion = version
	}
}

// State returns a point-in-time copy suitable for sending to clients
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() SessionState {
	memory := make(map[string]interface{}, len(s.memory))
	for k, v := range s.memory {
		memory[k] = v
	}

	var endTime *time.Time
	if s.endTime != nil {
		t := *s.endTime
		endTime = &t
	}

	return SessionState{
		ID:        s.ID,
		StartTime: s.StartTime,
		EndTime:   endTime,
		Agents:    append([]Agent{}, s.agents...),
		Commands:  append([]CommandRecord{}, s.commands...),
		Memory:    memory,
	}
}

// File returns the on-disk representation of the session
func (s *Session) File() SessionFile {
	file, _ := s.Checkpoint()
	return file
}

// Checkpoint returns the on-disk representation together with the version it reflects
func (s *Session) Checkpoint() (SessionFile, uint64) {
	s.mu.RLock()
	state := s.stateLocked()
	version := s.version
	s.mu.RUnlock()

	keys := make([]string, 0, len(state.Memory))
	for k := range state.Memory {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]MemoryPair, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, MemoryPair{Key: k, Value: state.Memory[k]})
	}

	return SessionFile{
		ID:        state.ID,
		StartTime: state.StartTime,
		EndTime:   state.EndTime,
		Agents:    state.Agents,
		Commands:  state.Commands,
		Memory:    pairs,
	}, version
}

// Summary returns the listing view of the session
func (s *Session) Summary() SessionSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var endTime *time.Time
	if s.endTime != nil {
		t := *s.endTime
		endTime = &t
	}

	return SessionSummary{
		ID:           s.ID,
		StartTime:    s.StartTime,
		EndTime:      endTime,
		AgentCount:   len(s.agents),
		CommandCount: len(s.commands),
	}
}

// SessionState is the JSON view of a session sent over the wire
type SessionState struct {
	ID        string                 `json:"id"`
	StartTime time.Time              `json:"startTime"`
	EndTime   *time.Time             `json:"endTime"`
	Agents    []Agent                `json:"agents"`
	Commands  []CommandRecord        `json:"commands"`
	Memory    map[string]interface{} `json:"memory"`
}

// SessionSummary is one row of a session listing
type SessionSummary struct {
	ID           string     `json:"id"`
	StartTime    time.Time  `json:"startTime"`
	EndTime      *time.Time `json:"endTime"`
	AgentCount   int        `json:"agentCount"`
	CommandCount int        `json:"commandCount"`
}

// SessionFile is the persisted layout: memory is stored as a list of [key, value] pairs
type SessionFile struct {
	ID        string          `json:"id"`
	StartTime time.Time       `json:"startTime"`
	EndTime   *time.Time      `json:"endTime"`
	Agents    []Agent         `json:"agents"`
	Commands  []CommandRecord `json:"commands"`
	Memory    []MemoryPair    `json:"memory"`
}

// Summary returns the listing view of a persisted session
func (f SessionFile) Summary() SessionSummary {
	return SessionSummary{
		ID:           f.ID,
		StartTime:    f.StartTime,
		EndTime:      f.EndTime,
		AgentCount:   len(f.Agents),
		CommandCount: len(f.Commands),
	}
}

// ToSession rebuilds a live session record from its persisted form
func (f SessionFile) ToSession() *Session {
	s := NewSession(f.ID, f.StartTime)
	if f.EndTime != nil {
		t := *f.EndTime
		s.endTime = &t
	}
	if f.Agents != nil {
		s.agents = append(s.agents, f.Agents...)
	}
	if f.Commands != nil {
		s.commands = append(s.commands, f.Commands...)
	}
	for _, pair := range f.Memory {
		s.memory[pair.Key] = pair.Value
	}
	s.savedVersion = s.version
	return s
}

// MemoryPair encodes as a two-element JSON array: ["key", value]
type MemoryPair struct {
	Key   string
	Value interface{}
}

// MarshalJSON implements json.Marshaler
func (p MemoryPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{p.Key, p.Value})
}

// UnmarshalJSON implements json.Unmarshaler
func (p *MemoryPair) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("memory pair must have 2 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &p.Key); err != nil {
		return fmt.Errorf("memory pair key: %w", err)
	}
	if err := json.Unmarshal(raw[1], &p.Value); err != nil {
		return fmt.Errorf("memory pair value: %w", err)
	}
	return nil
}
