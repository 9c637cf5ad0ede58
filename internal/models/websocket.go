package models

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// Inbound message types
const (
	MsgExecuteCommand = "execute-command"
	MsgSpawnAgent     = "spawn-agent"
	MsgStoreMemory    = "store-memory"
	MsgRetrieveMemory = "retrieve-memory"
	MsgSaveSession    = "save-session"
	MsgListSessions   = "list-sessions"
	MsgResumeSession  = "resume-session"
	MsgGetStatus      = "get-status"
	MsgPing           = "ping"
)

// Outbound message types
const (
	MsgSessionUpdate   = "session-update"
	MsgCommandOutput   = "command-output"
	MsgAgentUpdate     = "agent-update"
	MsgMemoryUpdate    = "memory-update"
	MsgSessionsList    = "sessions-list"
	MsgSessionRestored = "session-restored"
	MsgStatusUpdate    = "status-update"
	MsgError           = "error"
	MsgPong            = "pong"
)

// ClientMessage represents a message from the panel
type ClientMessage struct {
	Type      string      `json:"type"`
	Command   string      `json:"command,omitempty"`   // execute-command
	AgentType string      `json:"agentType,omitempty"` // spawn-agent
	Key       string      `json:"key,omitempty"`       // store-memory, retrieve-memory
	Value     interface{} `json:"value,omitempty"`     // store-memory
	SessionID string      `json:"sessionId,omitempty"` // resume-session
}

// ServerMessage represents a message sent to the panel
type ServerMessage struct {
	Type      string                 `json:"type"`
	SessionID string                 `json:"sessionId,omitempty"`
	Output    string                 `json:"output,omitempty"`
	Count     *int                   `json:"count,omitempty"`
	Memory    map[string]interface{} `json:"memory,omitempty"`
	Sessions  *[]SessionSummary      `json:"sessions,omitempty"`
	Session   *SessionState          `json:"session,omitempty"`
	Status    *StatusSnapshot        `json:"status,omitempty"`
	Message   string                 `json:"message,omitempty"`
}

// OutputMessage builds a command-output message
func OutputMessage(line string) ServerMessage {
	return ServerMessage{Type: MsgCommandOutput, Output: line}
}

// ErrorMessage builds an error message
func ErrorMessage(message string) ServerMessage {
	return ServerMessage{Type: MsgError, Message: message}
}

// SessionsListMessage builds a sessions-list message. An empty listing is sent as "sessions":[].
func SessionsListMessage(sessions []SessionSummary) ServerMessage {
	if sessions == nil {
		sessions = []SessionSummary{}
	}
	return ServerMessage{Type: MsgSessionsList, Sessions: &sessions}
}

// AgentUpdateMessage builds an agent-update message
func AgentUpdateMessage(count int) ServerMessage {
	return ServerMessage{Type: MsgAgentUpdate, Count: &count}
}

// PanelConnection represents a single panel WebSocket connection
type PanelConnection struct {
	ConnID    string
	ClientIP  string
	Conn      *websocket.Conn
	CreatedAt time.Time
	WriteChan chan ServerMessage

	// WriteMu serializes frames written to Conn (JSON frames and pings)
	WriteMu sync.Mutex

	mu        sync.Mutex
	sessionID string

	sendMu sync.Mutex
	closed bool
}

// NewPanelConnection creates a connection bound to sessionID
func NewPanelConnection(connID, clientIP string, conn *websocket.Conn, sessionID string) *PanelConnection {
	return &PanelConnection{
		ConnID:    connID,
		ClientIP:  clientIP,
		Conn:      conn,
		CreatedAt: time.Now(),
		WriteChan: make(chan ServerMessage, 256),
		sessionID: sessionID,
	}
}

// SessionID returns the session this connection currently works in
func (pc *PanelConnection) SessionID() string {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.sessionID
}

// SetSessionID switches the connection to another session (used by resume)
func (pc *PanelConnection) SetSessionID(id string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.sessionID = id
}

// Send queues a message for the writer, returning false once the connection is closed.
// Output from commands still running after a disconnect is dropped here.
func (pc *PanelConnection) Send(msg ServerMessage) bool {
	pc.sendMu.Lock()
	defer pc.sendMu.Unlock()
	if pc.closed {
		return false
	}
	pc.WriteChan <- msg
	return true
}

// Close marks the connection closed and closes WriteChan. Safe to call twice.
func (pc *PanelConnection) Close() {
	pc.sendMu.Lock()
	defer pc.sendMu.Unlock()
	if pc.closed {
		return
	}
	pc.closed = true
	close(pc.WriteChan)
}

// IsClosed returns true if the connection has been closed
func (pc *PanelConnection) IsClosed() bool {
	pc.sendMu.Lock()
	defer pc.sendMu.Unlock()
	return pc.closed
}
