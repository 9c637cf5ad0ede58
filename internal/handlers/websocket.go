package handlers

import (
	"context"
	"encoding/json"
	"flowdeck/internal/logging"
	"flowdeck/internal/models"
	"flowdeck/internal/services"
	"fmt"
	"log"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	readDeadline = 360 * time.Second
	pingInterval = 30 * time.Second
)

// PanelOptions tunes the panel handler
type PanelOptions struct {
	// SpawnViaCLI also runs the catalog's "agent spawn" command for each spawned agent
	SpawnViaCLI bool
	// MessageRate limits inbound messages per second per connection (0 = unlimited)
	MessageRate float64
}

// PanelHandler handles panel WebSocket connections
type PanelHandler struct {
	ctx         context.Context
	connManager *services.ConnectionManager
	registry    *services.SessionRegistry
	memory      *services.MemoryStore
	sessions    *services.SessionService
	invoker     *services.CommandInvoker
	status      *services.StatusService
	opts        PanelOptions
}

// NewPanelHandler creates a new panel handler. ctx bounds external command runs;
// it is cancelled only on server shutdown, never on client disconnect.
func NewPanelHandler(
	ctx context.Context,
	connManager *services.ConnectionManager,
	registry *services.SessionRegistry,
	memory *services.MemoryStore,
	sessions *services.SessionService,
	invoker *services.CommandInvoker,
	status *services.StatusService,
	opts PanelOptions,
) *PanelHandler {
	return &PanelHandler{
		ctx:         ctx,
		connManager: connManager,
		registry:    registry,
		memory:      memory,
		sessions:    sessions,
		invoker:     invoker,
		status:      status,
		opts:        opts,
	}
}

// panelClient is the per-connection state the dispatcher needs
type panelClient struct {
	conn    *models.PanelConnection
	limiter *rate.Limiter
	logger  *slog.Logger

	// touched lists every session this connection has worked in, in order
	touched []string
}

func (h *PanelHandler) newClient(conn *models.PanelConnection) *panelClient {
	client := &panelClient{
		conn:    conn,
		logger:  logging.WithConnection(conn.ConnID, conn.SessionID()),
		touched: []string{conn.SessionID()},
	}
	if h.opts.MessageRate > 0 {
		burst := int(h.opts.MessageRate)
		if burst < 1 {
			burst = 1
		}
		client.limiter = rate.NewLimiter(rate.Limit(h.opts.MessageRate), burst)
	}
	return client
}

// Handle handles a new panel connection
func (h *PanelHandler) Handle(c *websocket.Conn) {
	connID := uuid.New().String()
	clientIP, _ := c.Locals("client_ip").(string)

	session := h.registry.Create()
	conn := models.NewPanelConnection(connID, clientIP, c, session.ID)
	client := h.newClient(conn)

	done := make(chan struct{})

	h.connManager.Add(conn)
	services.GetMetrics().RecordWebSocketConnect()
	defer func() {
		close(done)
		h.finishSession(client)
		h.connManager.Remove(connID)
		services.GetMetrics().RecordWebSocketDisconnect()
	}()

	c.SetReadDeadline(time.Now().Add(readDeadline))
	c.SetPongHandler(func(appData string) error {
		c.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	go h.pingLoop(conn, done)
	go h.writeLoop(conn)

	client.logger.Info("panel connected", "client_ip", clientIP)
	h.send(conn, models.ServerMessage{Type: models.MsgSessionUpdate, SessionID: session.ID})

	h.readLoop(client)
}

// pingLoop sends periodic pings so long-running commands don't trip idle timeouts
func (h *PanelHandler) pingLoop(conn *models.PanelConnection, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.WriteMu.Lock()
			err := conn.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second))
			conn.WriteMu.Unlock()
			if err != nil {
				log.Printf("⚠️ Ping failed for %s: %v", conn.ConnID, err)
				return
			}
		}
	}
}

// readLoop handles incoming messages until the client goes away
func (h *PanelHandler) readLoop(client *panelClient) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Panic in readLoop: %v", r)
		}
	}()

	conn := client.conn
	for {
		_, msg, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("❌ WebSocket read error for %s: %v", conn.ConnID, err)
			}
			return
		}

		conn.Conn.SetReadDeadline(time.Now().Add(readDeadline))
		h.dispatch(client, msg)
	}
}

// writeLoop drains WriteChan. After a write error it keeps draining so senders never block.
func (h *PanelHandler) writeLoop(conn *models.PanelConnection) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Panic in writeLoop: %v", r)
		}
	}()

	broken := false
	for msg := range conn.WriteChan {
		if broken {
			continue
		}
		conn.WriteMu.Lock()
		err := conn.Conn.WriteJSON(msg)
		conn.WriteMu.Unlock()
		if err != nil {
			log.Printf("❌ WebSocket write error for %s: %v", conn.ConnID, err)
			broken = true
			continue
		}
		services.GetMetrics().RecordWebSocketMessage(msg.Type, "outbound")
	}
}

func (h *PanelHandler) send(conn *models.PanelConnection, msg models.ServerMessage) {
	conn.Send(msg)
}

func (h *PanelHandler) sendError(conn *models.PanelConnection, message string) {
	h.send(conn, models.ErrorMessage(message))
}

// dispatch handles one inbound frame. Malformed input produces an error reply and never
// ends the connection.
func (h *PanelHandler) dispatch(client *panelClient, raw []byte) {
	conn := client.conn

	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Panic handling message from %s: %v", conn.ConnID, r)
			h.sendError(conn, fmt.Sprintf("Internal error: %v", r))
		}
	}()

	if client.limiter != nil && !client.limiter.Allow() {
		h.sendError(conn, "Rate limit exceeded, slow down")
		return
	}

	var msg models.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("⚠️  Invalid message format from %s: %v", conn.ConnID, err)
		h.sendError(conn, "Invalid message format: "+err.Error())
		return
	}

	services.GetMetrics().RecordWebSocketMessage(msg.Type, "inbound")

	session, ok := h.registry.Get(conn.SessionID())
	if !ok {
		// Registry entries are never removed, so this only happens if the id was never inserted
		h.sendError(conn, "Session not found: "+conn.SessionID())
		return
	}

	logger := logging.WithCommand(client.logger, msg.Type)

	switch msg.Type {
	case models.MsgPing:
		h.send(conn, models.ServerMessage{Type: models.MsgPong})
	case models.MsgExecuteCommand:
		h.handleExecuteCommand(conn, session, msg, logger)
	case models.MsgSpawnAgent:
		h.handleSpawnAgent(conn, session, msg, logger)
	case models.MsgStoreMemory:
		h.handleStoreMemory(conn, session, msg)
	case models.MsgRetrieveMemory:
		h.handleRetrieveMemory(conn, session, msg)
	case models.MsgSaveSession:
		h.handleSaveSession(conn, session)
	case models.MsgListSessions:
		h.handleListSessions(conn)
	case models.MsgResumeSession:
		h.handleResumeSession(client, msg)
	case models.MsgGetStatus:
		h.handleGetStatus(conn)
	default:
		log.Printf("⚠️  Unknown message type: %s", msg.Type)
		h.sendError(conn, "Unknown command type: "+msg.Type)
	}
}

// handleExecuteCommand records the command and runs it in the background.
// Output lines of one invocation arrive in order; separate invocations may interleave.
func (h *PanelHandler) handleExecuteCommand(conn *models.PanelConnection, session *models.Session, msg models.ClientMessage, logger *slog.Logger) {
	command := strings.TrimSpace(msg.Command)
	if command == "" {
		h.sendError(conn, "command is required")
		return
	}

	session.AddCommand(command, time.Now())
	h.send(conn, models.OutputMessage("$ "+command))
	logger.Debug("executing command", "command", command, "resolved", h.invoker.Resolve(command))

	go h.runCommand(conn, command)
}

func (h *PanelHandler) runCommand(conn *models.PanelConnection, command string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Panic running command %q: %v", command, r)
		}
	}()

	h.invoker.Run(h.ctx, command, func(line string) {
		h.send(conn, models.OutputMessage(line))
	})
}

func (h *PanelHandler) handleSpawnAgent(conn *models.PanelConnection, session *models.Session, msg models.ClientMessage, logger *slog.Logger) {
	agentType := strings.ToLower(strings.TrimSpace(msg.AgentType))

	agent, err := h.registry.SpawnAgent(session, agentType)
	if err != nil {
		h.sendError(conn, err.Error())
		return
	}

	logger.Info("agent spawned", "agent_id", agent.ID, "agent_type", agent.Type)
	h.send(conn, models.AgentUpdateMessage(session.ActiveAgentCount()))
	h.send(conn, models.OutputMessage(fmt.Sprintf("🤖 Agent %s spawned successfully (%s)", agent.Type, agent.ID)))

	if h.opts.SpawnViaCLI {
		command := "agent spawn " + agent.Type
		if line, ok := h.invoker.Lookup("agent spawn"); ok {
			command = line + " " + agent.Type
		}
		go h.runCommand(conn, command)
	}
}

func (h *PanelHandler) handleStoreMemory(conn *models.PanelConnection, session *models.Session, msg models.ClientMessage) {
	if msg.Key == "" {
		h.sendError(conn, "key is required")
		return
	}

	if err := h.memory.Store(h.ctx, session, msg.Key, msg.Value); err != nil {
		// The session map is already written; only the mirror failed
		log.Printf("⚠️  [MEMORY] %v", err)
	}

	h.send(conn, models.ServerMessage{Type: models.MsgMemoryUpdate, Memory: session.Memory()})
	h.send(conn, models.OutputMessage("💾 Stored: "+msg.Key))
}

func (h *PanelHandler) handleRetrieveMemory(conn *models.PanelConnection, session *models.Session, msg models.ClientMessage) {
	value, ok := h.memory.Retrieve(h.ctx, session, msg.Key)
	if !ok {
		h.send(conn, models.OutputMessage("Key not found: "+msg.Key))
		return
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		encoded = []byte(fmt.Sprintf("%v", value))
	}
	h.send(conn, models.OutputMessage(fmt.Sprintf("📖 %s: %s", msg.Key, encoded)))
	h.send(conn, models.ServerMessage{
		Type:   models.MsgMemoryUpdate,
		Memory: map[string]interface{}{msg.Key: value},
	})
}

func (h *PanelHandler) handleSaveSession(conn *models.PanelConnection, session *models.Session) {
	if _, err := h.sessions.Save(session.ID); err != nil {
		h.sendError(conn, "Failed to save session: "+err.Error())
		return
	}
	h.send(conn, models.OutputMessage("💾 Session saved: "+session.ID))
}

func (h *PanelHandler) handleListSessions(conn *models.PanelConnection) {
	sessions, err := h.sessions.List()
	if err != nil {
		h.sendError(conn, "Failed to list sessions: "+err.Error())
		return
	}
	h.send(conn, models.SessionsListMessage(sessions))
}

// handleResumeSession restores a saved session and makes it this connection's active session
func (h *PanelHandler) handleResumeSession(client *panelClient, msg models.ClientMessage) {
	conn := client.conn

	session, err := h.sessions.Resume(h.ctx, msg.SessionID)
	if err != nil {
		h.sendError(conn, "Failed to resume session: "+err.Error())
		return
	}

	conn.SetSessionID(session.ID)
	client.logger = logging.WithConnection(conn.ConnID, session.ID)
	if !slices.Contains(client.touched, session.ID) {
		client.touched = append(client.touched, session.ID)
	}

	state := session.State()
	h.send(conn, models.ServerMessage{Type: models.MsgSessionRestored, Session: &state})
	h.send(conn, models.ServerMessage{Type: models.MsgSessionUpdate, SessionID: session.ID})
}

func (h *PanelHandler) handleGetStatus(conn *models.PanelConnection) {
	snapshot := h.status.Snapshot()
	h.send(conn, models.ServerMessage{Type: models.MsgStatusUpdate, Status: &snapshot})
}

// finishSession stamps the end time on every session the connection worked in and saves them.
// After a resume that is both the session opened with the connection and the restored one.
func (h *PanelHandler) finishSession(client *panelClient) {
	saved := 0
	for _, sessionID := range client.touched {
		if err := h.sessions.End(sessionID); err != nil {
			client.logger.Error("failed to save session on disconnect", "session_id", sessionID, "error", err)
			continue
		}
		saved++
	}
	client.logger.Info("panel disconnected, sessions saved", "saved", saved)
}
