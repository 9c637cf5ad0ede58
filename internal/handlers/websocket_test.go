package handlers

import (
	"context"
	"encoding/json"
	"flowdeck/internal/models"
	"flowdeck/internal/services"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type panelFixture struct {
	handler     *PanelHandler
	registry    *services.SessionRegistry
	memory      *services.MemoryStore
	sessions    *services.SessionService
	store       *services.SessionStore
	connManager *services.ConnectionManager
	catalog     *services.CommandCatalog
}

func newPanelFixture(t *testing.T, opts PanelOptions) *panelFixture {
	t.Helper()

	registry := services.NewSessionRegistry()
	memory := services.NewMemoryStore(nil)
	store := services.NewSessionStore(filepath.Join(t.TempDir(), "sessions"))
	sessions := services.NewSessionService(registry, memory, store)
	connManager := services.NewConnectionManager()
	catalog := services.NewCommandCatalog("echo flow", "")
	invoker := services.NewCommandInvoker(catalog, 0, 5*time.Second)
	status := services.NewStatusService(registry, connManager)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return &panelFixture{
		handler:     NewPanelHandler(ctx, connManager, registry, memory, sessions, invoker, status, opts),
		registry:    registry,
		memory:      memory,
		sessions:    sessions,
		store:       store,
		connManager: connManager,
		catalog:     catalog,
	}
}

// newClient creates a session and a connection with no socket behind it
func (f *panelFixture) newClient() (*panelClient, *models.Session) {
	session := f.registry.Create()
	conn := models.NewPanelConnection("test-conn", "127.0.0.1", nil, session.ID)
	return f.handler.newClient(conn), session
}

func (f *panelFixture) send(t *testing.T, client *panelClient, msg map[string]interface{}) {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	f.handler.dispatch(client, raw)
}

func nextMessage(t *testing.T, client *panelClient) models.ServerMessage {
	t.Helper()
	select {
	case msg := <-client.conn.WriteChan:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server message")
		return models.ServerMessage{}
	}
}

func assertNoMessage(t *testing.T, client *panelClient) {
	t.Helper()
	select {
	case msg := <-client.conn.WriteChan:
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatchPing(t *testing.T) {
	f := newPanelFixture(t, PanelOptions{})
	client, _ := f.newClient()

	f.send(t, client, map[string]interface{}{"type": "ping"})
	assert.Equal(t, models.MsgPong, nextMessage(t, client).Type)
}

func TestDispatchMalformedJSON(t *testing.T) {
	f := newPanelFixture(t, PanelOptions{})
	client, _ := f.newClient()

	f.handler.dispatch(client, []byte("{not json"))

	msg := nextMessage(t, client)
	assert.Equal(t, models.MsgError, msg.Type)
	assert.True(t, strings.HasPrefix(msg.Message, "Invalid message format"))

	// The connection keeps working afterwards
	f.send(t, client, map[string]interface{}{"type": "ping"})
	assert.Equal(t, models.MsgPong, nextMessage(t, client).Type)
}

func TestDispatchUnknownType(t *testing.T) {
	f := newPanelFixture(t, PanelOptions{})
	client, _ := f.newClient()

	f.send(t, client, map[string]interface{}{"type": "launch-rockets"})

	msg := nextMessage(t, client)
	assert.Equal(t, models.MsgError, msg.Type)
	assert.Equal(t, "Unknown command type: launch-rockets", msg.Message)
}

func TestDispatchStoreAndRetrieveMemory(t *testing.T) {
	f := newPanelFixture(t, PanelOptions{})
	client, session := f.newClient()

	f.send(t, client, map[string]interface{}{"type": "store-memory", "key": "goal", "value": map[string]interface{}{"stage": 2}})

	update := nextMessage(t, client)
	assert.Equal(t, models.MsgMemoryUpdate, update.Type)
	assert.Equal(t, map[string]interface{}{"goal": map[string]interface{}{"stage": float64(2)}}, update.Memory)
	assert.Equal(t, "💾 Stored: goal", nextMessage(t, client).Output)

	f.send(t, client, map[string]interface{}{"type": "retrieve-memory", "key": "goal"})
	assert.Equal(t, `📖 goal: {"stage":2}`, nextMessage(t, client).Output)
	update = nextMessage(t, client)
	assert.Equal(t, models.MsgMemoryUpdate, update.Type)
	assert.Contains(t, update.Memory, "goal")

	f.send(t, client, map[string]interface{}{"type": "retrieve-memory", "key": "missing"})
	msg := nextMessage(t, client)
	assert.Equal(t, models.MsgCommandOutput, msg.Type)
	assert.Equal(t, "Key not found: missing", msg.Output)
	assertNoMessage(t, client)

	value, ok := session.GetMemory("goal")
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"stage": float64(2)}, value)
}

func TestDispatchStoreMemoryRequiresKey(t *testing.T) {
	f := newPanelFixture(t, PanelOptions{})
	client, _ := f.newClient()

	f.send(t, client, map[string]interface{}{"type": "store-memory", "value": 1})

	msg := nextMessage(t, client)
	assert.Equal(t, models.MsgError, msg.Type)
	assert.Equal(t, "key is required", msg.Message)
}

func TestDispatchSpawnAgent(t *testing.T) {
	f := newPanelFixture(t, PanelOptions{SpawnViaCLI: false})
	client, session := f.newClient()

	f.send(t, client, map[string]interface{}{"type": "spawn-agent", "agentType": "Researcher"})

	update := nextMessage(t, client)
	assert.Equal(t, models.MsgAgentUpdate, update.Type)
	require.NotNil(t, update.Count)
	assert.Equal(t, 1, *update.Count)

	output := nextMessage(t, client)
	assert.True(t, strings.HasPrefix(output.Output, "🤖 Agent researcher spawned successfully (agent_"), output.Output)
	assertNoMessage(t, client)

	assert.Equal(t, 1, session.ActiveAgentCount())
	assert.Equal(t, 1, f.registry.AgentCount())
}

func TestDispatchSpawnManyAgentsCountsActive(t *testing.T) {
	f := newPanelFixture(t, PanelOptions{})
	client, session := f.newClient()

	for i, agentType := range []string{"coder", "tester", "coder", "analyst"} {
		f.send(t, client, map[string]interface{}{"type": "spawn-agent", "agentType": agentType})
		update := nextMessage(t, client)
		require.Equal(t, models.MsgAgentUpdate, update.Type)
		require.NotNil(t, update.Count)
		assert.Equal(t, i+1, *update.Count)
		nextMessage(t, client)
	}

	for _, agent := range session.Agents() {
		assert.Equal(t, models.AgentStatusActive, agent.Status)
	}
}

func TestDispatchSpawnAgentViaCLI(t *testing.T) {
	f := newPanelFixture(t, PanelOptions{SpawnViaCLI: true})
	client, _ := f.newClient()

	f.send(t, client, map[string]interface{}{"type": "spawn-agent", "agentType": "coder"})

	assert.Equal(t, models.MsgAgentUpdate, nextMessage(t, client).Type)
	assert.Contains(t, nextMessage(t, client).Output, "spawned successfully")
	// The catalog CLI is "echo flow", so the CLI run echoes its own arguments
	assert.Equal(t, "flow agent spawn coder", nextMessage(t, client).Output)
}

func TestDispatchSpawnAgentInvalidType(t *testing.T) {
	f := newPanelFixture(t, PanelOptions{})
	client, session := f.newClient()

	f.send(t, client, map[string]interface{}{"type": "spawn-agent", "agentType": "wizard"})

	msg := nextMessage(t, client)
	assert.Equal(t, models.MsgError, msg.Type)
	assert.Contains(t, msg.Message, "invalid agent type")
	assert.Equal(t, 0, session.ActiveAgentCount())
}

func TestDispatchExecuteCommand(t *testing.T) {
	f := newPanelFixture(t, PanelOptions{})
	client, session := f.newClient()

	f.send(t, client, map[string]interface{}{"type": "execute-command", "command": "printf 'a\\nb\\n'"})

	assert.Equal(t, "$ printf 'a\\nb\\n'", nextMessage(t, client).Output)
	assert.Equal(t, "a", nextMessage(t, client).Output)
	assert.Equal(t, "b", nextMessage(t, client).Output)

	commands := session.Commands()
	require.Len(t, commands, 1)
	assert.Equal(t, "printf 'a\\nb\\n'", commands[0].Command)
}

func TestDispatchExecuteCatalogCommand(t *testing.T) {
	f := newPanelFixture(t, PanelOptions{})
	client, _ := f.newClient()

	f.send(t, client, map[string]interface{}{"type": "execute-command", "command": "swarm status"})

	assert.Equal(t, "$ swarm status", nextMessage(t, client).Output)
	assert.Equal(t, "flow swarm status", nextMessage(t, client).Output)
}

func TestDispatchExecuteCommandFailure(t *testing.T) {
	f := newPanelFixture(t, PanelOptions{})
	client, _ := f.newClient()

	f.send(t, client, map[string]interface{}{"type": "execute-command", "command": "exit 7"})

	assert.Equal(t, "$ exit 7", nextMessage(t, client).Output)
	msg := nextMessage(t, client)
	assert.Equal(t, models.MsgCommandOutput, msg.Type)
	assert.True(t, strings.HasPrefix(msg.Output, "❌ Error: "), msg.Output)
	assertNoMessage(t, client)
}

func TestDispatchExecuteCommandRequiresCommand(t *testing.T) {
	f := newPanelFixture(t, PanelOptions{})
	client, _ := f.newClient()

	f.send(t, client, map[string]interface{}{"type": "execute-command", "command": "  "})

	msg := nextMessage(t, client)
	assert.Equal(t, models.MsgError, msg.Type)
	assert.Equal(t, "command is required", msg.Message)
}

func TestDispatchSaveListResume(t *testing.T) {
	f := newPanelFixture(t, PanelOptions{})
	client, session := f.newClient()

	f.send(t, client, map[string]interface{}{"type": "store-memory", "key": "k", "value": "v"})
	nextMessage(t, client)
	nextMessage(t, client)

	f.send(t, client, map[string]interface{}{"type": "save-session"})
	assert.Equal(t, "💾 Session saved: "+session.ID, nextMessage(t, client).Output)

	f.send(t, client, map[string]interface{}{"type": "list-sessions"})
	list := nextMessage(t, client)
	assert.Equal(t, models.MsgSessionsList, list.Type)
	require.NotNil(t, list.Sessions)
	require.Len(t, *list.Sessions, 1)
	assert.Equal(t, session.ID, (*list.Sessions)[0].ID)

	// A second connection resumes the saved session and switches to it
	other, _ := f.newClient()
	f.send(t, other, map[string]interface{}{"type": "resume-session", "sessionId": session.ID})

	restored := nextMessage(t, other)
	assert.Equal(t, models.MsgSessionRestored, restored.Type)
	require.NotNil(t, restored.Session)
	assert.Equal(t, session.ID, restored.Session.ID)
	assert.Equal(t, map[string]interface{}{"k": "v"}, restored.Session.Memory)

	update := nextMessage(t, other)
	assert.Equal(t, models.MsgSessionUpdate, update.Type)
	assert.Equal(t, session.ID, update.SessionID)
	assert.Equal(t, session.ID, other.conn.SessionID())

	f.send(t, other, map[string]interface{}{"type": "retrieve-memory", "key": "k"})
	assert.Equal(t, `📖 k: "v"`, nextMessage(t, other).Output)
}

func TestDispatchListSessionsEmpty(t *testing.T) {
	f := newPanelFixture(t, PanelOptions{})
	client, _ := f.newClient()

	f.send(t, client, map[string]interface{}{"type": "list-sessions"})

	list := nextMessage(t, client)
	require.Equal(t, models.MsgSessionsList, list.Type)
	require.NotNil(t, list.Sessions)
	assert.Empty(t, *list.Sessions)

	frame, err := json.Marshal(list)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"sessions-list","sessions":[]}`, string(frame))
}

func TestDispatchResumeUnknownSession(t *testing.T) {
	f := newPanelFixture(t, PanelOptions{})
	client, session := f.newClient()

	f.send(t, client, map[string]interface{}{"type": "resume-session", "sessionId": "session_0_nothere"})

	msg := nextMessage(t, client)
	assert.Equal(t, models.MsgError, msg.Type)
	assert.True(t, strings.HasPrefix(msg.Message, "Failed to resume session: "), msg.Message)
	assert.Equal(t, session.ID, client.conn.SessionID())
}

func TestDispatchResumeRejectsTraversal(t *testing.T) {
	f := newPanelFixture(t, PanelOptions{})
	client, _ := f.newClient()

	f.send(t, client, map[string]interface{}{"type": "resume-session", "sessionId": "../../etc/passwd"})

	msg := nextMessage(t, client)
	assert.Equal(t, models.MsgError, msg.Type)
}

func TestDispatchGetStatus(t *testing.T) {
	f := newPanelFixture(t, PanelOptions{})
	client, _ := f.newClient()

	f.send(t, client, map[string]interface{}{"type": "get-status"})

	msg := nextMessage(t, client)
	assert.Equal(t, models.MsgStatusUpdate, msg.Type)
	require.NotNil(t, msg.Status)
	assert.Equal(t, 1, msg.Status.Sessions)
}

func TestDispatchRateLimit(t *testing.T) {
	f := newPanelFixture(t, PanelOptions{MessageRate: 1})
	client, _ := f.newClient()

	f.send(t, client, map[string]interface{}{"type": "ping"})
	assert.Equal(t, models.MsgPong, nextMessage(t, client).Type)

	f.send(t, client, map[string]interface{}{"type": "ping"})
	msg := nextMessage(t, client)
	assert.Equal(t, models.MsgError, msg.Type)
	assert.Contains(t, msg.Message, "Rate limit")
}

func TestFinishSessionSavesActiveSession(t *testing.T) {
	f := newPanelFixture(t, PanelOptions{})
	client, session := f.newClient()

	f.handler.finishSession(client)

	assert.NotNil(t, session.EndTime())
	loaded, err := f.store.Load(session.ID)
	require.NoError(t, err)
	assert.NotNil(t, loaded.EndTime())
}

func TestFinishSessionEndsOpenedAndResumedSessions(t *testing.T) {
	f := newPanelFixture(t, PanelOptions{})

	saved, _ := f.newClient()
	f.send(t, saved, map[string]interface{}{"type": "save-session"})
	nextMessage(t, saved)
	savedID := saved.conn.SessionID()

	client, opened := f.newClient()
	f.send(t, client, map[string]interface{}{"type": "resume-session", "sessionId": savedID})
	require.Equal(t, models.MsgSessionRestored, nextMessage(t, client).Type)
	nextMessage(t, client)
	require.Equal(t, savedID, client.conn.SessionID())

	// Resuming the same session twice does not end it twice
	f.send(t, client, map[string]interface{}{"type": "resume-session", "sessionId": savedID})
	nextMessage(t, client)
	nextMessage(t, client)
	assert.Equal(t, []string{opened.ID, savedID}, client.touched)

	f.handler.finishSession(client)

	for _, id := range []string{opened.ID, savedID} {
		loaded, err := f.store.Load(id)
		require.NoError(t, err, id)
		assert.NotNil(t, loaded.EndTime(), id)
	}
	assert.NotNil(t, opened.EndTime())
}
