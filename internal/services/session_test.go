package services

import (
	"context"
	"errors"
	"flowdeck/internal/models"
	"flowdeck/internal/security"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionService(t *testing.T) (*SessionService, *SessionRegistry, *MemoryStore, *SessionStore) {
	t.Helper()
	registry := NewSessionRegistry()
	memory := NewMemoryStore(nil)
	store := NewSessionStore(filepath.Join(t.TempDir(), "sessions"))
	return NewSessionService(registry, memory, store), registry, memory, store
}

func TestSessionIDFormat(t *testing.T) {
	id := NewSessionID()
	parts := strings.Split(id, "_")
	require.Len(t, parts, 3)
	assert.Equal(t, "session", parts[0])
	assert.Len(t, parts[2], 9)
	assert.NotEqual(t, id, NewSessionID())
	assert.True(t, strings.HasPrefix(NewAgentID(), "agent_"))
}

func TestSpawnAgent(t *testing.T) {
	registry := NewSessionRegistry()
	session := registry.Create()

	agent, err := registry.SpawnAgent(session, "coder")
	require.NoError(t, err)
	assert.Equal(t, "coder", agent.Type)
	assert.Equal(t, models.AgentStatusActive, agent.Status)
	assert.Equal(t, 1, session.ActiveAgentCount())

	indexed, ok := registry.GetAgent(agent.ID)
	require.True(t, ok)
	assert.Equal(t, agent, indexed)
	assert.Equal(t, 1, registry.AgentCount())
}

func TestSpawnAgentRejectsUnknownType(t *testing.T) {
	registry := NewSessionRegistry()
	session := registry.Create()

	_, err := registry.SpawnAgent(session, "wizard")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"wizard"`)
	assert.Equal(t, 0, session.ActiveAgentCount())
	assert.Equal(t, 0, registry.AgentCount())
}

func TestMemoryStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	memory := NewMemoryStore(nil)
	session := models.NewSession("s1", time.Now())

	require.NoError(t, memory.Store(ctx, session, "goal", "v1"))
	require.NoError(t, memory.Store(ctx, session, "goal", "v2"))

	value, ok := memory.Retrieve(ctx, session, "goal")
	require.True(t, ok)
	assert.Equal(t, "v2", value)

	snapshot, err := memory.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"s1:goal": "v2"}, snapshot)
	assert.Equal(t, 1, memory.Count(ctx))
}

func TestMemoryStoreMissingKey(t *testing.T) {
	ctx := context.Background()
	memory := NewMemoryStore(nil)
	session := models.NewSession("s1", time.Now())

	_, ok := memory.Retrieve(ctx, session, "missing")
	assert.False(t, ok)
	assert.Error(t, memory.Store(ctx, session, "", "x"))
}

func TestMemoryStoreFallsBackToMirror(t *testing.T) {
	ctx := context.Background()
	mirror := NewCacheMirror()
	memory := NewMemoryStore(mirror)
	session := models.NewSession("s1", time.Now())

	require.NoError(t, mirror.Set(ctx, MirrorKey("s1", "seeded"), 42))

	value, ok := memory.Retrieve(ctx, session, "seeded")
	require.True(t, ok)
	assert.Equal(t, 42, value)
}

func TestSessionStoreSaveLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sessions")
	store := NewSessionStore(dir)
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	session := models.NewSession("session_1_abc", start)
	session.AddAgent(models.Agent{ID: "agent_1", Type: "tester", Status: models.AgentStatusActive, StartTime: start})
	session.AddCommand("swarm status", start)
	session.SetMemory("plan", []interface{}{"a", "b"})

	path, err := store.Save(session)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "session_1_abc.json"), path)
	assert.False(t, session.IsDirty())

	loaded, err := store.Load("session_1_abc")
	require.NoError(t, err)
	assert.Equal(t, session.State(), loaded.State())
}

func TestSessionStoreLoadMissing(t *testing.T) {
	store := NewSessionStore(t.TempDir())

	_, err := store.Load("nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestSessionStoreRejectsTraversal(t *testing.T) {
	store := NewSessionStore(t.TempDir())

	_, err := store.Load("../../etc/passwd")
	require.Error(t, err)
	assert.True(t, errors.Is(err, security.ErrInvalidSessionID))
	assert.False(t, errors.Is(err, ErrSessionNotFound))

	_, err = store.Save(models.NewSession("../escape", time.Now()))
	assert.Error(t, err)
}

func TestSessionStoreListSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewSessionStore(dir)

	older := models.NewSession("older", time.Now().Add(-time.Hour))
	newer := models.NewSession("newer", time.Now())
	_, err := store.Save(older)
	require.NoError(t, err)
	_, err = store.Save(newer)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0644))

	list, err := store.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "newer", list[0].ID)
	assert.Equal(t, "older", list[1].ID)

	// Resume of the same corrupt file is an error rather than a silent skip
	_, err = store.Load("broken")
	assert.Error(t, err)
}

func TestSessionStoreRejectsMismatchedID(t *testing.T) {
	dir := t.TempDir()
	store := NewSessionStore(dir)

	_, err := store.Save(models.NewSession("session_2_real", time.Now()))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "session_2_real.json"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session_2_other.json"), data, 0644))

	_, err = store.Load("session_2_other")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionIDMismatch))
	assert.False(t, errors.Is(err, ErrSessionNotFound))

	list, err := store.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "session_2_real", list[0].ID)
}

func TestSessionStoreLoadFillsMissingID(t *testing.T) {
	dir := t.TempDir()
	store := NewSessionStore(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "session_3_bare.json"),
		[]byte(`{"startTime":"2024-06-01T12:00:00Z","endTime":null,"agents":[],"commands":[],"memory":[["k","v"]]}`), 0644))

	loaded, err := store.Load("session_3_bare")
	require.NoError(t, err)
	assert.Equal(t, "session_3_bare", loaded.ID)
	value, ok := loaded.GetMemory("k")
	require.True(t, ok)
	assert.Equal(t, "v", value)
}

func TestSessionStoreSaveKeepsLaterChangeDirty(t *testing.T) {
	store := NewSessionStore(t.TempDir())
	session := models.NewSession("session_4_race", time.Now())

	_, err := store.Save(session)
	require.NoError(t, err)
	require.False(t, session.IsDirty())

	session.SetMemory("late", true)
	assert.True(t, session.IsDirty())

	_, err = store.Save(session)
	require.NoError(t, err)
	assert.False(t, session.IsDirty())

	loaded, err := store.Load(session.ID)
	require.NoError(t, err)
	value, ok := loaded.GetMemory("late")
	require.True(t, ok)
	assert.Equal(t, true, value)
}

func TestSessionStoreListMissingDir(t *testing.T) {
	store := NewSessionStore(filepath.Join(t.TempDir(), "absent"))

	list, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSessionServiceResume(t *testing.T) {
	ctx := context.Background()
	service, registry, memory, store := newTestSessionService(t)

	original := registry.Create()
	agent, err := registry.SpawnAgent(original, "architect")
	require.NoError(t, err)
	require.NoError(t, memory.Store(ctx, original, "design", "v1"))
	_, err = service.Save(original.ID)
	require.NoError(t, err)

	// A fresh process: empty registry and mirror, same directory
	freshRegistry := NewSessionRegistry()
	freshMemory := NewMemoryStore(nil)
	fresh := NewSessionService(freshRegistry, freshMemory, store)

	resumed, err := fresh.Resume(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, original.ID, resumed.ID)

	live, ok := freshRegistry.Get(original.ID)
	require.True(t, ok)
	assert.Same(t, resumed, live)

	_, ok = freshRegistry.GetAgent(agent.ID)
	assert.True(t, ok, "resumed agents are re-registered")

	value, ok := freshMemory.Retrieve(ctx, models.NewSession(original.ID, time.Now()), "design")
	require.True(t, ok, "resumed memory is re-mirrored")
	assert.Equal(t, "v1", value)
}

func TestSessionServiceResumeUnknown(t *testing.T) {
	service, _, _, _ := newTestSessionService(t)

	_, err := service.Resume(context.Background(), "session_0_missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestSessionServiceEndAndSaveAll(t *testing.T) {
	service, registry, _, _ := newTestSessionService(t)

	a := registry.Create()
	b := registry.Create()

	require.NoError(t, service.End(a.ID))
	assert.NotNil(t, a.EndTime())
	assert.False(t, a.IsDirty())

	saved, err := service.SaveAll(true)
	require.NoError(t, err)
	assert.Equal(t, 1, saved, "only the unsaved session is written")
	assert.False(t, b.IsDirty())

	saved, err = service.SaveAll(false)
	require.NoError(t, err)
	assert.Equal(t, 2, saved)

	list, err := service.List()
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Len(t, service.Live(), 2)
}

func TestSessionServiceSaveUnknown(t *testing.T) {
	service, _, _, _ := newTestSessionService(t)

	_, err := service.Save("session_0_ghost")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestStatusSnapshot(t *testing.T) {
	registry := NewSessionRegistry()
	connManager := NewConnectionManager()
	status := NewStatusService(registry, connManager)

	session := registry.Create()
	_, err := registry.SpawnAgent(session, "monitor")
	require.NoError(t, err)
	connManager.Add(models.NewPanelConnection("c1", "127.0.0.1", nil, session.ID))

	snapshot := status.Snapshot()
	assert.Equal(t, 1, snapshot.Sessions)
	assert.Equal(t, 1, snapshot.Agents)
	assert.Equal(t, 1, snapshot.Connections)
	assert.GreaterOrEqual(t, snapshot.Uptime, 0.0)
	assert.Greater(t, snapshot.Memory.Goroutines, 0)
	assert.NotZero(t, snapshot.Memory.Sys)

	connManager.Remove("c1")
	assert.Equal(t, 0, status.Snapshot().Connections)
}
