package handlers

import (
	"flowdeck/internal/services"
	"log"
	"sort"

	"github.com/gofiber/fiber/v2"
)

// SessionAPIHandler serves read-only views of sessions, agents, memory and commands
type SessionAPIHandler struct {
	registry *services.SessionRegistry
	memory   *services.MemoryStore
	sessions *services.SessionService
	catalog  *services.CommandCatalog
}

// NewSessionAPIHandler creates a new session API handler
func NewSessionAPIHandler(registry *services.SessionRegistry, memory *services.MemoryStore, sessions *services.SessionService, catalog *services.CommandCatalog) *SessionAPIHandler {
	return &SessionAPIHandler{
		registry: registry,
		memory:   memory,
		sessions: sessions,
		catalog:  catalog,
	}
}

// ListLive returns summaries of sessions in the live registry
// GET /api/sessions
func (h *SessionAPIHandler) ListLive(c *fiber.Ctx) error {
	live := h.sessions.Live()
	sort.Slice(live, func(i, j int) bool {
		return live[i].StartTime.After(live[j].StartTime)
	})
	return c.JSON(fiber.Map{
		"sessions": live,
		"count":    len(live),
	})
}

// ListSaved returns summaries of session files on disk
// GET /api/sessions/saved
func (h *SessionAPIHandler) ListSaved(c *fiber.Ctx) error {
	saved, err := h.sessions.List()
	if err != nil {
		log.Printf("❌ [API] Failed to list saved sessions: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list saved sessions",
		})
	}
	return c.JSON(fiber.Map{
		"sessions": saved,
		"count":    len(saved),
	})
}

// GetSession returns one live session
// GET /api/sessions/:id
func (h *SessionAPIHandler) GetSession(c *fiber.Ctx) error {
	session, ok := h.registry.Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Session not found",
		})
	}
	return c.JSON(session.State())
}

// ListAgents returns every agent known to the process
// GET /api/agents
func (h *SessionAPIHandler) ListAgents(c *fiber.Ctx) error {
	agents := h.registry.Agents()
	sort.Slice(agents, func(i, j int) bool {
		return agents[i].StartTime.Before(agents[j].StartTime)
	})
	return c.JSON(fiber.Map{
		"agents": agents,
		"count":  len(agents),
	})
}

// Memory returns the global memory mirror keyed by "session:key"
// GET /api/memory
func (h *SessionAPIHandler) Memory(c *fiber.Ctx) error {
	memory, err := h.memory.Snapshot(c.UserContext())
	if err != nil {
		log.Printf("❌ [API] Failed to read memory mirror: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read memory",
		})
	}
	return c.JSON(fiber.Map{
		"memory": memory,
		"count":  len(memory),
	})
}

// Commands returns the active command catalog
// GET /api/commands
func (h *SessionAPIHandler) Commands(c *fiber.Ctx) error {
	entries := h.catalog.Entries()
	return c.JSON(fiber.Map{
		"commands": entries,
		"count":    len(entries),
	})
}
