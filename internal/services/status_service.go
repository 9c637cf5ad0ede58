package services

import (
	"flowdeck/internal/models"
	"runtime"
	"time"
)

// StatusService reports point-in-time process and registry figures
type StatusService struct {
	startedAt   time.Time
	registry    *SessionRegistry
	connManager *ConnectionManager
}

// NewStatusService creates a status reporter; uptime is measured from this call
func NewStatusService(registry *SessionRegistry, connManager *ConnectionManager) *StatusService {
	return &StatusService{
		startedAt:   time.Now(),
		registry:    registry,
		connManager: connManager,
	}
}

// Uptime returns how long the server has been running
func (s *StatusService) Uptime() time.Duration {
	return time.Since(s.startedAt)
}

// Snapshot reads the current figures; nothing is retained between calls
func (s *StatusService) Snapshot() models.StatusSnapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	connections := 0
	if s.connManager != nil {
		connections = s.connManager.Count()
	}

	return models.StatusSnapshot{
		Uptime: s.Uptime().Seconds(),
		Memory: models.MemoryUsage{
			Alloc:      mem.Alloc,
			TotalAlloc: mem.TotalAlloc,
			Sys:        mem.Sys,
			HeapInuse:  mem.HeapInuse,
			NumGC:      mem.NumGC,
			Goroutines: runtime.NumGoroutine(),
		},
		Sessions:    s.registry.SessionCount(),
		Agents:      s.registry.AgentCount(),
		Connections: connections,
		Timestamp:   time.Now(),
	}
}
