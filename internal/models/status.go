package models

import "time"

// MemoryUsage holds Go runtime memory figures in bytes
type MemoryUsage struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"totalAlloc"`
	Sys        uint64 `json:"sys"`
	HeapInuse  uint64 `json:"heapInuse"`
	NumGC      uint32 `json:"numGC"`
	Goroutines int    `json:"goroutines"`
}

// StatusSnapshot is a point-in-time view of the server
type StatusSnapshot struct {
	Uptime      float64     `json:"uptime"` // seconds
	Memory      MemoryUsage `json:"memory"`
	Sessions    int         `json:"sessions"`
	Agents      int         `json:"agents"`
	Connections int         `json:"connections"`
	Timestamp   time.Time   `json:"timestamp"`
}
