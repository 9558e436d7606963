package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/terminail/autodroid-sub001/internal/device"
	"github.com/terminail/autodroid-sub001/internal/orchestrator"
	"github.com/terminail/autodroid-sub001/internal/scheduler"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string              `json:"timestamp"`
	Version       string              `json:"version"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Runtime       RuntimeMetrics      `json:"runtime"`
	WebSocket     WSMetrics           `json:"websocket"`
	Devices       device.Stats        `json:"devices"`
	Scheduler     scheduler.Stats     `json:"scheduler"`
	Workers       *orchestrator.Stats `json:"workers,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(timeFormat),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.Hub().ClientCount(),
		},
		Scheduler: s.sched.Stats(),
	}

	if stats, err := s.registry.Stats(); err == nil {
		metrics.Devices = stats
	} else {
		s.logger.Warn("registry stats unavailable", "error", err)
	}

	if s.orch != nil {
		st := s.orch.Stats()
		metrics.Workers = &st
	}

	writeJSON(w, http.StatusOK, metrics)
}
