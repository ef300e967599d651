package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

type healthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	BrokerConnected bool  `json:"broker_connected"`
	CPUPercent    float64 `json:"cpu_percent,omitempty"`
	MemUsedPercent float64 `json:"mem_used_percent,omitempty"`
}

// handleHealth reports process liveness plus lightweight CPU/memory
// telemetry for operator dashboards.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:          "ok",
		UptimeSeconds:   time.Since(s.startupTime).Seconds(),
		BrokerConnected: s.cfg.Connection != nil && s.cfg.Connection.IsConnected(),
	}

	if percentages, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percentages) > 0 {
		resp.CPUPercent = percentages[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.MemUsedPercent = vm.UsedPercent
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
