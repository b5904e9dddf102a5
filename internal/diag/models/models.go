// Package models holds the JSON response shapes served by internal/diag.
package models

import "time"

// StatusResponse is the /healthz body.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is returned for failed/unauthorized requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CPUStats mirrors gopsutil's cpu.Percent sample.
type CPUStats struct {
	NumCPU      int     `json:"num_cpu"`
	UsedPercent float64 `json:"used_percent"`
	IdlePercent float64 `json:"idle_percent"`
}

// MemoryStats mirrors gopsutil's mem.VirtualMemory sample.
type MemoryStats struct {
	TotalMB     float64 `json:"total_mb"`
	FreeMB      float64 `json:"free_mb"`
	UsedMB      float64 `json:"used_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// QueueDepthResponse mirrors netmgr.QueueDepths for one worker.
type QueueDepthResponse struct {
	WorkerID   int   `json:"worker_id"`
	Priority   int64 `json:"priority"`
	Privileged int64 `json:"privileged"`
	Task       int64 `json:"task"`
	Normal     int64 `json:"normal"`
}

// NetmgrStatsResponse mirrors netmgr.Stats.Snapshot plus queue depths.
type NetmgrStatsResponse struct {
	Listens      uint64               `json:"listens"`
	Connects     uint64               `json:"connects"`
	Accepts      uint64               `json:"accepts"`
	AcceptsFail  uint64               `json:"accepts_fail"`
	QuotaDenied  uint64               `json:"quota_denied"`
	Reads        uint64               `json:"reads"`
	Sends        uint64               `json:"sends"`
	Timeouts     uint64               `json:"timeouts"`
	TLSErrors    uint64               `json:"tls_errors"`
	Closes       uint64               `json:"closes"`
	Destroys     uint64               `json:"destroys"`
	SocketsLive  int64                `json:"sockets_live"`
	HandlesLive  int64                `json:"handles_live"`
	Queues       []QueueDepthResponse `json:"queues"`
}

// ConnectionResponse describes one live connection for diagnostics,
// derived from a non-owning handle reference rather than a refcounted one.
type ConnectionResponse struct {
	TraceID string `json:"trace_id"`
}

// ConnectionsResponse is the /connections body.
type ConnectionsResponse struct {
	Connections []ConnectionResponse `json:"connections"`
}

// ServerStatsResponse is the /stats body.
type ServerStatsResponse struct {
	Uptime        string              `json:"uptime"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	StartTime     time.Time           `json:"start_time"`
	CPU           CPUStats            `json:"cpu"`
	Memory        MemoryStats         `json:"memory"`
	Netmgr        NetmgrStatsResponse `json:"netmgr"`
}
