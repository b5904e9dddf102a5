// Package handlers implements the diagnostics API endpoints: a liveness
// check and a snapshot of netmgr's counters and per-worker queue depths.
package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/hydraworks/netmgr/internal/diag/models"
	"github.com/hydraworks/netmgr/internal/netmgr"
)

// Handler contains dependencies for the diagnostics endpoints.
type Handler struct {
	mgr       *netmgr.Manager
	startTime time.Time
}

// New creates a Handler reporting on mgr's live counters.
func New(mgr *netmgr.Manager) *Handler {
	return &Handler{mgr: mgr, startTime: time.Now()}
}

// Health godoc
// @Summary Health check
// @Description Returns server liveness
// @Produce json
// @Success 200 {object} models.StatusResponse
// @Router /healthz [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, models.StatusResponse{Status: "ok"})
}

// Stats godoc
// @Summary Manager statistics
// @Description Returns runtime statistics including system CPU/memory usage and netmgr counters
// @Produce json
// @Success 200 {object} models.ServerStatsResponse
// @Security ApiKeyAuth
// @Router /stats [get]
func (h *Handler) Stats(c *gin.Context) {
	uptime := time.Since(h.startTime)

	memStats := models.MemoryStats{}
	if vmStat, err := mem.VirtualMemory(); err == nil {
		memStats.TotalMB = float64(vmStat.Total) / 1024 / 1024
		memStats.FreeMB = float64(vmStat.Available) / 1024 / 1024
		memStats.UsedMB = float64(vmStat.Used) / 1024 / 1024
		memStats.UsedPercent = vmStat.UsedPercent
	}

	cpuStats := models.CPUStats{NumCPU: runtime.NumCPU()}
	if cpuPercent, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		cpuStats.UsedPercent = cpuPercent[0]
		cpuStats.IdlePercent = 100.0 - cpuPercent[0]
	}

	resp := models.ServerStatsResponse{
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		StartTime:     h.startTime,
		CPU:           cpuStats,
		Memory:        memStats,
		Netmgr:        h.netmgrStats(),
	}

	c.JSON(http.StatusOK, resp)
}

// Connections godoc
// @Summary Live connections
// @Description Returns a trace ID for every connection netmgr currently tracks
// @Produce json
// @Success 200 {object} models.ConnectionsResponse
// @Security ApiKeyAuth
// @Router /connections [get]
func (h *Handler) Connections(c *gin.Context) {
	if h.mgr == nil {
		c.JSON(http.StatusOK, models.ConnectionsResponse{})
		return
	}
	refs := h.mgr.ActiveConnections()
	conns := make([]models.ConnectionResponse, len(refs))
	for i, r := range refs {
		conns[i] = models.ConnectionResponse{TraceID: r.TraceID().String()}
	}
	c.JSON(http.StatusOK, models.ConnectionsResponse{Connections: conns})
}

func (h *Handler) netmgrStats() models.NetmgrStatsResponse {
	if h.mgr == nil {
		return models.NetmgrStatsResponse{}
	}
	snap := h.mgr.Stats().Snapshot()
	depths := h.mgr.QueueDepths()

	queues := make([]models.QueueDepthResponse, len(depths))
	for i, d := range depths {
		queues[i] = models.QueueDepthResponse{
			WorkerID:   d.WorkerID,
			Priority:   d.Priority,
			Privileged: d.Privileged,
			Task:       d.Task,
			Normal:     d.Normal,
		}
	}

	return models.NetmgrStatsResponse{
		Listens:     snap.Listens,
		Connects:    snap.Connects,
		Accepts:     snap.Accepts,
		AcceptsFail: snap.AcceptsFail,
		QuotaDenied: snap.QuotaDenied,
		Reads:       snap.Reads,
		Sends:       snap.Sends,
		Timeouts:    snap.Timeouts,
		TLSErrors:   snap.TLSErrors,
		Closes:      snap.Closes,
		Destroys:    snap.Destroys,
		SocketsLive: snap.SocketsLive,
		HandlesLive: snap.HandlesLive,
		Queues:      queues,
	}
}
