package api

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// ServerMetrics состояние процесса для /health
type ServerMetrics struct {
	StartTime time.Time
	proc      *process.Process
}

// HealthReport ответ /health
type HealthReport struct {
	Status     string  `json:"status"`
	Time       int64   `json:"time"`
	Uptime     string  `json:"uptime"`
	MemoryMB   float64 `json:"memory_mb"`
	HeapMB     float64 `json:"heap_mb"`
	Goroutines int     `json:"goroutines"`
	CPUPercent float64 `json:"cpu_percent"`
	Replays    int     `json:"replays"`
	Error      string  `json:"error,omitempty"`
}

func NewServerMetrics() *ServerMetrics {
	sm := &ServerMetrics{StartTime: time.Now()}
	// process недоступен в некоторых песочницах; тогда CPU берётся системный
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		sm.proc = p
	}
	return sm
}

// GetUptime в виде "1д 2ч 3м 4с", старшие нулевые части опускаются
func (sm *ServerMetrics) GetUptime() string {
	return formatUptime(time.Since(sm.StartTime))
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dд %dч %dм %dс", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dч %dм %dс", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dм %dс", minutes, seconds)
	}
	return fmt.Sprintf("%dс", seconds)
}

// GetCPUUsage CPU процесса с момента старта, иначе системный за 100мс
func (sm *ServerMetrics) GetCPUUsage() (float64, error) {
	if sm.proc != nil {
		if pct, err := sm.proc.CPUPercent(); err == nil {
			return pct, nil
		}
	}
	pcts, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		return 0, err
	}
	if len(pcts) == 0 {
		return 0, nil
	}
	return pcts[0], nil
}

// Snapshot без поля Replays
func (sm *ServerMetrics) Snapshot() HealthReport {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	cpuPct, _ := sm.GetCPUUsage()
	return HealthReport{
		Status:     "ok",
		Time:       time.Now().Unix(),
		Uptime:     sm.GetUptime(),
		MemoryMB:   float64(m.Sys) / 1024 / 1024,
		HeapMB:     float64(m.HeapAlloc) / 1024 / 1024,
		Goroutines: runtime.NumGoroutine(),
		CPUPercent: cpuPct,
	}
}

// handleHealth 503, если хранилище не отвечает
func (rs *RestServer) handleHealth(c *gin.Context) {
	report := rs.metrics.Snapshot()
	n, err := rs.library.Count(c.Request.Context())
	if err != nil {
		report.Status = "degraded"
		report.Error = err.Error()
		c.JSON(http.StatusServiceUnavailable, report)
		return
	}
	report.Replays = n
	c.JSON(http.StatusOK, report)
}
