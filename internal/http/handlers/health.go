package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"gorm.io/gorm"

	"github.com/splicecast/splicecast/internal/session"
	"github.com/splicecast/splicecast/pkg/duration"
)

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	version   string
	startTime time.Time
	manager   *session.Manager
	db        *gorm.DB
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string, manager *session.Manager) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
		manager:   manager,
	}
}

// WithDB enables the preset store ping in the health report.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// HealthResponse is the health report body.
type HealthResponse struct {
	Status    string  `json:"status"`
	Timestamp string  `json:"timestamp"`
	Version   string  `json:"version"`
	Uptime    string  `json:"uptime"`
	Sessions  int     `json:"sessions"`
	Database  string  `json:"database,omitempty"`
	Goroutine int     `json:"goroutines"`
	MemoryPct float64 `json:"memoryUsedPercent,omitempty"`
	Load1     float64 `json:"load1,omitempty"`
}

// HealthInput is the input for the health endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns service health including session count and system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the service health report.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: now.UTC().Format(time.RFC3339),
		Version:   h.version,
		Uptime:    duration.Format(now.Sub(h.startTime)),
		Goroutine: runtime.NumGoroutine(),
	}

	if h.manager != nil {
		resp.Sessions = len(h.manager.List(ctx))
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		resp.MemoryPct = vm.UsedPercent
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		resp.Load1 = avg.Load1
	}

	if h.db != nil {
		resp.Database = "up"
		if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			resp.Database = "down"
			resp.Status = "degraded"
		}
	}

	return &HealthOutput{Body: resp}, nil
}
