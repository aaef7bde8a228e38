package handlers

import (
	"time"

	xhttp "github.com/omondi/mpesa-gateway/pkg/http"
)

type HealthHandler struct {
	environment string
	diagnostics func() map[string]bool
}

func NewHealthHandler(environment string, diagnostics func() map[string]bool) *HealthHandler {
	return &HealthHandler{
		environment: environment,
		diagnostics: diagnostics,
	}
}

func RegisterHealthRoutes(r *xhttp.Router, h *HealthHandler) {
	r.GET("/api", h.GetHealth)
	r.GET("/api/config", h.GetConfigDiagnostics)
}

type healthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Environment string    `json:"environment"`
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	writeJSON(ctx, xhttp.StatusOK, healthResponse{
		Status:      "ok",
		Timestamp:   time.Now(),
		Environment: h.environment,
	})
}

// GetConfigDiagnostics reports which gateway credentials are configured.
// Only presence is exposed, never values.
func (h *HealthHandler) GetConfigDiagnostics(ctx *xhttp.RequestCtx) {
	writeJSON(ctx, xhttp.StatusOK, h.diagnostics())
}
