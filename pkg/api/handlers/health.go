package handlers

import (
	"context"
	"net/http"
	"time"
)

// HealthHandler serves the unauthenticated probes.
type HealthHandler struct {
	rt Runtime
}

// NewHealthHandler creates a health handler. rt may be nil, in which case
// the readiness probe fails.
func NewHealthHandler(rt Runtime) *HealthHandler {
	return &HealthHandler{rt: rt}
}

// Liveness handles GET /health.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "flashwear",
	}))
}

// ReadinessData is the payload of GET /health/ready.
type ReadinessData struct {
	Device        string `json:"device"`
	SnapshotStore string `json:"snapshot_store"`
	StoreLatency  string `json:"store_latency,omitempty"`
	Usable        int    `json:"usable_blocks"`
	Degraded      bool   `json:"degraded"`
}

// Readiness handles GET /health/ready.
//
// Returns 503 when the runtime is missing, the snapshot store fails its
// healthcheck or no usable block is left. A degraded device is still
// ready; the flag is reported in the payload.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.rt == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("runtime not initialized"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.rt.Status()
	data := ReadinessData{
		Device:        status.DeviceKind,
		SnapshotStore: status.StoreType,
		Usable:        status.Stats.Usable,
		Degraded:      status.Stats.Degraded,
	}

	start := time.Now()
	err := h.rt.Healthcheck(ctx)
	data.StoreLatency = time.Since(start).String()

	switch {
	case err != nil:
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponseWithData(data, "snapshot store: "+err.Error()))
	case status.Stats.Usable == 0:
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponseWithData(data, "no usable blocks"))
	default:
		writeJSON(w, http.StatusOK, healthyResponse(data))
	}
}
