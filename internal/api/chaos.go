package api

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Chaos is the fault-injection surface of a hardware simulator.
type Chaos interface {
	Fail(machineID string)
	Heal(machineID string)
	SetLatency(machineID string, d time.Duration)
}

type chaosHandler struct {
	sim    Chaos
	logger *zap.Logger
}

// RegisterChaos mounts the simulator fault endpoints on mux. They are meant for
// the admin listener only.
func RegisterChaos(mux *http.ServeMux, sim Chaos, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &chaosHandler{sim: sim, logger: logger.Named("chaos")}
	mux.HandleFunc("/chaos/fail", h.handleFail)
	mux.HandleFunc("/chaos/heal", h.handleHeal)
	mux.HandleFunc("/chaos/latency", h.handleLatency)
}

type chaosBody struct {
	MachineID string `json:"machineId"`
	LatencyMs int    `json:"latency_ms"`
}

func (h *chaosHandler) decode(w http.ResponseWriter, r *http.Request) (chaosBody, bool) {
	var body chaosBody
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return body, false
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.MachineID == "" {
		writeError(w, http.StatusBadRequest, ErrMachineRequired.Error())
		return body, false
	}
	return body, true
}

func (h *chaosHandler) handleFail(w http.ResponseWriter, r *http.Request) {
	body, ok := h.decode(w, r)
	if !ok {
		return
	}
	h.sim.Fail(body.MachineID)
	h.logger.Info("machine faulted", zap.String("machine_id", body.MachineID))
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "failing",
		"machineId": body.MachineID,
	})
}

func (h *chaosHandler) handleHeal(w http.ResponseWriter, r *http.Request) {
	body, ok := h.decode(w, r)
	if !ok {
		return
	}
	h.sim.Heal(body.MachineID)
	h.logger.Info("machine healed", zap.String("machine_id", body.MachineID))
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healed",
		"machineId": body.MachineID,
	})
}

func (h *chaosHandler) handleLatency(w http.ResponseWriter, r *http.Request) {
	body, ok := h.decode(w, r)
	if !ok {
		return
	}
	if body.LatencyMs < 0 {
		writeError(w, http.StatusBadRequest, "latency_ms must be non-negative")
		return
	}
	h.sim.SetLatency(body.MachineID, time.Duration(body.LatencyMs)*time.Millisecond)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "latency_set",
		"machineId":  body.MachineID,
		"latency_ms": body.LatencyMs,
	})
}
