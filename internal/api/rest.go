package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/laundromat/internal/identity"
	"github.com/devghori1264/aerophoenix/laundromat/internal/models"
	"github.com/devghori1264/aerophoenix/laundromat/internal/server"
)

const RequestIDHeader = "X-Request-Id"

// maxRequestBytes caps the body of a reservation request.
const maxRequestBytes = 64 << 10

var (
	machinePath = regexp.MustCompile(`^/machine/([A-Za-z0-9-]+)$`)
	startPath   = regexp.MustCompile(`^/machine/([A-Za-z0-9-]+)/start$`)
)

// Handler routes HTTP requests to the machine operations. Every request must
// carry a valid bearer token; liveness lives on the admin listener.
type Handler struct {
	svc       server.Service
	validator identity.Validator
	logger    *zap.Logger
}

func NewHTTPHandler(svc server.Service, v identity.Validator, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, validator: v, logger: logger.Named("http")}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := r.Header.Get(RequestIDHeader)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	w.Header().Set(RequestIDHeader, reqID)
	log := h.logger.With(zap.String("request_id", reqID), zap.String("method", r.Method), zap.String("path", r.URL.Path))

	token, _ := identity.BearerToken(r.Header.Get("Authorization"))
	if err := identity.Check(r.Context(), h.validator, token); err != nil {
		log.Info("rejected request", zap.Error(err))
		h.writeResult(w, log, models.Unauthorized("invalid or missing token"))
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/machine/request":
		h.handleRequest(w, r, log)
	case r.Method == http.MethodGet && machinePath.MatchString(r.URL.Path):
		id := machinePath.FindStringSubmatch(r.URL.Path)[1]
		res, err := h.svc.GetMachine(r.Context(), id)
		h.respond(w, log, res, err)
	case r.Method == http.MethodPost && startPath.MatchString(r.URL.Path):
		id := startPath.FindStringSubmatch(r.URL.Path)[1]
		res, err := h.svc.StartMachine(r.Context(), id)
		h.respond(w, log, res, err)
	default:
		h.writeResult(w, log, models.InternalError("no route for "+r.Method+" "+r.URL.Path))
	}
}

func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request, log *zap.Logger) {
	var req struct {
		LocationID string `json:"locationId"`
		JobID      string `json:"jobId"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeResult(w, log, models.BadRequest("request body too large", nil))
			return
		}
		h.writeResult(w, log, models.BadRequest("invalid JSON payload", nil))
		return
	}
	res, err := h.svc.RequestMachine(r.Context(), req.LocationID, req.JobID)
	h.respond(w, log, res, err)
}

func (h *Handler) respond(w http.ResponseWriter, log *zap.Logger, res models.Result, err error) {
	if err != nil {
		log.Error("operation failed", zap.Error(err))
		res = models.InternalError("internal error")
	}
	h.writeResult(w, log, res)
}

func (h *Handler) writeResult(w http.ResponseWriter, log *zap.Logger, res models.Result) {
	status := HTTPStatus(res.Code)
	if status >= http.StatusInternalServerError {
		log.Warn("request failed", zap.Int("status", status), zap.String("code", string(res.Code)), zap.String("message", res.Message))
	}
	writeJSON(w, status, res)
}

// HTTPStatus maps a result code to its HTTP status.
func HTTPStatus(code models.Code) int {
	switch code {
	case models.CodeOK:
		return http.StatusOK
	case models.CodeNotFound:
		return http.StatusNotFound
	case models.CodeBadRequest:
		return http.StatusBadRequest
	case models.CodeHardwareError:
		return http.StatusBadGateway
	case models.CodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

var ErrMachineRequired = errors.New("machineId required")
