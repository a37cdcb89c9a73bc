package accessory

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ilot95/hmip-bridge/internal/bridges/hmip"
)

// healthTimeout bounds each dependency check.
const healthTimeout = 2 * time.Second

type healthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version,omitempty"`
	Endpoints int               `json:"endpoints"`
	Checks    map[string]string `json:"checks,omitempty"`
}

type characteristicResponse struct {
	EndpointID     string `json:"endpoint_id"`
	Characteristic string `json:"characteristic"`
	Value          any    `json:"value"`
}

type setRequest struct {
	Value any `json:"value"`
}

// handleHealth reports the bridge status and every dependency check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Version:   s.version,
		Endpoints: len(s.host.Endpoints()),
	}
	status := http.StatusOK

	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
		for name, check := range s.checks {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			err := check(ctx)
			cancel()
			if err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	writeJSON(w, status, resp)
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, _ *http.Request) {
	endpoints := s.host.Endpoints()
	writeJSON(w, http.StatusOK, map[string]any{
		"endpoints": endpoints,
		"count":     len(endpoints),
	})
}

func (s *Server) handleGetEndpoint(w http.ResponseWriter, r *http.Request) {
	view, err := s.host.Endpoint(chi.URLParam(r, "id"))
	if err != nil {
		writeHostError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetCharacteristic(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	kind := chi.URLParam(r, "kind")

	value, err := s.host.Get(id, hmip.Characteristic(kind))
	if err != nil {
		writeHostError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, characteristicResponse{EndpointID: id, Characteristic: kind, Value: value})
}

// handleSetCharacteristic applies {"value": ...}. The reply carries the
// cached value, which only changes once the device reports back.
func (s *Server) handleSetCharacteristic(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	kind := chi.URLParam(r, "kind")

	var req setRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), SetTimeout)
	defer cancel()

	if err := s.host.Set(ctx, id, hmip.Characteristic(kind), req.Value); err != nil {
		s.logInfoCtx(r, "set characteristic failed", "endpoint_id", id, "characteristic", kind, "error", err)
		writeHostError(w, err)
		return
	}

	value, err := s.host.Get(id, hmip.Characteristic(kind))
	if err != nil {
		writeHostError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, characteristicResponse{EndpointID: id, Characteristic: kind, Value: value})
}

func (s *Server) logInfoCtx(r *http.Request, msg string, args ...any) {
	args = append(args, "request_id", r.Context().Value(ctxKeyRequestID), "subject", r.Context().Value(ctxKeySubject))
	s.logInfo(msg, args...)
}
