package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/roach88/smartmove/internal/domain"
	"github.com/roach88/smartmove/internal/fleet"
)

type registerRequest struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	City  string `json:"city"`
	State string `json:"state"`
}

type actionRequest struct {
	VehicleID string `json:"vehicleId"`
	City      string `json:"city"`
}

type endRequest struct {
	VehicleID string `json:"vehicleId"`
}

type stateRequest struct {
	VehicleID string `json:"vehicleId"`
	State     string `json:"state"`
	City      string `json:"city"`
	Reason    string `json:"reason"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	vt, err := domain.ParseVehicleType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	city, ok := optionalCity(w, req.City)
	if !ok {
		return
	}
	var state domain.State
	if req.State != "" {
		if state, err = domain.ParseState(req.State); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = s.newID()
	}

	v, err := s.fleet.RegisterVehicle(r.Context(), domain.Vehicle{ID: id, Type: vt, City: city, State: state})
	if err != nil {
		writeFleetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": v.ID})
}

func (s *Server) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	vs, err := s.fleet.ListVehicles(r.Context())
	if err != nil {
		writeFleetError(w, err)
		return
	}
	if vs == nil {
		vs = []domain.Vehicle{}
	}
	writeJSON(w, http.StatusOK, vs)
}

func (s *Server) handleGetVehicle(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing id")
		return
	}

	v, found, err := s.fleet.GetVehicle(r.Context(), id)
	if err != nil {
		writeFleetError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	s.handleAction(w, r, s.fleet.ReserveVehicle)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.handleAction(w, r, s.fleet.StartRental)
}

// handleAction serves the {vehicleId, city} operations.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string, city domain.City) error) {
	var req actionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	city, ok := optionalCity(w, req.City)
	if !ok {
		return
	}

	if err := op(r.Context(), req.VehicleID, city); err != nil {
		writeFleetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	var req endRequest
	if !decodeBody(w, r, &req) {
		return
	}

	p, err := s.fleet.EndRental(r.Context(), req.VehicleID)
	if err != nil {
		writeFleetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "payment": p})
}

func (s *Server) handleChangeState(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	to, err := domain.ParseState(req.State)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	city, ok := optionalCity(w, req.City)
	if !ok {
		return
	}

	if err := s.fleet.ChangeState(r.Context(), req.VehicleID, to, city, req.Reason); err != nil {
		writeFleetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	var t domain.Telemetry
	if !decodeBody(w, r, &t) {
		return
	}

	queued, err := s.fleet.QueueTelemetry(t)
	if err != nil {
		writeFleetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"queued": queued})
}

func (s *Server) handlePayments(w http.ResponseWriter, r *http.Request) {
	ps, err := s.fleet.Payments(r.Context())
	if err != nil {
		writeFleetError(w, err)
		return
	}
	if ps == nil {
		ps = []domain.Payment{}
	}
	writeJSON(w, http.StatusOK, ps)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			slog.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "telemetryQueue": s.fleet.QueueLen()})
}

// optionalCity parses a city, writing a 400 on failure. Empty is allowed;
// the controller decides whether the operation needs one.
func optionalCity(w http.ResponseWriter, raw string) (domain.City, bool) {
	if raw == "" {
		return "", true
	}
	c, err := domain.ParseCity(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return c, true
}

// decodeBody decodes a JSON request body into dst, writing a 400 on
// failure. Unknown fields are rejected.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

// statusFor maps a controller error kind to an HTTP status.
func statusFor(err error) int {
	switch fleet.KindOf(err) {
	case fleet.KindInvalidArgument:
		return http.StatusBadRequest
	case fleet.KindNotFound:
		return http.StatusNotFound
	case fleet.KindInvalidState:
		return http.StatusConflict
	case fleet.KindRuleViolation:
		return http.StatusUnprocessableEntity
	case fleet.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeFleetError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}

	body := map[string]string{"error": err.Error()}
	var fe *fleet.Error
	if errors.As(err, &fe) {
		body["kind"] = string(fe.Kind)
	}
	writeJSON(w, status, body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}
