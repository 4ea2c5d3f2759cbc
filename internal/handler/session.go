package handler

import (
	"net/http"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/service"
)

// SessionHandler handles HTTP requests for the market session.
type SessionHandler struct {
	sessionSvc *service.SessionService
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionSvc *service.SessionService) *SessionHandler {
	return &SessionHandler{sessionSvc: sessionSvc}
}

type setModeRequest struct {
	Mode string `json:"mode"`
}

type setPhaseRequest struct {
	Phase string `json:"phase"`
}

type sessionResponse struct {
	Mode  string `json:"mode"`
	Phase string `json:"phase"`
}

// GetStatus handles GET /session.
func (h *SessionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, buildSessionResponse(h.sessionSvc.Status()))
}

// SetMode handles PUT /session/mode.
func (h *SessionHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	var req setModeRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	status, err := h.sessionSvc.SetMode(domain.Mode(req.Mode))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildSessionResponse(status))
}

// SetPhase handles PUT /session/phase.
func (h *SessionHandler) SetPhase(w http.ResponseWriter, r *http.Request) {
	var req setPhaseRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	status, err := h.sessionSvc.ForcePhase(r.Context(), domain.Phase(req.Phase))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildSessionResponse(status))
}

func buildSessionResponse(s domain.SessionStatus) sessionResponse {
	return sessionResponse{Mode: string(s.Mode), Phase: string(s.Phase)}
}
