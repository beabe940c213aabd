package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"beacon-guard/internal/audit"
	"beacon-guard/internal/auth"
	"beacon-guard/internal/bridge"
	"beacon-guard/internal/positioning/engine"
	registry "beacon-guard/internal/registry/domain"
)

const maxBodyBytes = 1 << 20

// Commands is the engine surface served over HTTP.
type Commands interface {
	Positions(ctx context.Context) (map[string]registry.Position, error)
	Position(ctx context.Context, mac string) (registry.Position, error)
	SaveCurrentPosition(ctx context.Context, mac string) (registry.Position, error)
	Targets(ctx context.Context) ([]string, error)
	SetTargetMACs(ctx context.Context, macs []string) ([]string, error)
	UpdateTargetMACs(ctx context.Context, macs []string) ([]string, error)
	SetSavedPositions(ctx context.Context, positions map[string]registry.Position) (int, error)
	Train(ctx context.Context, mac string) (bridge.Response, error)
	Refresh(ctx context.Context) (bridge.Response, []string, error)
}

// Handler serves operator positioning commands.
type Handler struct {
	commands    Commands
	auditLogger audit.Logger
}

// Option customizes the handler.
type Option func(*Handler)

// WithAudit records successful state-changing commands.
func WithAudit(logger audit.Logger) Option {
	return func(h *Handler) {
		h.auditLogger = logger
	}
}

// NewHandler constructs a handler.
func NewHandler(commands Commands, opts ...Option) (*Handler, error) {
	if commands == nil {
		return nil, errors.New("positioning handler: nil commands")
	}
	h := &Handler{commands: commands}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register mounts the handler's routes.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/api/positions", h)
	mux.Handle("/api/positions/", h)
	mux.Handle("/api/targets", h)
	mux.Handle("/api/saved-positions", h)
	mux.Handle("/api/position/train", h)
	mux.Handle("/api/position/refresh", h)
}

type macsRequest struct {
	MACs []string `json:"macs"`
}

type savedPositionsRequest struct {
	Position map[string]registry.Position `json:"position"`
}

type trainRequest struct {
	MAC string `json:"mac"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type targetsResponse struct {
	Message    string   `json:"message,omitempty"`
	TargetMACs []string `json:"target_macs"`
}

type positionResponse struct {
	MAC string  `json:"mac"`
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
}

// ServeHTTP routes positioning requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/positions":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handlePositions(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/positions/"):
		h.handleDevicePosition(w, r)
	case r.URL.Path == "/api/targets":
		h.handleTargets(w, r)
	case r.URL.Path == "/api/saved-positions":
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleSavedPositions(w, r)
	case r.URL.Path == "/api/position/train":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleTrain(w, r)
	case r.URL.Path == "/api/position/refresh":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleRefresh(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.commands.Positions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

// handleDevicePosition serves GET /api/positions/{mac} and POST /api/positions/{mac}/save.
func (h *Handler) handleDevicePosition(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/positions/")
	parts := strings.Split(rest, "/")
	mac, err := url.PathUnescape(parts[0])
	if err != nil || strings.TrimSpace(mac) == "" {
		writeMessage(w, http.StatusBadRequest, "mac is required")
		return
	}
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		pos, err := h.commands.Position(r.Context(), mac)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, positionResponse{MAC: registry.NormalizeMAC(mac), X: pos.X, Y: pos.Y})
	case len(parts) == 2 && parts[1] == "save":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		pos, err := h.commands.SaveCurrentPosition(r.Context(), mac)
		if err != nil {
			writeError(w, err)
			return
		}
		h.logAudit(r, "position.save", registry.NormalizeMAC(mac), map[string]any{"x": pos.X, "y": pos.Y})
		writeJSON(w, http.StatusOK, positionResponse{MAC: registry.NormalizeMAC(mac), X: pos.X, Y: pos.Y})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleTargets(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		targets, err := h.commands.Targets(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, targetsResponse{TargetMACs: targets})
		return
	}
	if r.Method != http.MethodPut && r.Method != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req macsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MACs == nil {
		writeMessage(w, http.StatusBadRequest, "Invalid MAC list")
		return
	}
	var (
		targets []string
		err     error
		message string
		action  string
	)
	if r.Method == http.MethodPut {
		targets, err = h.commands.SetTargetMACs(r.Context(), req.MACs)
		message, action = "Target MACs set successfully", "targets.set"
	} else {
		targets, err = h.commands.UpdateTargetMACs(r.Context(), req.MACs)
		message, action = "Target MACs updated successfully", "targets.update"
	}
	if err != nil {
		writeError(w, err)
		return
	}
	h.logAudit(r, action, "", map[string]any{"requested": req.MACs, "target_macs": targets})
	writeJSON(w, http.StatusOK, targetsResponse{Message: message, TargetMACs: targets})
}

func (h *Handler) handleSavedPositions(w http.ResponseWriter, r *http.Request) {
	var req savedPositionsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Position == nil {
		writeMessage(w, http.StatusBadRequest, "position map is required")
		return
	}
	applied, err := h.commands.SetSavedPositions(r.Context(), req.Position)
	if err != nil {
		writeError(w, err)
		return
	}
	h.logAudit(r, "saved_positions.set", "", map[string]any{"requested": len(req.Position), "applied": applied})
	writeMessage(w, http.StatusOK, "Position set successfully")
}

func (h *Handler) handleTrain(w http.ResponseWriter, r *http.Request) {
	var req trainRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.MAC) == "" {
		writeMessage(w, http.StatusBadRequest, "mac is required")
		return
	}
	resp, err := h.commands.Train(r.Context(), req.MAC)
	if err != nil {
		writeError(w, err)
		return
	}
	h.logAudit(r, "position.train", registry.NormalizeMAC(req.MAC), nil)
	writeMessage(w, http.StatusOK, resp.Message)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	resp, targets, err := h.commands.Refresh(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	h.logAudit(r, "devices.refresh", "", map[string]any{"target_macs": targets})
	writeJSON(w, http.StatusOK, targetsResponse{Message: resp.Message, TargetMACs: targets})
}

func (h *Handler) logAudit(r *http.Request, action, mac string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	var payload []byte
	if meta != nil {
		payload, _ = json.Marshal(meta)
	}
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:     auth.SubjectFromContext(r.Context()),
		Role:      string(auth.RoleFromContext(r.Context())),
		Action:    action,
		MAC:       mac,
		Metadata:  payload,
		IP:        audit.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid json body")
	}
	return nil
}

// writeError maps engine and bridge errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	var bErr *bridge.Error
	switch {
	case errors.Is(err, engine.ErrValidation):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrNotInitialized):
		writeMessage(w, http.StatusServiceUnavailable, "Positioning system not initialized")
	case errors.Is(err, engine.ErrUnknownDevice), errors.Is(err, engine.ErrNoPosition):
		writeMessage(w, http.StatusNotFound, "Position not found")
	case errors.As(err, &bErr):
		writeMessage(w, http.StatusBadGateway, bErr.Message)
	case errors.Is(err, bridge.ErrMalformed):
		writeMessage(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, engine.ErrClosed), errors.Is(err, context.Canceled):
		writeMessage(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeMessage(w, http.StatusInternalServerError, err.Error())
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, messageResponse{Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
