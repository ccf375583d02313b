package media

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sarichat/chat-relay/internal/httpserver"
)

const maxMediaRequestBytes = 1 << 20

// Handler exposes the allocator over HTTP:
//
//	GET    /media/capabilities      codec capabilities
//	POST   /media/transports        allocate a transport, returns the offer
//	POST   /media/transports/{id}/connect   apply the client's answer
//	DELETE /media/transports/{id}   close a transport
type Handler struct {
	allocator *Allocator
}

func NewHandler(allocator *Allocator) *Handler {
	return &Handler{allocator: allocator}
}

// Register installs the media routes on the mux, wrapped by the given origin
// gate.
func (h *Handler) Register(mux *http.ServeMux, gate func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("GET /media/capabilities", gate(h.handleCapabilities))
	mux.HandleFunc("POST /media/transports", gate(h.handleCreate))
	mux.HandleFunc("POST /media/transports/{id}/connect", gate(h.handleConnect))
	mux.HandleFunc("DELETE /media/transports/{id}", gate(h.handleClose))
}

func (h *Handler) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	httpserver.WriteJSON(w, http.StatusOK, Capabilities())
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	desc, err := h.allocator.CreateTransport(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrGatherTimeout) {
			status = http.StatusGatewayTimeout
		}
		httpserver.WriteJSON(w, status, map[string]any{"error": "failed to allocate transport"})
		return
	}
	httpserver.WriteJSON(w, http.StatusCreated, desc)
}

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMediaRequestBytes))
	if err != nil {
		httpserver.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "failed to read body"})
		return
	}

	var req struct {
		SDP string `json:"sdp"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.SDP == "" {
		httpserver.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "body must be {\"sdp\": ...}"})
		return
	}

	id := r.PathValue("id")
	if err := h.allocator.ConnectTransport(id, req.SDP); err != nil {
		if errors.Is(err, ErrTransportNotFound) {
			httpserver.WriteJSON(w, http.StatusNotFound, map[string]any{"error": "unknown transport"})
			return
		}
		httpserver.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "failed to apply answer"})
		return
	}

	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"connected": true})
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.allocator.CloseTransport(id); err != nil {
		httpserver.WriteJSON(w, http.StatusNotFound, map[string]any{"error": "unknown transport"})
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"closed": true})
}
