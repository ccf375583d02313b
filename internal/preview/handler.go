package preview

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sarichat/chat-relay/internal/httpserver"
	"github.com/sarichat/chat-relay/internal/metrics"
)

// Handler implements GET /preview?url=, the server-side link preview proxy.
type Handler struct {
	fetcher *Fetcher
	timeout time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewHandler(fetcher *Fetcher, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if m == nil {
		m = metrics.New()
	}
	return &Handler{
		fetcher: fetcher,
		timeout: timeout,
		log:     logger,
		metrics: m,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rawURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if rawURL == "" {
		httpserver.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "url query parameter is required"})
		return
	}

	h.metrics.Inc(metrics.PreviewFetches)

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, err := h.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		h.metrics.Inc(metrics.PreviewErrors)
		h.log.Debug("link preview failed", "url", rawURL, "err", err)

		status := http.StatusBadGateway
		if errors.Is(err, ErrUnsupportedURL) {
			status = http.StatusBadRequest
		}
		httpserver.WriteJSON(w, status, map[string]any{"error": "could not generate preview"})
		return
	}

	httpserver.WriteJSON(w, http.StatusOK, p)
}
