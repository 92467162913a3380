package lp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/modhub/message-delivery-service/config"
	"github.com/modhub/message-delivery-service/internal/auth"
	"github.com/modhub/message-delivery-service/internal/domain/model"
	"github.com/modhub/message-delivery-service/internal/domain/registry"
	"github.com/modhub/message-delivery-service/internal/service"
)

// Handler is the long-polling fallback for clients that cannot hold a
// WebSocket. Each request subscribes a throwaway session to the personal
// inbox group for the duration of the poll. Receive-only: control frames
// still require a WebSocket.
type Handler struct {
	logger    *slog.Logger
	cfg       *config.Config
	verifier  auth.Verifier
	deliverer service.Deliverer
}

func NewHandler(logger *slog.Logger, cfg *config.Config, verifier auth.Verifier, deliverer service.Deliverer) *Handler {
	return &Handler{logger: logger, cfg: cfg, verifier: verifier, deliverer: deliverer}
}

// Poll holds the request until an event arrives or the window elapses,
// batching whatever is already buffered to spare round trips.
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	userID, err := h.verifier.Verify(r.Context(), bearerToken(r))
	if err != nil {
		http.Error(w, "invalid credential", http.StatusUnauthorized)
		return
	}

	sess := h.deliverer.NewSession(userID)
	if err := sess.Advance(registry.StateAuthenticated); err != nil {
		http.Error(w, "failed to subscribe", http.StatusInternalServerError)
		return
	}
	if err := sess.BindGroup(model.UserKey(userID)); err != nil {
		http.Error(w, "failed to subscribe", http.StatusInternalServerError)
		return
	}
	if err := h.deliverer.Subscribe(r.Context(), sess); err != nil {
		h.logger.Error("poll subscribe failed", "user_id", userID, "error", err)
		http.Error(w, "failed to subscribe", http.StatusInternalServerError)
		return
	}
	defer h.deliverer.Unsubscribe(sess)

	// Subscribe queues the connection ack first. A poll client has no use
	// for it, so drop it and keep the window for real events.
	select {
	case <-sess.Recv():
	default:
	}

	var frames []json.RawMessage

	select {
	case <-r.Context().Done():
		return

	case <-time.After(h.cfg.LongPoll.Window):
		w.WriteHeader(http.StatusNoContent)
		return

	case f := <-sess.Recv():
		frames = append(frames, f.Data)

		// Drain what is already queued, bounded to keep responses small.
	drain:
		for len(frames) < h.cfg.LongPoll.BatchLimit {
			select {
			case next := <-sess.Recv():
				frames = append(frames, next.Data)
			default:
				break drain
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(frames); err != nil {
		h.logger.Warn("poll response write failed", "user_id", userID, "error", err)
	}
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return r.URL.Query().Get("token")
}
