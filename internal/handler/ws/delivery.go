package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/modhub/message-delivery-service/config"
	"github.com/modhub/message-delivery-service/internal/auth"
	"github.com/modhub/message-delivery-service/internal/domain/model"
	"github.com/modhub/message-delivery-service/internal/domain/registry"
	"github.com/modhub/message-delivery-service/internal/service"
)

// Close codes sent on handshake rejection, matching what clients already
// handle: 4001 for a bad credential, 4003 for a missing membership.
const (
	CloseAuthFailure   = 4001
	CloseNotAuthorized = 4003
)

const writeWait = 10 * time.Second

type Handler struct {
	logger     *slog.Logger
	cfg        *config.Config
	verifier   auth.Verifier
	authorizer auth.Authorizer
	deliverer  service.Deliverer
	dispatcher *service.Dispatcher
	upgrader   websocket.Upgrader
}

func NewHandler(logger *slog.Logger, cfg *config.Config, verifier auth.Verifier, authorizer auth.Authorizer, deliverer service.Deliverer, dispatcher *service.Dispatcher) *Handler {
	return &Handler{
		logger:     logger,
		cfg:        cfg,
		verifier:   verifier,
		authorizer: authorizer,
		deliverer:  deliverer,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // origin policy is enforced at the edge
		},
	}
}

// ServeInbox subscribes the connection to the user's whole inbox.
func (h *Handler) ServeInbox(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, func(context.Context, int64) (model.GroupKey, error) {
		return model.GroupKey{}, nil
	})
}

// ServeCommunity subscribes the connection to one community's messages.
// Only moderator-grade members may join.
func (h *Handler) ServeCommunity(w http.ResponseWriter, r *http.Request) {
	communityID, err := strconv.ParseInt(chi.URLParam(r, "communityID"), 10, 64)
	if err != nil || communityID <= 0 {
		http.Error(w, "invalid community id", http.StatusBadRequest)
		return
	}

	h.serve(w, r, func(ctx context.Context, userID int64) (model.GroupKey, error) {
		ok, err := h.authorizer.IsModerator(ctx, userID, communityID)
		if err != nil {
			return model.GroupKey{}, err
		}
		if !ok {
			return model.GroupKey{}, auth.ErrNotMember
		}
		return model.CommunityKey(communityID), nil
	})
}

// serve runs the full connection lifecycle. resolveGroup returns the key to
// subscribe, or the zero key for the personal inbox; it runs after the
// credential check and before any session state exists, so a rejection
// leaves the registry untouched.
func (h *Handler) serve(w http.ResponseWriter, r *http.Request, resolveGroup func(context.Context, int64) (model.GroupKey, error)) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "error", err)
		return
	}

	ctx := r.Context()
	userID, err := h.verifier.Verify(ctx, bearerToken(r))
	if err != nil {
		h.logger.Info("ws rejected", "reason", "auth", "error", err)
		closeWith(ws, CloseAuthFailure, "authentication failed")
		return
	}

	key, err := resolveGroup(ctx, userID)
	if err != nil {
		if errors.Is(err, auth.ErrNotMember) {
			h.logger.Info("ws rejected", "reason", "authorization", "user_id", userID)
			closeWith(ws, CloseNotAuthorized, "not authorized")
			return
		}
		h.logger.Error("membership check failed", "user_id", userID, "error", err)
		closeWith(ws, websocket.CloseInternalServerErr, "")
		return
	}
	if key.IsZero() {
		key = model.UserKey(userID)
	}

	sess := h.deliverer.NewSession(userID)
	if err := sess.Advance(registry.StateAuthenticated); err != nil {
		closeWith(ws, websocket.CloseInternalServerErr, "")
		return
	}
	if err := sess.BindGroup(key); err != nil {
		closeWith(ws, websocket.CloseInternalServerErr, "")
		return
	}
	if err := h.deliverer.Subscribe(ctx, sess); err != nil {
		h.logger.Error("subscribe failed", "user_id", userID, "group", key.String(), "error", err)
		closeWith(ws, websocket.CloseInternalServerErr, "")
		return
	}
	defer h.deliverer.Unsubscribe(sess)

	h.logger.Info("ws opened", "user_id", userID, "group", key.String(), "session_id", sess.ID())

	go h.writePump(ws, sess)
	h.readLoop(ctx, ws, sess)

	h.logger.Info("ws closed", "session_id", sess.ID(), "dropped", sess.Dropped())
}

// readLoop processes control frames strictly in order. The read deadline
// doubles as the idle timer: any inbound traffic, pings included, pushes it
// out; silence past the window fails the read and tears the session down.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, sess *registry.Session) {
	idle := h.cfg.Session.IdleTimeout
	_ = ws.SetReadDeadline(time.Now().Add(idle))
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(idle))
		h.dispatcher.Handle(ctx, sess, data)
	}
}

// writePump is the session's single writer: every outbound frame, and the
// final close message, leaves through here.
func (h *Handler) writePump(ws *websocket.Conn, sess *registry.Session) {
	for {
		select {
		case <-sess.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			_ = ws.Close()
			return
		case f := <-sess.Recv():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, f.Data); err != nil {
				h.logger.Warn("ws write failed", "session_id", sess.ID(), "error", err)
				sess.Close()
				_ = ws.Close()
				return
			}
		}
	}
}

// bearerToken pulls the credential from the Authorization header, falling
// back to the token query parameter for browser WebSocket clients.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return r.URL.Query().Get("token")
}

func closeWith(ws *websocket.Conn, code int, reason string) {
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = ws.Close()
}
