package ingress

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/modhub/message-delivery-service/config"
	"github.com/modhub/message-delivery-service/internal/domain/model"
	"github.com/modhub/message-delivery-service/internal/service"
)

// internalTokenHeader authenticates the message-CRUD service on the HTTP
// ingress. The shared secret is deployment configuration, not user auth.
const internalTokenHeader = "X-Internal-Token"

// HTTPHandler receives notifications from the external message-creation
// and mark-read paths once their writes are durable. It is the single-node
// counterpart of the AMQP listeners.
type HTTPHandler struct {
	logger  *slog.Logger
	cfg     *config.Config
	ingress *service.Ingress
}

func NewHTTPHandler(logger *slog.Logger, cfg *config.Config, ing *service.Ingress) *HTTPHandler {
	return &HTTPHandler{logger: logger, cfg: cfg, ingress: ing}
}

func (h *HTTPHandler) authorized(r *http.Request) bool {
	secret := h.cfg.Auth.IngressSecret
	if secret == "" {
		return false
	}
	token := r.Header.Get(internalTokenHeader)
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}

func (h *HTTPHandler) NotifyMessage(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var ev model.MessageEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if ev.ID == 0 || ev.RecipientID == 0 {
		http.Error(w, "id and recipient_id are required", http.StatusBadRequest)
		return
	}
	if err := h.ingress.NotifyNewMessage(r.Context(), ev); err != nil {
		h.logger.Error("message notify failed", "message_id", ev.ID, "error", err)
		http.Error(w, "delivery failed", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *HTTPHandler) NotifyRead(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var receipt model.ReadReceipt
	if err := json.NewDecoder(r.Body).Decode(&receipt); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if receipt.MessageID == 0 || receipt.RecipientID == 0 || receipt.ReadAt.IsZero() {
		http.Error(w, "message_id, recipient_id and read_at are required", http.StatusBadRequest)
		return
	}
	if err := h.ingress.NotifyMessageRead(r.Context(), receipt); err != nil {
		h.logger.Error("read notify failed", "message_id", receipt.MessageID, "error", err)
		http.Error(w, "delivery failed", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *HTTPHandler) NotifyGroupChat(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var msg model.GroupChatMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if msg.ID == 0 || msg.CommunityID == 0 {
		http.Error(w, "id and community_id are required", http.StatusBadRequest)
		return
	}
	if err := h.ingress.NotifyGroupChatMessage(r.Context(), msg); err != nil {
		h.logger.Error("group chat notify failed", "message_id", msg.ID, "error", err)
		http.Error(w, "delivery failed", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
