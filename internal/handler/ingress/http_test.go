package ingress

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modhub/message-delivery-service/config"
	"github.com/modhub/message-delivery-service/internal/domain/broker"
	"github.com/modhub/message-delivery-service/internal/domain/model"
	"github.com/modhub/message-delivery-service/internal/domain/registry"
	"github.com/modhub/message-delivery-service/internal/service"
	"github.com/modhub/message-delivery-service/internal/store"
	"github.com/stretchr/testify/require"
)

const testIngressSecret = "internal-secret"

type httpEnv struct {
	handler *HTTPHandler
	broker  *broker.Memory
}

func newHTTPEnv(t *testing.T) *httpEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := &config.Config{}
	cfg.Auth.IngressSecret = testIngressSecret

	st := store.NewMemory()
	br := broker.NewMemory(logger)
	unread := service.NewUnreadCounter(st, 128)
	ing := service.NewIngress(br, unread, logger)

	return &httpEnv{handler: NewHTTPHandler(logger, cfg, ing), broker: br}
}

// watch plants a live session in a group to observe deliveries.
func (e *httpEnv) watch(t *testing.T, userID int64, key model.GroupKey) *registry.Session {
	t.Helper()
	sess := registry.NewSession(userID, 16, 100*time.Millisecond)
	require.NoError(t, sess.Advance(registry.StateAuthenticated))
	require.NoError(t, sess.BindGroup(key))
	require.NoError(t, e.broker.Join(context.Background(), key, sess))
	t.Cleanup(sess.Close)
	return sess
}

func notify(t *testing.T, handle http.HandlerFunc, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/internal/notify", bytes.NewReader(body))
	if token != "" {
		req.Header.Set("X-Internal-Token", token)
	}
	rec := httptest.NewRecorder()
	handle(rec, req)
	return rec
}

func TestHTTPIngressRequiresInternalToken(t *testing.T) {
	env := newHTTPEnv(t)
	payload := model.MessageEvent{ID: 1, RecipientID: 1}

	require.Equal(t, http.StatusForbidden, notify(t, env.handler.NotifyMessage, "", payload).Code)
	require.Equal(t, http.StatusForbidden, notify(t, env.handler.NotifyMessage, "wrong", payload).Code)
	require.Equal(t, http.StatusAccepted, notify(t, env.handler.NotifyMessage, testIngressSecret, payload).Code)
}

func TestHTTPIngressRejectsWhenSecretUnset(t *testing.T) {
	env := newHTTPEnv(t)
	env.handler.cfg.Auth.IngressSecret = ""

	rec := notify(t, env.handler.NotifyMessage, "", model.MessageEvent{ID: 1, RecipientID: 1})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHTTPIngressNotifyMessage(t *testing.T) {
	env := newHTTPEnv(t)
	sess := env.watch(t, 1, model.UserKey(1))

	rec := notify(t, env.handler.NotifyMessage, testIngressSecret, model.MessageEvent{ID: 100, SenderID: 2, RecipientID: 1, Subject: "hi"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case f := <-sess.Recv():
		require.Equal(t, model.FrameNewMessage, f.Type)
	default:
		t.Fatal("no frame delivered")
	}
}

func TestHTTPIngressNotifyMessageValidates(t *testing.T) {
	env := newHTTPEnv(t)

	rec := notify(t, env.handler.NotifyMessage, testIngressSecret, model.MessageEvent{ID: 100})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/internal/notify", bytes.NewReader([]byte("{broken")))
	req.Header.Set("X-Internal-Token", testIngressSecret)
	w := httptest.NewRecorder()
	env.handler.NotifyMessage(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHTTPIngressNotifyRead(t *testing.T) {
	env := newHTTPEnv(t)
	sess := env.watch(t, 1, model.UserKey(1))

	receipt := model.ReadReceipt{MessageID: 100, RecipientID: 1, ReadAt: time.Now().UTC()}
	rec := notify(t, env.handler.NotifyRead, testIngressSecret, receipt)
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case f := <-sess.Recv():
		require.Equal(t, model.FrameMessageRead, f.Type)
	default:
		t.Fatal("no frame delivered")
	}

	// read_at is mandatory on the wire.
	rec = notify(t, env.handler.NotifyRead, testIngressSecret, model.ReadReceipt{MessageID: 100, RecipientID: 1})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPIngressNotifyGroupChat(t *testing.T) {
	env := newHTTPEnv(t)
	community := env.watch(t, 3, model.CommunityKey(7))
	inbox := env.watch(t, 1, model.UserKey(1))

	msg := model.GroupChatMessage{ID: 5, SenderID: 1, CommunityID: 7, Body: "hello"}
	rec := notify(t, env.handler.NotifyGroupChat, testIngressSecret, msg)
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case f := <-community.Recv():
		require.Equal(t, model.FrameNewGroupChat, f.Type)
	default:
		t.Fatal("no frame delivered")
	}
	select {
	case f := <-inbox.Recv():
		t.Fatalf("unexpected inbox frame %s", f.Type)
	default:
	}
}
