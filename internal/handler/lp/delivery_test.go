package lp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modhub/message-delivery-service/config"
	"github.com/modhub/message-delivery-service/internal/auth"
	"github.com/modhub/message-delivery-service/internal/domain/broker"
	"github.com/modhub/message-delivery-service/internal/domain/model"
	"github.com/modhub/message-delivery-service/internal/domain/registry"
	"github.com/modhub/message-delivery-service/internal/service"
	"github.com/modhub/message-delivery-service/internal/store"
	"github.com/stretchr/testify/require"
)

type lpEnv struct {
	handler  *Handler
	verifier *auth.JWTVerifier
	ingress  *service.Ingress
	store    *store.Memory
}

func newLPEnv(t *testing.T, window time.Duration) *lpEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := &config.Config{}
	cfg.Session.SendBuffer = 32
	cfg.Session.SendTimeout = 100 * time.Millisecond
	cfg.LongPoll.Window = window
	cfg.LongPoll.BatchLimit = 4

	st := store.NewMemory()
	br := broker.NewMemory(logger)
	reg := registry.NewRegistry(logger)
	unread := service.NewUnreadCounter(st, 128)
	ing := service.NewIngress(br, unread, logger)
	deliverer := service.NewDeliveryService(cfg, br, reg)
	verifier := auth.NewJWTVerifier("test-secret")

	return &lpEnv{
		handler:  NewHandler(logger, cfg, verifier, deliverer),
		verifier: verifier,
		ingress:  ing,
		store:    st,
	}
}

func (e *lpEnv) poll(t *testing.T, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/poll", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.Poll(rec, req)
	return rec
}

func TestPollRejectsBadCredential(t *testing.T) {
	env := newLPEnv(t, 50*time.Millisecond)
	rec := env.poll(t, "not-a-token")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPollTimesOutEmpty(t *testing.T) {
	env := newLPEnv(t, 50*time.Millisecond)
	token, err := env.verifier.Mint(1, time.Minute)
	require.NoError(t, err)

	rec := env.poll(t, token)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestPollReturnsBufferedEvents(t *testing.T) {
	env := newLPEnv(t, 2*time.Second)
	token, err := env.verifier.Mint(1, time.Minute)
	require.NoError(t, err)

	// Deliver while the poll is parked.
	go func() {
		time.Sleep(50 * time.Millisecond)
		ev := model.MessageEvent{ID: 100, SenderID: 2, RecipientID: 1, Subject: "hi"}
		env.store.Put(ev)
		_ = env.ingress.NotifyNewMessage(context.Background(), ev)
	}()

	start := time.Now()
	rec := env.poll(t, token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Less(t, time.Since(start), time.Second, "poll must return on delivery, not on window expiry")

	var frames []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &frames))
	require.Len(t, frames, 1)
	require.Equal(t, "new_message", frames[0]["type"])
}

func TestPollBatchesQueuedEvents(t *testing.T) {
	env := newLPEnv(t, 2*time.Second)
	token, err := env.verifier.Mint(1, time.Minute)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		for i := int64(1); i <= 3; i++ {
			ev := model.MessageEvent{ID: i, SenderID: 2, RecipientID: 1}
			env.store.Put(ev)
			_ = env.ingress.NotifyNewMessage(context.Background(), ev)
		}
	}()

	rec := env.poll(t, token)
	require.Equal(t, http.StatusOK, rec.Code)

	var frames []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &frames))
	require.NotEmpty(t, frames)
	for _, f := range frames {
		require.Equal(t, "new_message", f["type"])
	}
}
