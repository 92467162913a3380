// Package http assembles the service's HTTP surface: the WebSocket
// endpoints, the long-poll fallback, the internal ingress routes, and the
// operational endpoints.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/modhub/message-delivery-service/config"
	ingresshandler "github.com/modhub/message-delivery-service/internal/handler/ingress"
	lphandler "github.com/modhub/message-delivery-service/internal/handler/lp"
	wshandler "github.com/modhub/message-delivery-service/internal/handler/ws"
	"github.com/modhub/message-delivery-service/internal/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("http-server",
	fx.Provide(NewRouter, NewServer),
	fx.Invoke(register),
)

func NewRouter(ws *wshandler.Handler, lp *lphandler.Handler, ing *ingresshandler.HTTPHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/ws/messages", ws.ServeInbox)
	r.Get("/ws/messages/community/{communityID}", ws.ServeCommunity)
	r.Get("/poll", lp.Poll)

	r.Route("/internal/notify", func(r chi.Router) {
		r.Post("/message", ing.NotifyMessage)
		r.Post("/read", ing.NotifyRead)
		r.Post("/group-chat-message", ing.NotifyGroupChat)
	})

	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func NewServer(cfg *config.Config, r *chi.Mux) *http.Server {
	return &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func register(lc fx.Lifecycle, logger *slog.Logger, srv *http.Server) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("http server listening", "addr", srv.Addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server failed", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
