package cmd

import (
	"github.com/modhub/message-delivery-service/config"
	httpsrv "github.com/modhub/message-delivery-service/infra/server/http"
	"github.com/modhub/message-delivery-service/internal/auth"
	"github.com/modhub/message-delivery-service/internal/domain/broker"
	"github.com/modhub/message-delivery-service/internal/domain/registry"
	ingresshandler "github.com/modhub/message-delivery-service/internal/handler/ingress"
	lphandler "github.com/modhub/message-delivery-service/internal/handler/lp"
	wshandler "github.com/modhub/message-delivery-service/internal/handler/ws"
	"github.com/modhub/message-delivery-service/internal/service"
	"github.com/modhub/message-delivery-service/internal/store"
	"go.uber.org/fx"
)

func NewApp(cfg *config.Config) *fx.App {
	opts := []fx.Option{
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideWatermillLogger,
		),
		store.Module,
		auth.Module,
		broker.Module,
		registry.Module,
		service.Module,
		wshandler.Module,
		lphandler.Module,
		ingresshandler.Module,
		httpsrv.Module,
	}
	if cfg.Ingress.AMQPEnabled {
		opts = append(opts, ingresshandler.AMQPModule)
	}
	return fx.New(opts...)
}
