package store

import (
	"context"

	"github.com/modhub/message-delivery-service/config"
	"go.uber.org/fx"
)

var Module = fx.Module("store",
	fx.Provide(
		func(cfg *config.Config) (*SQLite, error) {
			return OpenSQLite(cfg.Store.DSN)
		},
		func(s *SQLite) Store { return s },
	),
	fx.Invoke(func(lc fx.Lifecycle, s *SQLite) {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return s.Close() },
		})
	}),
)
