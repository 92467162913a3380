package auth

import (
	"github.com/modhub/message-delivery-service/config"
	"github.com/modhub/message-delivery-service/internal/store"
	"go.uber.org/fx"
)

var Module = fx.Module("auth",
	fx.Provide(
		fx.Annotate(
			func(cfg *config.Config) *JWTVerifier {
				return NewJWTVerifier(cfg.Auth.JWTSecret)
			},
			fx.As(new(Verifier)),
		),
		func(s *store.SQLite) Authorizer { return s },
	),
)
