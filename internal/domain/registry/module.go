package registry

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("registry",
	fx.Provide(NewRegistry),
	fx.Invoke(func(lc fx.Lifecycle, r *Registry) {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				r.Shutdown()
				return nil
			},
		})
	}),
)
