package timer

import (
	"context"

	"go.uber.org/fx"
)

// Module provides the process-wide Timer Service and stops its
// timekeeping goroutine on shutdown.
var Module = fx.Module("timer",
	fx.Provide(func(lc fx.Lifecycle) *Service {
		s := NewService()
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				s.Stop()
				return nil
			},
		})
		return s
	}),
)
