package audit

import (
	"context"
	"log/slog"

	"go.uber.org/fx"
)

// Module provides the lifecycle audit Bus and runs its slog subscriber
// for the lifetime of the app.
var Module = fx.Module("audit",
	fx.Provide(func(log *slog.Logger) *Bus {
		return NewBus(log)
	}),
	fx.Invoke(func(lc fx.Lifecycle, bus *Bus, log *slog.Logger) {
		ctx, cancel := context.WithCancel(context.Background())
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := RunSlogSubscriber(ctx, bus, log); err != nil {
						log.Error("audit: subscriber stopped", "err", err)
					}
				}()
				return nil
			},
			OnStop: func(context.Context) error {
				cancel()
				return bus.Close()
			},
		})
	}),
)
