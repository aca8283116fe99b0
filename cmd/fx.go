package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/tinyim/access-node/config"
	"github.com/tinyim/access-node/internal/access"
	"github.com/tinyim/access-node/internal/adminhttp"
	"github.com/tinyim/access-node/internal/audit"
	"github.com/tinyim/access-node/internal/grpcserver"
	"github.com/tinyim/access-node/internal/heartbeat"
	"github.com/tinyim/access-node/internal/longpoll"
	"github.com/tinyim/access-node/internal/rpc/accessservice"
	"github.com/tinyim/access-node/internal/rpc/downstream"
	"github.com/tinyim/access-node/internal/routing"
	"github.com/tinyim/access-node/internal/sessiontable"
	"github.com/tinyim/access-node/internal/timer"
)

// ProvideLogger builds the process-wide structured logger every
// component takes a *slog.Logger dependency on.
func ProvideLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// downstreamConns is dialed once, concurrently, and handed out to the
// two typed clients built on top of it.
type downstreamConns struct {
	logicCC *grpc.ClientConn
	dbCC    *grpc.ClientConn
}

// provideDownstream dials the logic and dbproxy tiers concurrently with
// golang.org/x/sync/errgroup: the two dials are independent, unlike
// Shutdown Drain, which must stay serial, so this is the textbook
// errgroup fan-out case.
func provideDownstream(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) (*downstreamConns, error) {
	conns := &downstreamConns{}

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		cc, err := downstream.DialAndWait(ctx, cfg.LogicChannel, cfg.ConnectionType)
		if err != nil {
			return err
		}
		conns.logicCC = cc
		return nil
	})
	g.Go(func() error {
		cc, err := downstream.DialAndWait(ctx, cfg.DBChannel, cfg.ConnectionType)
		if err != nil {
			return err
		}
		conns.dbCC = cc
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			conns.logicCC.Close()
			conns.dbCC.Close()
			return nil
		},
	})

	log.Info("downstream tiers dialed", "logic", cfg.LogicChannel, "dbproxy", cfg.DBChannel)
	return conns, nil
}

func provideLogicClient(conns *downstreamConns, cfg *config.Config) *downstream.LogicClient {
	return downstream.NewLogicClient(conns.logicCC, cfg)
}

func provideDbproxyClient(conns *downstreamConns, cfg *config.Config) *downstream.DbproxyClient {
	return downstream.NewDbproxyClient(conns.dbCC, cfg)
}

func provideLogicFacadeClient(c *downstream.LogicClient) routing.LogicClient { return c }

func provideRoutingFacade(logic routing.LogicClient) (*routing.Facade, error) {
	return routing.NewFacade(logic, routing.DefaultConfig())
}

func provideHeartbeat(t *sessiontable.Table, ts *timer.Service, cfg *config.Config, bus *audit.Bus, log *slog.Logger) *heartbeat.Supervisor {
	onExpire := func(user sessiontable.UserID) { bus.Publish("expiry", int64(user)) }
	return heartbeat.NewSupervisor(t, ts, cfg.RecvHeartbeatTimeout(), onExpire, log)
}

func provideSessionTable(cfg *config.Config) *sessiontable.Table {
	return sessiontable.New(cfg.ShardCount)
}

func provideAccessServer(t *sessiontable.Table, hb *heartbeat.Supervisor, lp *longpoll.Engine, rt *routing.Facade,
	db *downstream.DbproxyClient, cfg *config.Config, bus *audit.Bus) *access.Server {
	return access.NewServer(access.Deps{
		Table: t, Heart: hb, LongPoll: lp, Routing: rt, Dbproxy: db,
		Address: cfg.ServerAddress, Audit: bus,
	})
}

func provideGRPCServer(cfg *config.Config, log *slog.Logger) *grpcserver.Server {
	return grpcserver.New(cfg.ServerAddress, log)
}

func provideAdminHTTP(t *sessiontable.Table, lp *longpoll.Engine, log *slog.Logger) *adminhttp.Server {
	return adminhttp.NewServer(t, lp, log)
}

// NewApp assembles the access node's fx.App: every component wired through
// its own constructor, with lifecycle hooks starting the gRPC server,
// admin HTTP server, and audit subscriber on OnStart and reversing each of
// them on OnStop.
func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(func() *config.Config { return cfg }, ProvideLogger),
		timer.Module,
		audit.Module,
		fx.Provide(
			provideSessionTable,
			provideHeartbeat,
			longpoll.NewEngine,
			provideDownstream,
			provideLogicClient,
			provideDbproxyClient,
			provideLogicFacadeClient,
			provideRoutingFacade,
			provideAccessServer,
			provideGRPCServer,
			provideAdminHTTP,
		),
		// Invoked (and so OnStart-ed) in this order; fx stops lifecycle
		// hooks in the reverse order they were appended, so listing
		// runShutdownDrain last makes Drain the first thing to run on
		// shutdown, ahead of runGRPCServer's graceful stop.
		fx.Invoke(registerAccessService, runGRPCServer, runAdminHTTP, watchHotReload, runShutdownDrain),
	)
}

func registerAccessService(srv *grpcserver.Server, impl *access.Server) {
	accessservice.RegisterServer(srv.Server, impl)
}

// runShutdownDrain wires Shutdown Drain (C8) into process stop: every
// parked PullData/Stream call gets its teardown completion and returns
// while the gRPC listener is still accepting, instead of blocking until
// runGRPCServer's graceful-stop deadline force-closes the connection out
// from under it.
func runShutdownDrain(lc fx.Lifecycle, srv *access.Server, log *slog.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			log.Info("draining sessions")
			srv.Drain()
			return nil
		},
	})
}

func runGRPCServer(lc fx.Lifecycle, srv *grpcserver.Server, log *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.Serve(); err != nil {
					log.Error("grpc server stopped", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			srv.Stop(10 * time.Second)
			return nil
		},
	})
}

func runAdminHTTP(lc fx.Lifecycle, admin *adminhttp.Server, cfg *config.Config, log *slog.Logger) {
	httpSrv := &http.Server{Addr: cfg.AdminAddress, Handler: admin.Handler()}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("admin http server stopped", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return httpSrv.Shutdown(ctx)
		},
	})
}

// watchHotReload bridges config's hot-reloadable scalar knobs into the
// heartbeat supervisor's idle timeout. Config exposes them as plain
// atomics rather than a change feed, so this polls rather than
// subscribes; viper's own fsnotify watch is what actually updates them.
func watchHotReload(lc fx.Lifecycle, hb *heartbeat.Supervisor, cfg *config.Config) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				ticker := time.NewTicker(5 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						hb.SetIdleTimeout(cfg.RecvHeartbeatTimeout())
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
