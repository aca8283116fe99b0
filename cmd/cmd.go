package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/tinyim/access-node/config"
)

const (
	ServiceName = "access-node"
)

var (
	version = "0.0.0"
	commit  = "hash"
	branch  = "branch"
)

// Run is the access node's command-line entrypoint.
func Run() error {
	app := &cli.App{
		Name:    ServiceName,
		Usage:   "tinyim access tier: session registry, long-poll delivery, heartbeat supervisor",
		Version: version,
		Commands: []*cli.Command{
			serverCmd(),
		},
	}

	return app.Run(os.Args)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "run the access node",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config_file",
				Usage: "path to the configuration file",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config_file"))
			if err != nil {
				return err
			}
			app := NewApp(cfg)

			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("shutting down", "commit", commit, "branch", branch)
			return app.Stop(context.Background())
		},
	}
}
