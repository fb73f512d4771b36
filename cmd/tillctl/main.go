package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/till-ledger/internal/app"
	"github.com/till-ledger/internal/cli"
	"github.com/till-ledger/internal/config"
	"github.com/till-ledger/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(open)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(cli.GetExitCode(err))
	}
}

// open wires the till without starting its background loops
func open(ctx context.Context, opts *cli.RootOptions) (*cli.Services, func() error, error) {
	cfg, err := config.LoadConfig(opts.Config)
	if err != nil {
		return nil, nil, err
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	} else if cfg.Logging.Level == "" || cfg.Logging.Level == "info" {
		cfg.Logging.Level = "warn"
	}
	log := logger.NewLoggerWithWriter(os.Stderr, cfg)

	till, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	release := func() error { return till.Close(context.Background()) }

	return &cli.Services{
		Queue:   till.Queue,
		Sync:    till.Engine,
		Session: till.Sessions,
		Ledger:  till.Ledger,
		Probe:   till.Probe,
	}, release, nil
}
