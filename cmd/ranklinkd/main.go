// ranklinkd is a reference host process for the communication layer: it
// reads a cluster config, binds a UDP transport for this rank, brings up
// the layer, and blocks until SIGINT or SIGTERM shuts it down. It exists to exercise the library end-to-end over a real
// transport; it registers no tags of its own.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"ranklink/internal/comm"
	"ranklink/internal/config"
	"ranklink/internal/global"
	"ranklink/internal/lifecycle"
	"ranklink/internal/logctx"
	"ranklink/internal/transport"
)

func main() {
	configPath := flag.String("config", global.DefaultConfigPath, "path to the cluster JSON config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "ranklinkd:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	raw, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := raw.Resolve()
	if err != nil {
		return err
	}

	done := make(chan struct{})
	ctx := logctx.New(context.Background(), global.NSComm, global.VerbosityStandard, done)
	logctx.StartWatcher(logctx.GetLogger(ctx), os.Stdout)

	tr, err := transport.NewUDPTransport(cfg.Host, cfg.BasePort, cfg.Rank, cfg.Size)
	if err != nil {
		return fmt.Errorf("bind transport: %w", err)
	}
	defer tr.Close()

	layer, err := comm.New(tr, comm.Options{
		BufferCapacity:  cfg.BufferCapacity,
		PoolMargin:      cfg.PoolMargin,
		QueueCapacity:   cfg.QueueCapacity,
		CallbackThreads: cfg.CallbackThreads,
	})
	if err != nil {
		return fmt.Errorf("construct communication layer: %w", err)
	}

	commCtx, cancel := context.WithCancel(ctx)
	layer.InitCommunication(commCtx)

	logctx.LogEvent(ctx, global.VerbosityStandard, global.InfoLog, "ranklinkd: rank %d of %d listening on %s:%d\n", cfg.Rank, cfg.Size, cfg.Host, cfg.BasePort+cfg.Rank)

	if err := lifecycle.NotifyReady(ctx); err != nil {
		logctx.LogEvent(ctx, global.VerbosityStandard, global.WarnLog, "systemd notify failed: %v\n", err)
	}

	lifecycle.SignalHandler(ctx, func() {
		cancel()
		layer.FinishCommunication()
	})

	close(done)
	return nil
}
