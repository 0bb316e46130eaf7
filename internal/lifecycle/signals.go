package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"ranklink/internal/global"
	"ranklink/internal/logctx"
	"syscall"
)

// Anything with an orderly shutdown sequence a signal should trigger.
// ranklinkd passes a function that cancels the communication context and
// calls comm.Layer.FinishCommunication; it does not flush any tag.
type ShutdownFunc func()

// Blocks handling SIGINT/SIGTERM. On receipt, notifies systemd (if running
// under it), runs shutdown, and returns so the caller can exit.
func SignalHandler(ctx context.Context, shutdown ShutdownFunc) {
	sigChan := make(chan os.Signal, 4)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logctx.LogEvent(ctx, global.VerbosityStandard, global.InfoLog, "received signal: %v, shutting down\n", sig)

	if err := NotifyStatus(ctx, "shutting down"); err != nil {
		logctx.LogEvent(ctx, global.VerbosityStandard, global.WarnLog, "systemd notify failed: %v\n", err)
	}

	shutdown()

	logger := logctx.GetLogger(ctx)
	if logger != nil {
		logger.Wake()
		logger.Wait()
	}
}
