package logctx

import (
	"context"
	"fmt"
	"strings"

	"ranklink/internal/global"
)

// LogEvent formats msg with args and queues it on the Logger embedded in
// ctx (see New), tagged with whatever AppendCtxTag has accumulated on ctx.
// A missing logger is a silent no-op: callers should not have to guard
// every call site on whether logging was ever wired up.
//
// A call above the logger's configured level is a no-op before formatting:
// it never takes the logger's mutex to read PrintLevel-gated state twice,
// and it never calls fmt.Sprintf for a message that would be dropped.
// Error severity always bypasses the level check, matching logger.log's
// own exception.
func LogEvent(ctx context.Context, level int, severity string, msg string, args ...any) {
	logger := GetLogger(ctx)
	if logger == nil {
		return
	}

	logger.mutex.Lock()
	currentLevel := logger.PrintLevel
	logger.mutex.Unlock()
	if level > currentLevel && severity != global.ErrorLog {
		return
	}

	var fullMessage string
	// args might be empty - check to omit formatting when there's nothing
	// to substitute, avoiding 'extra' print noise on a literal '%' with no
	// corresponding verb.
	if args == nil || !strings.Contains(msg, "%") {
		fullMessage = msg
	} else {
		fullMessage = fmt.Sprintf(msg, args...)
	}

	tags := GetTagList(ctx)
	logger.log(level, severity, tags, fullMessage)
}
