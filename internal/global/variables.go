package global

var (
	LogicalCPUCount int // set at startup, upper bound for worker/pool sizing

	// Process-wide verbosity setting. LogEvent does not read it: it filters
	// on the PrintLevel of the Logger in the context (see logctx.New).
	//
	//	0 - None: quiet (errors only)
	//	1 - Standard: normal lifecycle messages
	//	2 - Progress: per-tag state transitions
	//	3 - Data: per-message tracing
	//	4 - Debug: raw byte dumps
	Verbosity int
)
