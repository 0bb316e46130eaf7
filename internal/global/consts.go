package global

import "time"

const (
	// Descriptive names for available verbosity levels
	VerbosityNone int = iota
	VerbosityStandard
	VerbosityProgress
	VerbosityData
	VerbosityDebug

	// Descriptive names for available severity levels
	ErrorLog string = "Error"
	WarnLog  string = "Warn"
	InfoLog  string = "Info"
)

const (
	// Context keys
	LoggerKey  CtxKey = "logger"
	LogTagsKey CtxKey = "logtags"

	DefaultConfigPath string = "/etc/ranklink.json"

	// Queue and pool capacities
	DefaultQueueCapacity  uint64 = 4096
	DefaultMinQueueSize   uint64 = 512
	DefaultMaxQueueSize   uint64 = 65536
	DefaultBufferCapacity int    = 65536
	DefaultPoolMargin     int    = 4 // extra idle buffers kept beyond rank count

	// Shutdown / drain timeouts
	DefaultShutdownTimeout time.Duration = 20 * time.Second
	DefaultFinishTimeout   time.Duration = 0 // 0 == block indefinitely, matches spec §5

	// UDP transport defaults
	DefaultRankBasePort int           = 9600
	DefaultPollInterval time.Duration = 200 * time.Microsecond

	// Namespace tags
	NSComm      string = "Comm"
	NSCallback  string = "Callback"
	NSQueue     string = "Queue"
	NSBuffer    string = "Buffer"
	NSPool      string = "Pool"
	NSTransport string = "Transport"
	NSUDP       string = "UDP"
	NSLoopback  string = "Loopback"
	NSLifecycle string = "Lifecycle"
	NSTest      string = "Test"
)
