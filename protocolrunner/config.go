package protocolrunner

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LogLevel is the verbosity the runner child is told to log at via
// --log-level. The string values match the runner's own accepted tokens.
type LogLevel int

const (
	LogCritical LogLevel = iota
	LogError
	LogWarning
	LogInfo
	LogDebug
	LogTrace
)

func (l LogLevel) String() string {
	switch l {
	case LogCritical:
		return "critical"
	case LogError:
		return "error"
	case LogWarning:
		return "warning"
	case LogInfo:
		return "info"
	case LogDebug:
		return "debug"
	case LogTrace:
		return "trace"
	default:
		return "info"
	}
}

// Environment describes the chain environment the runner's context is
// initialized against.
type Environment struct {
	ChainID                 string
	GenesisProtocol         string
	GenesisBlock            string
	GenesisMaxOperationsTTL int
}

// StorageConfiguration describes where and how the runner persists context
// data. IPCSocketPath, when non-nil, gates the context IPC server step of
// InitProtocolForWrite (and InitContextIPCServerRaw): the runner only opens
// a context IPC server when the node has configured one.
type StorageConfiguration struct {
	DataDir        string
	ContextKVStore string
	IPCSocketPath  *string
}

// RuntimeConfiguration is forwarded to the runner via
// Connection.ChangeRuntimeConfiguration before context initialization.
type RuntimeConfiguration struct {
	LogLevel                LogLevel
	LogFormat               string
	TransactionPoolOverflow bool
}

// Configuration is the immutable configuration a ProtocolRunnerApi is built
// from. Use NewConfiguration with Options to build one.
type Configuration struct {
	ExecutablePath  string
	SocketPath      string
	EndpointName    string
	LogLevel        LogLevel
	Environment     Environment
	Storage         StorageConfiguration
	RuntimeConfig   RuntimeConfiguration
	EnableTestchain bool

	SocketWaitTimeout time.Duration
	SocketPollPeriod  time.Duration
}

const (
	// DefaultSocketWaitTimeout is how long SocketWaiter polls before
	// returning SocketTimeoutError.
	DefaultSocketWaitTimeout = 3 * time.Second
	// DefaultSocketPollPeriod is the interval between socket existence
	// checks.
	DefaultSocketPollPeriod = 100 * time.Millisecond
)

// Option customizes a Configuration built by NewConfiguration.
type Option func(*Configuration)

// WithEndpointName sets the --endpoint value passed to the runner. If unset,
// NewConfiguration generates a unique one.
func WithEndpointName(name string) Option {
	return func(c *Configuration) { c.EndpointName = name }
}

// WithSocketPath overrides the generated socket path.
func WithSocketPath(path string) Option {
	return func(c *Configuration) { c.SocketPath = path }
}

// WithLogLevel sets the --log-level token passed to the runner.
func WithLogLevel(level LogLevel) Option {
	return func(c *Configuration) { c.LogLevel = level }
}

// WithEnvironment sets the chain environment the runner initializes against.
func WithEnvironment(env Environment) Option {
	return func(c *Configuration) { c.Environment = env }
}

// WithStorage sets the storage configuration forwarded to the runner.
func WithStorage(storage StorageConfiguration) Option {
	return func(c *Configuration) { c.Storage = storage }
}

// WithRuntimeConfig sets the runtime configuration applied via
// ChangeRuntimeConfiguration during InitProtocolForWrite/InitProtocolForRead.
func WithRuntimeConfig(rc RuntimeConfiguration) Option {
	return func(c *Configuration) { c.RuntimeConfig = rc }
}

// WithEnableTestchain toggles testchain support on the runner's context.
func WithEnableTestchain(enable bool) Option {
	return func(c *Configuration) { c.EnableTestchain = enable }
}

// WithSocketWaitTimeout overrides DefaultSocketWaitTimeout.
func WithSocketWaitTimeout(d time.Duration) Option {
	return func(c *Configuration) { c.SocketWaitTimeout = d }
}

// WithSocketPollPeriod overrides DefaultSocketPollPeriod.
func WithSocketPollPeriod(d time.Duration) Option {
	return func(c *Configuration) { c.SocketPollPeriod = d }
}

// NewConfiguration builds a Configuration for a runner executable at path,
// applying opts over sensible defaults: a uuid-derived socket path under
// /tmp (fixed, independent of the OS temp directory setting), a uuid-derived
// endpoint name, info log level, and the
// default socket-wait timeout/poll period.
func NewConfiguration(executablePath string, opts ...Option) Configuration {
	id := uuid.New().String()
	c := Configuration{
		ExecutablePath:    executablePath,
		SocketPath:        fmt.Sprintf("/tmp/protocol-runner-%s.sock", id),
		EndpointName:      fmt.Sprintf("protocol-runner-%s", id),
		LogLevel:          LogInfo,
		SocketWaitTimeout: DefaultSocketWaitTimeout,
		SocketPollPeriod:  DefaultSocketPollPeriod,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Args returns the command-line arguments the runner executable is invoked
// with, in the order the runner expects them.
func (c Configuration) Args() []string {
	return []string{
		"--socket-path", c.SocketPath,
		"--endpoint", c.EndpointName,
		"--log-level", c.LogLevel.String(),
	}
}
