package types

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

type DeploymentMode string

const (
	ModeServer   DeploymentMode = "server"
	ModeConsumer DeploymentMode = "consumer"
	ModeLocal    DeploymentMode = "local"
)
