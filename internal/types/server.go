package types

type serverContext string

// Context keys used to pass shared handles through a cobra command's
// Context.
const (
	ConfigContextKey = serverContext("config.context")
	DBContextKey     = serverContext("db.context")
)
