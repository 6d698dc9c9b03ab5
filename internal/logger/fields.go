package logger

// Field key names, kept as constants so callers and tests agree on the
// structured-log schema.
const (
	KeyTraceID   = "trace_id"
	KeyChannel   = "channel"
	KeyProcedure = "procedure"
	KeyClientIP  = "client_ip"
	KeyXID       = "xid"
)
