package logger

import "context"

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds request-scoped fields threaded through the dispatch
// core: which reactor channel is serving the message, which request it
// belongs to, and a trace id for correlating decode -> classify -> dequeue
// -> handler across goroutines.
type LogContext struct {
	TraceID   string // correlates one Req across its lifetime
	ChannelID int    // event channel id that owns the transport
	Procedure string // decoded NFS/MOUNT/NLM/RQUOTA procedure name
	ClientIP  string
	XID       uint32 // RPC transaction id
}

// WithContext attaches lc to ctx.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from ctx, or nil if absent.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// Clone returns a shallow copy of lc, or nil if lc is nil.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithProcedure returns a copy of lc with Procedure set.
func (lc *LogContext) WithProcedure(procedure string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Procedure = procedure
	}
	return clone
}

// WithXID returns a copy of lc with XID set.
func (lc *LogContext) WithXID(xid uint32) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.XID = xid
	}
	return clone
}
