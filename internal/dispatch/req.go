package dispatch

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// FuncDesc is the function-table entry a decoded Req carries to its
// worker: the protocol handler to invoke plus enough metadata to log and
// to map the handler's error into an RPC reply (§9 DESIGN NOTES:
// "Function tables ... represent as a table indexed by an enumerated
// protocol tag with a capability record").
type FuncDesc struct {
	Program   Protocol
	Procedure uint32
	Name      string
	Handle    HandlerFunc
}

// HandlerFunc is the external collaborator invoked by a worker once a
// Req has been dequeued (§1: "protocol-specific handler routines").
// The dispatch core never calls this itself outside the worker pool.
type HandlerFunc func(req *Req) error

// Req is one pending RPC (§3). Allocated by the decoder with refcount 1
// (held by the caller/reactor); bumped to 2 before it is enqueued (one
// reference for queue membership, one for the caller to release after
// the transport's SVC_STAT is sampled). A worker's Release after running
// the handler drops it back to 0, which releases the Xprt reference the
// decoder took at allocation.
type Req struct {
	TraceID uuid.UUID
	Kind    RequestKind
	Xprt    *Xprt

	XID        uint32
	Program    uint32
	Version    uint32
	Procedure  uint32
	CredFlavor uint32
	CredBody   []byte

	Lookahead Lookahead
	Func      *FuncDesc

	// Arg is the decoded argument, populated by the codec collaborator
	// once a handler is ready to run. The dispatch core treats it opaquely.
	Arg any

	EnqueuedAt time.Time

	refcount atomic.Int32
}

// NewReq allocates a Req bound to xprt with refcount 1, per §4.3 step 1.
// The caller must have already taken (or be about to take) the matching
// Xprt.Ref().
func NewReq(kind RequestKind, xprt *Xprt) *Req {
	r := &Req{
		TraceID: uuid.New(),
		Kind:    kind,
		Xprt:    xprt,
	}
	r.refcount.Store(1)
	return r
}

// Ref increments the reference count. Called once before Enqueue, per
// §4.3 step 4 ("increment the Req refcount to 2").
func (r *Req) Ref() {
	r.refcount.Add(1)
}

// Release decrements the reference count; at zero it releases the
// transport reference taken at allocation. Returns true if this call
// freed the Req.
func (r *Req) Release() bool {
	if r.refcount.Add(-1) > 0 {
		return false
	}
	if r.Xprt != nil {
		r.Xprt.Release()
	}
	return true
}

// RefCount reports the current reference count (test/diagnostic use).
func (r *Req) RefCount() int32 {
	return r.refcount.Load()
}
