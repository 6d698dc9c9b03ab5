package dispatch

import (
	"net"
	"sync/atomic"

	"github.com/google/uuid"
)

// Stat mirrors the external RPC library's transport status contract
// (§6): callbacks report it back to the reactor so it can decide
// whether to keep reading or release the transport.
type Stat int

const (
	StatOK Stat = iota
	StatMoreData
	StatDied
	StatDestroyed
)

// DRCSlot is the duplicate-request-cache handle a transport lazily
// acquires on its first request. The core never looks inside it — the
// DRC itself is an external collaborator (§1, GLOSSARY).
type DRCSlot interface{}

// FreeUserDataFunc is the per-transport destroy hook the endpoint
// manager installs at transport creation (§4.1): it releases whatever
// per-connection private data the rendezvous callback attached.
type FreeUserDataFunc func(userData any)

// Xprt represents one endpoint or one accepted connection (§3). It is
// reference-counted: one reference is held by the channel that owns it,
// one by each Req currently decoding against it. Xprt is destroyed
// (Conn closed, private data freed) when the count reaches zero.
type Xprt struct {
	ID     uuid.UUID
	Family Family
	Role   Role

	// Conn is the underlying network connection. Nil for a rendezvous
	// transport that has not yet accepted (the listener itself is held
	// by the EndpointManager, not the Xprt).
	Conn net.Conn

	// Parent is set on a connection accepted from a rendezvous transport.
	Parent *Xprt

	// ChannelID is the event channel this transport is currently
	// registered on.
	ChannelID int

	// ProcessCB is the per-message callback the reactor invokes when the
	// transport becomes readable. Set by the rendezvous callback at
	// accept time (§4.3).
	ProcessCB func(x *Xprt) Stat

	// FreeUserData releases UserData when the transport is destroyed.
	FreeUserData FreeUserDataFunc
	UserData     any

	// DRC is initialized lazily on first request (§3).
	DRC DRCSlot

	refcount atomic.Int32
	status   atomic.Int32
}

// NewXprt creates a transport with an initial reference count of 1,
// attributable to the caller (typically the endpoint manager or the
// rendezvous callback that just accepted it).
func NewXprt(family Family, role Role, conn net.Conn) *Xprt {
	x := &Xprt{
		ID:     uuid.New(),
		Family: family,
		Role:   role,
		Conn:   conn,
	}
	x.refcount.Store(1)
	x.status.Store(int32(StatOK))
	return x
}

// Ref increments the reference count. Called by the decoder when a Req
// is allocated against this transport (§4.3 step 1).
func (x *Xprt) Ref() {
	x.refcount.Add(1)
}

// Release decrements the reference count and destroys the transport
// when it reaches zero: closes the connection and invokes FreeUserData.
// Returns true if this call destroyed the transport.
func (x *Xprt) Release() bool {
	if x.refcount.Add(-1) > 0 {
		return false
	}
	if x.Conn != nil {
		_ = x.Conn.Close()
	}
	if x.FreeUserData != nil {
		x.FreeUserData(x.UserData)
	}
	return true
}

// RefCount reports the current reference count. Exposed for tests
// verifying the conservation invariants in spec.md §8.
func (x *Xprt) RefCount() int32 {
	return x.refcount.Load()
}

// Status returns the last status reported by a callback.
func (x *Xprt) Status() Stat {
	return Stat(x.status.Load())
}

// SetStatus records the status a callback returned, for the reactor to
// consult after the callback returns (§4.3 step 4).
func (x *Xprt) SetStatus(s Stat) {
	x.status.Store(int32(s))
}

// Dead reports whether the transport should be dropped from its
// channel's set (§7: "Transport died / destroyed").
func (x *Xprt) Dead() bool {
	s := x.Status()
	return s == StatDied || s == StatDestroyed
}
