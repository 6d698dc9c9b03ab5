package codec

import (
	"fmt"

	"github.com/nfsdispatch/core/internal/dispatch"
	"github.com/nfsdispatch/core/internal/protocol/rpc"
)

// Codec adapts internal/protocol/rpc's fixed-header parsing to
// dispatch.Codec. Checksum verification is left a no-op: RFC 5531 does
// not itself mandate a payload checksum, and this core's Non-goals keep
// full XDR argument decoding external, so there is nothing of this
// core's own to verify beyond what ReadCall already validated.
type Codec struct {
	table *Table
}

// NewCodec binds a procedure table.
func NewCodec(table *Table) *Codec {
	return &Codec{table: table}
}

// Decode parses the fixed RPC call header and looks ahead at the
// procedure table to fill in the classifier's Lookahead bits (§4.3 step
// 2, §4.4).
func (c *Codec) Decode(x *dispatch.Xprt, data []byte) (*dispatch.DecodeResult, error) {
	call, err := rpc.ReadCall(data)
	if err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}
	arg, err := rpc.ReadData(data, call)
	if err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}

	var la dispatch.Lookahead
	if entry, ok := c.table.Lookup(call.Program, call.Version, call.Procedure); ok {
		la.MountOp = entry.MountOp
		la.HighLatency = entry.HighLatency
	}

	return &dispatch.DecodeResult{
		XID:        call.XID,
		Program:    call.Program,
		Version:    call.Version,
		Procedure:  call.Procedure,
		CredFlavor: call.CredFlavor,
		CredBody:   call.CredBody,
		Lookahead:  la,
		Arg:        arg,
	}, nil
}

// Checksum is a pass-through: see the Codec doc comment.
func (c *Codec) Checksum(x *dispatch.Xprt, result *dispatch.DecodeResult) bool {
	return true
}

// Lookup resolves a decoded call against the procedure table, wrapping
// the entry's handler in a FuncDesc the worker pool can invoke.
func (c *Codec) Lookup(program, version, procedure uint32) (*dispatch.FuncDesc, bool) {
	entry, ok := c.table.Lookup(program, version, procedure)
	if !ok {
		return nil, false
	}
	return &dispatch.FuncDesc{
		Program:   entry.Program,
		Procedure: procedure,
		Name:      entry.Name,
		Handle:    entry.Handle,
	}, true
}

// WriteAuthReject writes a MSG_DENIED/AUTH_ERROR reply. Datagram
// transports have no per-message source address attached to *Xprt (§1
// Non-goals: on-wire framing for UDP replies is the RPC library's own
// concern), so this only writes to stream transports; on a datagram
// transport it is a documented no-op.
func (c *Codec) WriteAuthReject(x *dispatch.Xprt, xid uint32, authStat uint32) error {
	return writeReply(x, rpc.MakeAuthRejectReply(xid, authStat))
}

// WriteDecodeError writes a MSG_ACCEPTED/GARBAGE_ARGS reply (RFC 5531's
// svcerr_decode).
func (c *Codec) WriteDecodeError(x *dispatch.Xprt, xid uint32) error {
	return writeReply(x, rpc.MakeAcceptedErrorReply(xid, rpc.RPCGarbageArgs))
}

func writeReply(x *dispatch.Xprt, reply []byte) error {
	if x.Conn == nil {
		return nil
	}
	_, err := x.Conn.Write(reply)
	return err
}
