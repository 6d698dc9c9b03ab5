// Package rpc implements the fixed RFC 5531 RPC call/reply header: the
// part of the wire format the dispatch core must parse itself in order to
// classify and route a message, before handing argument decoding on to a
// protocol-specific handler. It is intentionally narrow — full procedure
// argument/result XDR bodies are an external collaborator's job (see
// internal/dispatch.Codec).
package rpc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// RPC message types (RFC 5531 §9).
const (
	RPCCall  uint32 = 0
	RPCReply uint32 = 1
)

// Reply states.
const (
	RPCMsgAccepted uint32 = 0
	RPCMsgDenied   uint32 = 1
)

// Accept statuses.
const (
	RPCSuccess      uint32 = 0
	RPCProgUnavail  uint32 = 1
	RPCProgMismatch uint32 = 2
	RPCProcUnavail  uint32 = 3
	RPCGarbageArgs  uint32 = 4
	RPCSystemErr    uint32 = 5
)

// Reject statuses.
const (
	RPCMismatch  uint32 = 0
	RPCAuthError uint32 = 1
)

// Auth flavors (RFC 5531 §8.2, RFC 2203 for RPCSEC_GSS).
const (
	AuthNull      uint32 = 0
	AuthUnix      uint32 = 1
	AuthShort     uint32 = 2
	AuthDES       uint32 = 3
	AuthRPCSecGSS uint32 = 6
)

// RPCVersion is the only RPC protocol version this core speaks.
const RPCVersion uint32 = 2

// CallMessage is the decoded, fixed portion of an RPC call: everything
// the classifier needs without touching procedure-specific arguments.
type CallMessage struct {
	XID        uint32
	Program    uint32
	Version    uint32
	Procedure  uint32
	CredFlavor uint32
	CredBody   []byte
	VerfFlavor uint32
	VerfBody   []byte
	headerLen  int // bytes consumed by the fixed header, for ReadData
}

// ReadCall parses the fixed RPC call header from a raw message (the
// payload following the 4-byte record-marking fragment header on TCP;
// the whole UDP datagram on datagram transports).
func ReadCall(data []byte) (*CallMessage, error) {
	r := &reader{data: data}

	xid, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("rpc: read xid: %w", err)
	}
	msgType, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("rpc: read msg_type: %w", err)
	}
	if msgType != RPCCall {
		return nil, fmt.Errorf("rpc: not a call message (msg_type=%d)", msgType)
	}
	rpcvers, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("rpc: read rpcvers: %w", err)
	}
	if rpcvers != RPCVersion {
		return nil, fmt.Errorf("rpc: unsupported rpc version %d", rpcvers)
	}
	program, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("rpc: read prog: %w", err)
	}
	version, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("rpc: read vers: %w", err)
	}
	procedure, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("rpc: read proc: %w", err)
	}
	credFlavor, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("rpc: read cred flavor: %w", err)
	}
	credBody, err := r.opaque()
	if err != nil {
		return nil, fmt.Errorf("rpc: read cred body: %w", err)
	}
	verfFlavor, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("rpc: read verf flavor: %w", err)
	}
	verfBody, err := r.opaque()
	if err != nil {
		return nil, fmt.Errorf("rpc: read verf body: %w", err)
	}

	return &CallMessage{
		XID:        xid,
		Program:    program,
		Version:    version,
		Procedure:  procedure,
		CredFlavor: credFlavor,
		CredBody:   credBody,
		VerfFlavor: verfFlavor,
		VerfBody:   verfBody,
		headerLen:  r.pos,
	}, nil
}

// ReadData returns the procedure-argument bytes following the fixed
// header parsed by ReadCall — the part the dispatch core never
// interprets itself.
func ReadData(data []byte, call *CallMessage) ([]byte, error) {
	if call.headerLen > len(data) {
		return nil, fmt.Errorf("rpc: header length %d exceeds message length %d", call.headerLen, len(data))
	}
	return data[call.headerLen:], nil
}

// MakeAuthRejectReply builds a complete record-marked MSG_DENIED/AUTH_ERROR
// reply, ready to write directly to a TCP transport.
func MakeAuthRejectReply(xid uint32, authStat uint32) []byte {
	buf := make([]byte, 0, 16)
	buf = appendUint32(buf, xid)
	buf = appendUint32(buf, RPCReply)
	buf = appendUint32(buf, RPCMsgDenied)
	buf = appendUint32(buf, RPCAuthError)
	buf = appendUint32(buf, authStat)
	return withFragmentHeader(buf)
}

// MakeAcceptedErrorReply builds a complete record-marked MSG_ACCEPTED reply
// with the given accept_stat and no result data (PROG_UNAVAIL, PROC_UNAVAIL,
// GARBAGE_ARGS, SYSTEM_ERR).
func MakeAcceptedErrorReply(xid uint32, acceptStat uint32) []byte {
	return withFragmentHeader(acceptedHeader(xid, acceptStat))
}

// acceptedHeader builds the MSG_ACCEPTED reply body (xid, msg_type,
// reply_stat, a null verifier, and accept_stat) without the record-marking
// fragment header, so callers can append stat-specific trailing data
// before framing.
func acceptedHeader(xid uint32, acceptStat uint32) []byte {
	buf := make([]byte, 0, 24)
	buf = appendUint32(buf, xid)
	buf = appendUint32(buf, RPCReply)
	buf = appendUint32(buf, RPCMsgAccepted)
	buf = appendUint32(buf, AuthNull) // verifier flavor
	buf = appendUint32(buf, 0)        // verifier length
	buf = appendUint32(buf, acceptStat)
	return buf
}

// MakeProgMismatchReply builds a complete record-marked PROG_MISMATCH reply
// carrying the supported version range. Returns an error if low > high,
// which RFC 5531 never permits.
func MakeProgMismatchReply(xid uint32, low, high uint32) ([]byte, error) {
	if low > high {
		return nil, fmt.Errorf("rpc: invalid version range: low (%d) > high (%d)", low, high)
	}
	buf := acceptedHeader(xid, RPCProgMismatch)
	buf = appendUint32(buf, low)
	buf = appendUint32(buf, high)
	return withFragmentHeader(buf), nil
}

// withFragmentHeader prepends the 4-byte TCP record-marking fragment
// header (RFC 5531 §10): high bit set (last fragment), low 31 bits the
// payload length.
func withFragmentHeader(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out[0:4], 0x80000000|uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// reader is a tiny cursor over a byte slice for the fixed RPC header —
// the same manual big-endian decode the teacher uses for this header
// rather than reaching for the generic XDR codec, which this package
// uses only for the AUTH_SHORT opaque handle (ParseShortAuth).
type reader struct {
	data []byte
	pos  int
}

func (r *reader) uint32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *reader) opaque() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	const maxAuthBody = 1 << 16
	if n > maxAuthBody {
		return nil, fmt.Errorf("opaque length %d exceeds maximum", n)
	}
	if r.pos+int(n) > len(r.data) {
		return nil, io.ErrUnexpectedEOF
	}
	body := make([]byte, n)
	copy(body, r.data[r.pos:r.pos+int(n)])
	r.pos += int(n)
	// 4-byte alignment padding.
	pad := (4 - (n % 4)) % 4
	if r.pos+int(pad) > len(r.data) {
		return nil, io.ErrUnexpectedEOF
	}
	r.pos += int(pad)
	return body, nil
}
