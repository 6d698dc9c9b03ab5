package dispatch

import (
	"github.com/nfsdispatch/core/internal/logger"
)

// DecodeResult is what the codec collaborator reports back after parsing
// an RPC call header off the wire (§4.3 step 2).
type DecodeResult struct {
	XID        uint32
	Program    uint32
	Version    uint32
	Procedure  uint32
	CredFlavor uint32
	CredBody   []byte
	Lookahead  Lookahead

	// NoDispatch mirrors the codec's no_dispatch output: true means the
	// message was an internal security-context negotiation (GSS INIT or
	// similar) that must never reach a worker (§4.3 step 2).
	NoDispatch bool

	// Arg is the decoded argument the bound handler expects. Opaque to
	// the dispatch core.
	Arg any
}

// Codec is the external wire-framing/XDR collaborator (§1 Non-goals, §6
// "RPC library contract"). The dispatch core drives it but never
// implements header framing or XDR itself.
type Codec interface {
	// Decode parses one RPC call out of data (one complete RPC message:
	// a datagram transport's whole packet, or a stream transport's
	// record-marked fragment already reassembled by the caller) and
	// fills a DecodeResult. An error here means the message was too
	// malformed to classify at all (§7 "Per-request decode/checksum
	// failure"). Reading bytes off the wire is the recv(xprt) step
	// named in §6's RPC library contract, kept separate from decode —
	// this core performs recv itself (see endpoint/registry) and hands
	// decode only the assembled message.
	Decode(x *Xprt, data []byte) (*DecodeResult, error)

	// Checksum verifies the message's integrity once authentication has
	// succeeded and no_dispatch is false (§4.3 step 3).
	Checksum(x *Xprt, result *DecodeResult) bool

	// Lookup resolves (program, version, procedure) to the handler
	// table entry that should run this request, or ok=false if the
	// dispatch core has no handler bound (e.g. the protocol is
	// disabled, or the procedure is unknown).
	Lookup(program, version, procedure uint32) (*FuncDesc, bool)

	// WriteAuthReject sends an RPC auth-reject reply on x (§4.3 step
	// 3, first bullet).
	WriteAuthReject(x *Xprt, xid uint32, authStat uint32) error

	// WriteDecodeError sends an RPC decode-error (svcerr_decode) reply
	// on x (§4.3 step 3, third bullet).
	WriteDecodeError(x *Xprt, xid uint32) error
}

// Authenticator is the authentication collaborator invoked once a
// message has been decoded (§4.3 step 2-3, §6 "auth(req, *no_dispatch)").
// A real implementation validates AUTH_UNIX/AUTH_SHORT credentials or
// drives an RPCSEC_GSS context; this core only consumes the verdict.
type Authenticator interface {
	// Authenticate returns an error (wrapping ErrAuthRejected) if the
	// credentials are invalid. noDispatch mirrors the codec's own
	// no_dispatch bit: authentication can also decide a message is
	// internal-only (e.g. a GSS control exchange) even if the codec
	// did not already flag it.
	Authenticate(req *Req, result *DecodeResult) (noDispatch bool, err error)
}

// Decoder implements §4.3: one decode-callback invocation per incoming
// message on a connected transport. It never runs protocol handlers
// inline — its only outputs are rejection responses (via Codec) and
// enqueues onto the MultiQueue.
type Decoder struct {
	codec   Codec
	auth    Authenticator
	mq      *MultiQueue
	metrics *Metrics
}

// NewDecoder constructs a decoder bound to its collaborators.
func NewDecoder(codec Codec, auth Authenticator, mq *MultiQueue, metrics *Metrics) *Decoder {
	return &Decoder{codec: codec, auth: auth, mq: mq, metrics: metrics}
}

// Decode runs the full §4.3 pipeline for one message already read off x
// (data is the assembled RPC message — see Codec.Decode) and returns the
// transport status to hand back to the reactor.
func (d *Decoder) Decode(x *Xprt, data []byte) Stat {
	x.Ref()
	req := NewReq(KindNFSRequest, x)

	result, err := d.codec.Decode(x, data)
	if err != nil {
		logger.Warn("decode failed", "transport", x.ID, "error", err)
		if werr := d.codec.WriteDecodeError(x, 0); werr != nil {
			logger.Warn("failed to write decode-error reply", "transport", x.ID, "error", werr)
		}
		req.Release()
		return x.Status()
	}

	req.XID = result.XID
	req.Program = result.Program
	req.Version = result.Version
	req.Procedure = result.Procedure
	req.CredFlavor = result.CredFlavor
	req.Lookahead = result.Lookahead
	req.CredBody = result.CredBody
	req.Arg = result.Arg

	noDispatch, authErr := d.auth.Authenticate(req, result)
	if authErr != nil {
		if werr := d.codec.WriteAuthReject(x, result.XID, authStatFromErr(authErr)); werr != nil {
			logger.Warn("failed to write auth-reject reply", "transport", x.ID, "xid", result.XID, "error", werr)
		}
		req.Release()
		return x.Status()
	}

	noDispatch = noDispatch || result.NoDispatch
	if noDispatch {
		// GSS negotiation only: refresh transport status, no enqueue,
		// no reply from this core (the codec/auth collaborator already
		// replied, per §4.3 step 3 second bullet).
		req.Release()
		return x.Status()
	}

	if !d.codec.Checksum(x, result) {
		if werr := d.codec.WriteDecodeError(x, result.XID); werr != nil {
			logger.Warn("failed to write decode-error reply", "transport", x.ID, "xid", result.XID, "error", werr)
		}
		req.Release()
		return x.Status()
	}

	fd, ok := d.codec.Lookup(result.Program, result.Version, result.Procedure)
	if !ok {
		if werr := d.codec.WriteDecodeError(x, result.XID); werr != nil {
			logger.Warn("failed to write decode-error reply for unbound procedure", "transport", x.ID, "xid", result.XID, "error", werr)
		}
		req.Release()
		return x.Status()
	}
	req.Func = fd

	req.Ref() // refcount 1 -> 2: one for the queue, one for this caller to release
	d.mq.Enqueue(req)
	req.Release() // drop this caller's reference; the queue's reference survives

	return x.Status()
}

// authStatFromErr maps an authentication error to an RPC auth_stat code.
// Every error maps to AUTH_BADCRED, the conservative default for the
// common "credentials rejected" case; the error's type and content are
// not inspected.
func authStatFromErr(err error) uint32 {
	_ = err
	const authBadCred = 1 // AUTH_BADCRED, RFC 5531 §8.2
	return authBadCred
}
