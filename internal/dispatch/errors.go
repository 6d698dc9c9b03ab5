package dispatch

import "errors"

// Sentinel errors surfaced by the dispatch core, in the teacher's style
// of package-level errors.New values (see pkg/adapter/nfs/connection.go's
// errBackchannelReply) rather than custom error types, since none of
// these need to carry extra fields.
//
// Only ErrAuthRejected is produced anywhere in this module (wrapped by
// codec.Authenticator's rejections). No function of this package
// returns any of the others: the Decoder answers decode, checksum and
// lookup failures with RPC replies, and Enqueue, Stats and Stop return
// no error.
var (
	// ErrShuttingDown names an operation attempted after the registry
	// has begun its shutdown sequence (§4.6).
	ErrShuttingDown = errors.New("dispatch: shutting down")

	// ErrQueueClosed names an enqueue that races a shutdown between
	// classification and the push.
	ErrQueueClosed = errors.New("dispatch: queue closed")

	// ErrNoHandler names a decoded Req that cannot be bound to a
	// FuncDesc, either because the program/procedure pair is unknown or
	// because the owning protocol was disabled in configuration (§6:
	// enable_NLM, enable_RQUOTA).
	ErrNoHandler = errors.New("dispatch: no handler bound for procedure")

	// ErrDecodeFailed names a malformed RPC call header (§4.3).
	ErrDecodeFailed = errors.New("dispatch: malformed RPC call header")

	// ErrAuthRejected is wrapped by an Authenticator's error when it
	// rejects a call's credentials (§6 Authenticator collaborator).
	ErrAuthRejected = errors.New("dispatch: authentication rejected")

	// ErrEndpointExists names binding an endpoint whose (family,
	// protocol) pair is already registered with the endpoint manager.
	ErrEndpointExists = errors.New("dispatch: endpoint already registered")

	// ErrNotRunning names a registry operation that requires a running
	// dispatcher.
	ErrNotRunning = errors.New("dispatch: dispatcher is not running")
)
