package dispatch

import "fmt"

// Family identifies the address family a transport was created for.
type Family int

const (
	FamilyInet4 Family = iota
	FamilyInet6
	FamilyVSock
	FamilyRDMA
)

func (f Family) String() string {
	switch f {
	case FamilyInet4:
		return "inet4"
	case FamilyInet6:
		return "inet6"
	case FamilyVSock:
		return "vsock"
	case FamilyRDMA:
		return "rdma"
	default:
		return "unknown"
	}
}

// Role distinguishes a listening/rendezvous transport, a connection
// accepted from one, and a connectionless datagram transport.
type Role int

const (
	RoleRendezvous Role = iota
	RoleConnected
	RoleDatagram
)

// Protocol enumerates the RPC programs the endpoint manager binds
// sockets for. Each carries the capability record (§9 DESIGN NOTES:
// "function tables") describing how its transports are created and how
// its messages are classified and handled.
type Protocol int

const (
	ProtoNFS Protocol = iota
	ProtoMount
	ProtoNLM
	ProtoRQuota
)

func (p Protocol) String() string {
	switch p {
	case ProtoNFS:
		return "NFS"
	case ProtoMount:
		return "MOUNT"
	case ProtoNLM:
		return "NLM"
	case ProtoRQuota:
		return "RQUOTA"
	default:
		return "UNKNOWN"
	}
}

// RequestKind classifies a decoded Req for routing into the multi-queue.
type RequestKind int

const (
	// KindNFSRequest is an ordinary inbound call against NFS, MOUNT, NLM
	// or RQUOTA — routed by Lookahead into MOUNT/LOW_LATENCY/HIGH_LATENCY.
	KindNFSRequest RequestKind = iota
	// KindNFSCall is a callback RPC issued by the server acting as a
	// client (NLM GRANTED, NSM notifications) — routed to the CALL queue.
	KindNFSCall
	// Kind9PRequest is the optional 9P request kind named in spec.md's
	// data model; routed to LOW_LATENCY like any other light request.
	Kind9PRequest
	// KindOther is any decoded message the classifier has no queue for;
	// classify(...) is a documented no-op (drop) for this kind.
	KindOther
)

// QueueKind identifies one of the four fixed queues.
type QueueKind int

const (
	QueueMount QueueKind = iota
	QueueCall
	QueueLowLatency
	QueueHighLatency
	numQueues
)

func (q QueueKind) String() string {
	switch q {
	case QueueMount:
		return "mount"
	case QueueCall:
		return "call"
	case QueueLowLatency:
		return "low_latency"
	case QueueHighLatency:
		return "high_latency"
	default:
		return fmt.Sprintf("queue(%d)", int(q))
	}
}

// Lookahead is metadata the codec (an external collaborator) must fill
// in before ReadCall/decode returns, per spec.md §9's GLOSSARY and Open
// Question on MOUNT detection: it lets the classifier route a request
// without parsing its full argument body.
type Lookahead struct {
	// MountOp is true when the decoded procedure is a MOUNT-program
	// operation (or an NFS pseudo-mount traversal) and must go to the
	// MOUNT queue ahead of ordinary traffic.
	MountOp bool
	// HighLatency is true for procedures the codec predicts will take
	// a long time (WRITE, COMMIT, large READ, directory operations).
	HighLatency bool
}
