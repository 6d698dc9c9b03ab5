package rpc

import (
	"bytes"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// UnixAuth is the decoded AUTH_UNIX (AUTH_SYS) credential body (RFC 5531
// §8.2). The dispatch core only needs this to run the Authenticator
// collaborator and to populate LogContext; it never interprets uid/gid
// for access control itself.
//
// RFC 5531 bounds the machine name to 255 bytes and the group list to
// 16 entries; this is hand-decoded with the same reader helper rpc.go
// uses for the call header so those bounds are enforced during parse
// rather than left to a generic XDR unmarshaler.
type UnixAuth struct {
	Stamp       uint32
	MachineName string
	UID         uint32
	GID         uint32
	GIDs        []uint32
}

const (
	maxMachineNameLen = 255
	maxGIDs           = 16
)

// ParseUnixAuth decodes an AUTH_UNIX credential body.
func ParseUnixAuth(body []byte) (*UnixAuth, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("rpc: auth_unix body is empty")
	}

	r := &reader{data: body}

	stamp, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("rpc: read stamp: %w", err)
	}

	nameLen, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("rpc: read machine name length: %w", err)
	}
	if nameLen > maxMachineNameLen {
		return nil, fmt.Errorf("rpc: machine name too long (%d > %d)", nameLen, maxMachineNameLen)
	}
	name, err := r.fixedString(int(nameLen))
	if err != nil {
		return nil, fmt.Errorf("rpc: read machine name: %w", err)
	}

	uid, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("rpc: read uid: %w", err)
	}
	gid, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("rpc: read gid: %w", err)
	}

	ngids, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("rpc: read gid count: %w", err)
	}
	if ngids > maxGIDs {
		return nil, fmt.Errorf("rpc: too many gids (%d > %d)", ngids, maxGIDs)
	}
	gids := make([]uint32, ngids)
	for i := range gids {
		gids[i], err = r.uint32()
		if err != nil {
			return nil, fmt.Errorf("rpc: read gid[%d]: %w", i, err)
		}
	}

	return &UnixAuth{
		Stamp:       stamp,
		MachineName: name,
		UID:         uid,
		GID:         gid,
		GIDs:        gids,
	}, nil
}

// String formats the credential for debug logging.
func (a *UnixAuth) String() string {
	return fmt.Sprintf("AUTH_UNIX{machine=%s uid=%d gid=%d gids=%v}", a.MachineName, a.UID, a.GID, a.GIDs)
}

// fixedString reads n raw bytes as a string (no length prefix — the
// caller has already consumed it) followed by the XDR 4-byte alignment
// pad.
func (r *reader) fixedString(n int) (string, error) {
	if r.pos+n > len(r.data) {
		return "", fmt.Errorf("unexpected end of data")
	}
	s := string(r.data[r.pos : r.pos+n])
	r.pos += n
	pad := (4 - (n % 4)) % 4
	if r.pos+pad > len(r.data) {
		return "", fmt.Errorf("unexpected end of data")
	}
	r.pos += pad
	return s, nil
}

// ShortAuth is the decoded AUTH_SHORT credential body (RFC 5531 §8.3):
// an opaque handle a server previously returned in a reply verifier, now
// presented back as shorthand for the full AUTH_UNIX credential it
// stands in for. Its wire representation is just a variable-length
// opaque blob, which is exactly what the generic XDR codec is suited
// for; AUTH_UNIX above is decoded by hand instead.
type ShortAuth struct {
	Handle []byte
}

type xdrShortAuth struct {
	Handle []byte
}

// ParseShortAuth decodes an AUTH_SHORT credential body via the generic
// XDR codec, since a bare opaque blob has no domain-specific bounds
// worth hand-validating the way AUTH_UNIX's machine name and gid count
// do.
func ParseShortAuth(body []byte) (*ShortAuth, error) {
	var v xdrShortAuth
	if _, err := xdr.Unmarshal(bytes.NewReader(body), &v); err != nil {
		return nil, fmt.Errorf("rpc: decode auth_short: %w", err)
	}
	return &ShortAuth{Handle: v.Handle}, nil
}
