package codec

import (
	"fmt"

	"github.com/nfsdispatch/core/internal/dispatch"
	"github.com/nfsdispatch/core/internal/protocol/rpc"
)

// IdentityStore resolves a parsed credential to whatever access-control
// identity the caller wants attached to a request. The dispatch core
// never consults this itself (§1 Non-goals: credential issuance/ACL
// enforcement are external); it exists so a real deployment can plug in
// uid/gid → principal mapping without this package needing to know about
// it.
type IdentityStore interface {
	// Accept is called once a credential has been structurally parsed.
	// Returning an error rejects the request (AUTH_BADCRED).
	Accept(flavor uint32, unix *rpc.UnixAuth, short *rpc.ShortAuth) error
}

// Authenticator validates AUTH_NULL/AUTH_UNIX/AUTH_SHORT credentials
// using internal/protocol/rpc. RPCSEC_GSS (flavor 6) is reported back as
// NoDispatch: its control-message handling belongs to the GSS
// collaborator named in SPEC_FULL's DOMAIN STACK, not to this core.
type Authenticator struct {
	identity IdentityStore
}

// NewAuthenticator binds an optional identity store; a nil store accepts
// every structurally valid credential.
func NewAuthenticator(identity IdentityStore) *Authenticator {
	return &Authenticator{identity: identity}
}

// Authenticate implements dispatch.Authenticator.
func (a *Authenticator) Authenticate(req *dispatch.Req, result *dispatch.DecodeResult) (noDispatch bool, err error) {
	switch result.CredFlavor {
	case rpc.AuthNull:
		return false, nil

	case rpc.AuthUnix:
		ua, err := rpc.ParseUnixAuth(result.CredBody)
		if err != nil {
			return false, fmt.Errorf("auth: %w: %w", dispatch.ErrAuthRejected, err)
		}
		if a.identity != nil {
			if err := a.identity.Accept(result.CredFlavor, ua, nil); err != nil {
				return false, fmt.Errorf("auth: %w: %w", dispatch.ErrAuthRejected, err)
			}
		}
		return false, nil

	case rpc.AuthShort:
		sa, err := rpc.ParseShortAuth(result.CredBody)
		if err != nil {
			return false, fmt.Errorf("auth: %w: %w", dispatch.ErrAuthRejected, err)
		}
		if a.identity != nil {
			if err := a.identity.Accept(result.CredFlavor, nil, sa); err != nil {
				return false, fmt.Errorf("auth: %w: %w", dispatch.ErrAuthRejected, err)
			}
		}
		return false, nil

	case rpc.AuthRPCSecGSS:
		// Control/data framing for GSS contexts is handled by the GSS
		// collaborator (dispatch.GSSImporter's counterpart at the
		// per-message level); this core only needs to keep it off the
		// worker queue.
		return true, nil

	default:
		return false, fmt.Errorf("auth: %w: unsupported credential flavor %d", dispatch.ErrAuthRejected, result.CredFlavor)
	}
}
