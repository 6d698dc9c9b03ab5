// Package portmap defines the client-side contract the dispatch core
// uses to (un)register its programs with a portmapper/rpcbind service
// (§6). Actually talking to rpcbind over the wire (building the SET/UNSET
// call, running it through the RPC codec) is the out-of-scope external
// collaborator; this package only names the interface and the well-known
// program/version numbers the registry needs to drive it.
package portmap

// Netconfig identifies one of the four transport/address-family
// combinations a program can be registered against (§6: "over
// udp4/tcp4/udp6/tcp6").
type Netconfig string

const (
	NetconfigUDP4 Netconfig = "udp4"
	NetconfigTCP4 Netconfig = "tcp4"
	NetconfigUDP6 Netconfig = "udp6"
	NetconfigTCP6 Netconfig = "tcp6"
)

// Well-known program numbers and versions this core registers (§6).
const (
	ProgNFS    uint32 = 100003
	ProgMount  uint32 = 100005
	ProgNLM    uint32 = 100021
	ProgRQuota uint32 = 100011

	NFSVers3 uint32 = 3
	NFSVers4 uint32 = 4

	MountVers1 uint32 = 1
	MountVers3 uint32 = 3

	NLMVers4 uint32 = 4

	RQuotaVers    uint32 = 1
	RQuotaVersExt uint32 = 2
)

// Client is the portmap/rpcbind collaborator contract (§6). An
// implementation talks to a local or remote rpcbind over the netconfig's
// transport; this core never parses its replies beyond success/failure.
type Client interface {
	// Register advertises (prog, vers) as reachable on port over nc.
	// Returns an error if the portmapper rejected or could not be
	// reached.
	Register(prog, vers uint32, nc Netconfig, port int) error

	// Unregister removes a prior registration. Implementations should
	// tolerate unregistering an entry that was never registered (the
	// registry calls this defensively during startup to clear stale
	// entries left by a previous, uncleanly-terminated process).
	Unregister(prog, vers uint32, nc Netconfig) error
}

// ProgramVersion is one (program, version) pair the registry may
// register, gated by configuration (enable_NLM, enable_RQUOTA, core
// option bitmask).
type ProgramVersion struct {
	Prog uint32
	Vers uint32
	Name string
}

// DefaultPrograms lists every (program, version) this core can register,
// independent of which are actually enabled at runtime.
var DefaultPrograms = []ProgramVersion{
	{ProgNFS, NFSVers3, "NFS"},
	{ProgNFS, NFSVers4, "NFS"},
	{ProgMount, MountVers1, "MOUNT"},
	{ProgMount, MountVers3, "MOUNT"},
	{ProgNLM, NLMVers4, "NLM"},
	{ProgRQuota, RQuotaVers, "RQUOTA"},
	{ProgRQuota, RQuotaVersExt, "RQUOTA"},
}
