// Package codec is a concrete RPC library collaborator: it implements
// the dispatch.Codec and dispatch.Authenticator contracts that §1/§6
// leave to an external implementation, using internal/protocol/rpc for
// the fixed-header parsing the dispatch core itself never does. It is
// the "RPC library" side of the teacher's handleRPCCall routing —
// program/procedure lookup, lookahead classification, AUTH_UNIX/SHORT
// credential parsing — adapted to feed the dispatch core's decode
// pipeline instead of calling protocol handlers inline.
package codec

import (
	"fmt"

	"github.com/nfsdispatch/core/internal/dispatch"
)

// procKey identifies one (program, version, procedure) triple.
type procKey struct {
	Program   uint32
	Version   uint32
	Procedure uint32
}

// ProcEntry binds one RPC procedure to its handler and its lookahead
// classification (§4.4's MOUNT/HIGH_LATENCY routing predicates).
type ProcEntry struct {
	Program     dispatch.Protocol
	ProgramNum  uint32
	Version     uint32
	Procedure   uint32
	Name        string
	MountOp     bool
	HighLatency bool
	Handle      dispatch.HandlerFunc
}

// Table is the function table named in §9 DESIGN NOTES: "represent as a
// table indexed by an enumerated protocol tag with a capability record".
type Table struct {
	entries map[procKey]ProcEntry
}

// NewTable returns an empty procedure table.
func NewTable() *Table {
	return &Table{entries: make(map[procKey]ProcEntry)}
}

// Register binds one procedure entry. Registering the same
// (program, version, procedure) twice overwrites the earlier entry.
func (t *Table) Register(e ProcEntry) {
	t.entries[procKey{e.ProgramNum, e.Version, e.Procedure}] = e
}

// Lookup resolves a decoded call to its table entry.
func (t *Table) Lookup(program, version, procedure uint32) (ProcEntry, bool) {
	e, ok := t.entries[procKey{program, version, procedure}]
	return e, ok
}

// VersionRange reports the lowest/highest registered version for a
// program, for building PROG_MISMATCH replies (RFC 5531 §A.2).
func (t *Table) VersionRange(program uint32) (low, high uint32, ok bool) {
	for k := range t.entries {
		if k.Program != program {
			continue
		}
		if !ok || k.Version < low {
			low = k.Version
		}
		if !ok || k.Version > high {
			high = k.Version
		}
		ok = true
	}
	return low, high, ok
}

func (e ProcEntry) String() string {
	return fmt.Sprintf("%s.%d/%s", e.Program, e.Version, e.Name)
}
