package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/mdlayher/vsock"
	"golang.org/x/sys/unix"

	"github.com/nfsdispatch/core/internal/logger"
)

// Endpoint is one bound listening surface: a TCP rendezvous transport
// plus, where applicable, a UDP datagram transport for the same
// protocol on the same port (§4.1).
type Endpoint struct {
	Protocol Protocol
	Family   Family
	TCP      net.Listener
	UDP      net.PacketConn
	VSock    net.Listener
}

// EndpointManager owns socket allocation, binding, and transport
// creation for every enabled protocol (§4.1). It tracks the process-wide
// v6_disabled flag: once any AF_INET6 allocation fails with "address
// family not supported", every subsequent allocation falls back to
// AF_INET (§4.1, §8 property 6).
type EndpointManager struct {
	cfg Config

	mu         sync.Mutex
	endpoints  map[Protocol]*Endpoint
	v6Disabled atomic.Bool
}

// NewEndpointManager constructs a manager bound to cfg. No sockets are
// opened until AllocateSockets is called.
func NewEndpointManager(cfg Config) *EndpointManager {
	return &EndpointManager{
		cfg:       cfg,
		endpoints: make(map[Protocol]*Endpoint),
	}
}

// V6Disabled reports whether IPv6 has been disabled for the remainder of
// this process's lifetime.
func (em *EndpointManager) V6Disabled() bool { return em.v6Disabled.Load() }

func portFor(cfg Config, p Protocol) int {
	switch p {
	case ProtoNFS:
		return cfg.NFSPort
	case ProtoMount:
		return cfg.MountPort
	case ProtoNLM:
		return cfg.NLMPort
	case ProtoRQuota:
		return cfg.RQuotaPort
	default:
		return 0
	}
}

// enabledProtocols returns the protocols this manager should allocate
// sockets for, honoring enable_NLM/enable_RQUOTA (§6).
func (em *EndpointManager) enabledProtocols() []Protocol {
	protos := []Protocol{ProtoNFS, ProtoMount}
	if em.cfg.EnableNLM {
		protos = append(protos, ProtoNLM)
	}
	if em.cfg.EnableRQuota {
		protos = append(protos, ProtoRQuota)
	}
	return protos
}

// AllocateSockets opens the TCP and UDP sockets for every enabled
// protocol, attempting IPv6 first and falling back to IPv4 on the first
// EAFNOSUPPORT (§4.1). A TCP failure immediately following a successful
// UDP bind on the same family is treated as fatal, since family
// disablement cannot explain it (§4.1).
func (em *EndpointManager) AllocateSockets() error {
	for _, proto := range em.enabledProtocols() {
		port := portFor(em.cfg, proto)
		ep := &Endpoint{Protocol: proto}

		udpFamilyUsed, udp, err := em.listenUDP(port)
		if err != nil {
			return fmt.Errorf("allocate UDP socket for %s: %w", proto, err)
		}
		ep.UDP = udp

		_, tcp, err := em.listenTCP(port)
		if err != nil {
			if udpFamilyUsed == FamilyInet6 && !em.v6Disabled.Load() {
				return fmt.Errorf("allocate TCP socket for %s: %w (UDP succeeded on the same family, so this is not family disablement)", proto, err)
			}
			return fmt.Errorf("allocate TCP socket for %s: %w", proto, err)
		}
		ep.TCP = tcp
		ep.Family = udpFamilyUsed

		em.mu.Lock()
		em.endpoints[proto] = ep
		em.mu.Unlock()
	}

	if em.cfg.Options.Has(OptVSock) {
		em.allocateVSock()
	}

	return nil
}

// controlOpts applies SO_REUSEADDR and, when configured, SO_KEEPALIVE +
// TCP_KEEPCNT/KEEPIDLE/KEEPINTVL before bind, via the net.ListenConfig
// Control callback — the idiomatic way to reach setsockopt without
// dropping to raw syscall.Socket/Bind/Listen (§4.1).
func (em *EndpointManager) controlOpts(isTCP bool) func(network, address string, c syscall.RawConn) error {
	return func(_, _ string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			intFD := int(fd)
			if sockErr = unix.SetsockoptInt(intFD, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); sockErr != nil {
				return
			}
			if !isTCP || !em.cfg.Keepalive.Enabled {
				return
			}
			if sockErr = unix.SetsockoptInt(intFD, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); sockErr != nil {
				return
			}
			if em.cfg.Keepalive.Count > 0 {
				if sockErr = unix.SetsockoptInt(intFD, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, em.cfg.Keepalive.Count); sockErr != nil {
					return
				}
			}
			if em.cfg.Keepalive.Idle > 0 {
				if sockErr = unix.SetsockoptInt(intFD, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, int(em.cfg.Keepalive.Idle.Seconds())); sockErr != nil {
					return
				}
			}
			if em.cfg.Keepalive.Interval > 0 {
				sockErr = unix.SetsockoptInt(intFD, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, int(em.cfg.Keepalive.Interval.Seconds()))
			}
		})
		if err != nil {
			return fmt.Errorf("raw conn control: %w", err)
		}
		return sockErr
	}
}

// listenUDP binds a UDP datagram socket for port, trying AF_INET6
// first unless it has already been disabled for this process.
func (em *EndpointManager) listenUDP(port int) (Family, net.PacketConn, error) {
	if !em.v6Disabled.Load() {
		lc := net.ListenConfig{Control: em.controlOpts(false)}
		pc, err := lc.ListenPacket(context.Background(), "udp6", fmt.Sprintf(":%d", port))
		if err == nil {
			return FamilyInet6, pc, nil
		}
		if !isEAFNoSupport(err) {
			return 0, nil, err
		}
		em.v6Disabled.Store(true)
		logger.Warn("AF_INET6 not supported, falling back to AF_INET for all further allocations")
	}

	lc := net.ListenConfig{Control: em.controlOpts(false)}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return 0, nil, err
	}
	return FamilyInet4, pc, nil
}

// listenTCP binds a TCP rendezvous socket for port, following the same
// IPv6-first-then-IPv4 rule as listenUDP.
func (em *EndpointManager) listenTCP(port int) (Family, net.Listener, error) {
	if !em.v6Disabled.Load() {
		lc := net.ListenConfig{Control: em.controlOpts(true)}
		ln, err := lc.Listen(context.Background(), "tcp6", fmt.Sprintf(":%d", port))
		if err == nil {
			return FamilyInet6, ln, nil
		}
		if !isEAFNoSupport(err) {
			return 0, nil, err
		}
		em.v6Disabled.Store(true)
		logger.Warn("AF_INET6 not supported, falling back to AF_INET for all further allocations")
	}

	lc := net.ListenConfig{Control: em.controlOpts(true)}
	ln, err := lc.Listen(context.Background(), "tcp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return 0, nil, err
	}
	return FamilyInet4, ln, nil
}

// allocateVSock binds the optional vsock listener on VMADDR_CID_ANY
// (§4.1). A bind failure here is non-fatal: warn and continue.
func (em *EndpointManager) allocateVSock() {
	ln, err := vsock.ListenContextID(vsock.ContextIDAny, uint32(em.cfg.NFSPort), nil)
	if err != nil {
		logger.Warn("vsock bind failed, continuing without vsock transport", "error", err)
		return
	}

	em.mu.Lock()
	ep, ok := em.endpoints[ProtoNFS]
	if !ok {
		ep = &Endpoint{Protocol: ProtoNFS, Family: FamilyVSock}
		em.endpoints[ProtoNFS] = ep
	}
	ep.VSock = ln
	em.mu.Unlock()
}

func isEAFNoSupport(err error) bool {
	return errors.Is(err, unix.EAFNOSUPPORT)
}

// Endpoints returns the currently allocated endpoints, keyed by
// protocol. Intended for the registry to build transports from (§4.1
// "create_transports").
func (em *EndpointManager) Endpoints() map[Protocol]*Endpoint {
	em.mu.Lock()
	defer em.mu.Unlock()
	out := make(map[Protocol]*Endpoint, len(em.endpoints))
	for k, v := range em.endpoints {
		out[k] = v
	}
	return out
}

// CloseAll unregisters from portmap (performed by the caller before this
// is invoked, per §4.1's ordering) and closes every non-nil socket.
// Refcounting and channel shutdown handle transport teardown; CloseAll
// only owns the raw fds.
func (em *EndpointManager) CloseAll() {
	em.mu.Lock()
	defer em.mu.Unlock()

	for proto, ep := range em.endpoints {
		if ep.TCP != nil {
			if err := ep.TCP.Close(); err != nil {
				logger.Warn("error closing TCP listener", "protocol", proto, "error", err)
			}
		}
		if ep.UDP != nil {
			if err := ep.UDP.Close(); err != nil {
				logger.Warn("error closing UDP socket", "protocol", proto, "error", err)
			}
		}
		if ep.VSock != nil {
			if err := ep.VSock.Close(); err != nil {
				logger.Warn("error closing vsock listener", "protocol", proto, "error", err)
			}
		}
	}
	em.endpoints = make(map[Protocol]*Endpoint)
}
