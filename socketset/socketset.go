// Package socketset manages the ordered set of UDP sockets a packet loop
// drives (spec §4.1, component C1). Each entry enables ECN and packet-info
// ancillary data so package waiter can recover the arrival destination
// address, interface index, and ECN codepoint of every datagram.
//
// The "create new, swap, close old" rebind idiom used by Replace is the
// same shape as the teacher's MigratableUDP.Rebind: a concurrent reader
// blocked in ReadFrom on the old socket must not be the thing that panics
// or corrupts state when the socket disappears underneath it — we always
// open the replacement before touching the original.
package socketset

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/quicsockloop/loop/internal/xlog"
)

// Family is the address family of a socket set entry.
type Family int

const (
	FamilyUnspec Family = iota
	FamilyInet
	FamilyInet6
)

func (f Family) network() string {
	switch f {
	case FamilyInet:
		return "udp4"
	case FamilyInet6:
		return "udp6"
	default:
		return "udp"
	}
}

func (f Family) String() string {
	switch f {
	case FamilyInet:
		return "inet"
	case FamilyInet6:
		return "inet6"
	default:
		return "unspec"
	}
}

// FamilyOf classifies a net.Addr's family.
func FamilyOf(addr net.Addr) Family {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return FamilyUnspec
	}
	if ip.To4() != nil {
		return FamilyInet
	}
	return FamilyInet6
}

// Max is the largest number of sockets a Set will ever hold (spec §3:
// SOCKETS_MAX, at least 3 — rank 0 is the home port, ranks 1+ are
// migration-test sockets).
const Max = 4

var ErrFull = errors.New("socketset: set is full")
var ErrInvalidRank = errors.New("socketset: invalid rank")

type entry struct {
	family Family
	udp    *net.UDPConn
	p4     *ipv4.PacketConn
	p6     *ipv6.PacketConn
	valid  bool
	id     uint64
}

var nextEntryID uint64

func newEntryID() uint64 {
	return atomic.AddUint64(&nextEntryID, 1)
}

// Set is the ordered sequence of UDP sockets a loop instance owns. It is
// never shared across loop instances/goroutines; dual-engine mode gives the
// primary and the backup each their own Set.
type Set struct {
	entries []*entry
}

// Open builds a new Set. If family is FamilyUnspec it opens exactly two
// sockets (AF_INET then AF_INET6); otherwise it opens exactly one. Any
// failure partway through rolls back every socket already opened *in this
// call* and returns a nil Set (spec §4.1, and the source bug noted in §9.5:
// the rollback below closes indices 0..i-1, every socket opened before the
// failing one, not a single fixed index).
func Open(localPort int, family Family) (*Set, error) {
	var families []Family
	if family == FamilyUnspec {
		families = []Family{FamilyInet, FamilyInet6}
	} else {
		families = []Family{family}
	}

	s := &Set{}
	for i, fam := range families {
		e, err := open(fam, localPort)
		if err != nil {
			for j := 0; j <= i-1; j++ {
				_ = closeEntry(s.entries[j])
			}
			return nil, fmt.Errorf("socketset: open %s port %d: %w", fam, localPort, err)
		}
		s.entries = append(s.entries, e)
	}
	return s, nil
}

func open(fam Family, localPort int) (*entry, error) {
	var laddr *net.UDPAddr
	switch fam {
	case FamilyInet:
		laddr = &net.UDPAddr{IP: net.IPv4zero, Port: localPort}
	case FamilyInet6:
		laddr = &net.UDPAddr{IP: net.IPv6zero, Port: localPort}
	default:
		laddr = &net.UDPAddr{Port: localPort}
	}

	conn, err := net.ListenUDP(fam.network(), laddr)
	if err != nil {
		return nil, err
	}

	e := &entry{family: fam, udp: conn, valid: true, id: newEntryID()}
	switch fam {
	case FamilyInet:
		p4 := ipv4.NewPacketConn(conn)
		if err := p4.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface|ipv4.FlagTOS, true); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("enable pktinfo: %w", err)
		}
		if err := enableECNv4(p4); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("enable ecn: %w", err)
		}
		e.p4 = p4
	case FamilyInet6:
		p6 := ipv6.NewPacketConn(conn)
		if err := p6.SetControlMessage(ipv6.FlagDst|ipv6.FlagInterface|ipv6.FlagTrafficClass, true); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("enable pktinfo: %w", err)
		}
		if err := enableECNv6(p6); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("enable ecn: %w", err)
		}
		e.p6 = p6
	}
	return e, nil
}

func closeEntry(e *entry) error {
	if e == nil || !e.valid {
		return nil
	}
	e.valid = false
	return e.udp.Close()
}

// Close closes every non-sentinel entry and marks each invalid. Safe to
// call more than once.
func (s *Set) Close() error {
	var first error
	for _, e := range s.entries {
		if err := closeEntry(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Len reports how many entries (valid or sentinel) the set holds.
func (s *Set) Len() int { return len(s.entries) }

// Family reports the address family of the entry at rank.
func (s *Set) Family(rank int) (Family, error) {
	if rank < 0 || rank >= len(s.entries) {
		return FamilyUnspec, ErrInvalidRank
	}
	return s.entries[rank].family, nil
}

// EntryID identifies the underlying socket at rank. It changes whenever
// Replace swaps in a new socket at that rank, letting a caller (package
// waiter) detect that a previously-started reader goroutine for this rank
// is now reading a stale, about-to-be-closed socket. ok is false if rank is
// out of range or the entry is a sentinel.
func (s *Set) EntryID(rank int) (id uint64, ok bool) {
	if rank < 0 || rank >= len(s.entries) {
		return 0, false
	}
	e := s.entries[rank]
	if !e.valid {
		return 0, false
	}
	return e.id, true
}

// LocalAddr returns the bound local address of the entry at rank.
func (s *Set) LocalAddr(rank int) (net.Addr, error) {
	if rank < 0 || rank >= len(s.entries) {
		return nil, ErrInvalidRank
	}
	e := s.entries[rank]
	if !e.valid {
		return nil, fmt.Errorf("socketset: rank %d is a sentinel", rank)
	}
	return e.udp.LocalAddr(), nil
}

// SelectSendSocket performs the linear scan of spec §4.1: the first socket
// whose family matches peerFamily. ok is false if none matches, meaning the
// caller must treat the datagram as undeliverable.
func (s *Set) SelectSendSocket(peerFamily Family) (rank int, ok bool) {
	for i, e := range s.entries {
		if e.valid && e.family == peerFamily {
			return i, true
		}
	}
	return -1, false
}

// ReadWithAncillary reads one datagram off rank, recovering the arrival
// destination address, interface index, and ECN codepoint via per-family
// ancillary (control message) data (spec §4.2).
func (s *Set) ReadWithAncillary(rank int, buf []byte) (n int, from net.Addr, to net.Addr, ifIndex int, ecnCP int, err error) {
	if rank < 0 || rank >= len(s.entries) {
		return 0, nil, nil, 0, 0, ErrInvalidRank
	}
	e := s.entries[rank]
	if !e.valid {
		return 0, nil, nil, 0, 0, fmt.Errorf("socketset: rank %d is a sentinel", rank)
	}

	switch e.family {
	case FamilyInet:
		var cm *ipv4.ControlMessage
		var src net.Addr
		var rerr error
		n, cm, src, rerr = e.p4.ReadFrom(buf)
		if rerr != nil {
			return 0, nil, nil, 0, 0, rerr
		}
		from = src
		if cm != nil {
			if cm.Dst != nil {
				to = &net.UDPAddr{IP: cm.Dst, Port: localPortOf(e.udp)}
			}
			ifIndex = cm.IfIndex
			ecnCP = cm.TOS & 0x3
		}
	case FamilyInet6:
		var cm *ipv6.ControlMessage
		var src net.Addr
		var rerr error
		n, cm, src, rerr = e.p6.ReadFrom(buf)
		if rerr != nil {
			return 0, nil, nil, 0, 0, rerr
		}
		from = src
		if cm != nil {
			if cm.Dst != nil {
				to = &net.UDPAddr{IP: cm.Dst, Port: localPortOf(e.udp)}
			}
			ifIndex = cm.IfIndex
			ecnCP = cm.TrafficClass & 0x3
		}
	default:
		return 0, nil, nil, 0, 0, fmt.Errorf("socketset: rank %d has unset family", rank)
	}
	if to == nil {
		to = e.udp.LocalAddr()
	}
	return n, from, to, ifIndex, ecnCP, nil
}

func localPortOf(c *net.UDPConn) int {
	if a, ok := c.LocalAddr().(*net.UDPAddr); ok {
		return a.Port
	}
	return 0
}

// WriteTo writes one datagram via rank.
func (s *Set) WriteTo(rank int, buf []byte, to net.Addr) (int, error) {
	if rank < 0 || rank >= len(s.entries) {
		return 0, ErrInvalidRank
	}
	e := s.entries[rank]
	if !e.valid {
		return 0, fmt.Errorf("socketset: rank %d is a sentinel", rank)
	}
	return e.udp.WriteTo(buf, to)
}

// Replace swaps the socket at rank for a freshly bound one on the same
// family, closing the old socket only after the new one is live (spec §4.5
// SIMULATE_NAT). The returned local port is the new ephemeral port.
func (s *Set) Replace(rank int, localPort int) (newPort int, err error) {
	if rank < 0 || rank >= len(s.entries) {
		return 0, ErrInvalidRank
	}
	old := s.entries[rank]
	fresh, err := open(old.family, localPort)
	if err != nil {
		return 0, err
	}
	s.entries[rank] = fresh
	if cerr := closeEntry(old); cerr != nil {
		xlog.For("socketset").WithError(cerr).Warn("close old socket after replace")
	}
	return localPortOf(fresh.udp), nil
}

// Append opens one new socket on localPort (same family as fam) and adds it
// to the set, for spec §4.5 SIMULATE_MIGRATION. ok is false if the set is
// already at Max capacity.
func (s *Set) Append(fam Family, localPort int) (rank int, ok bool, err error) {
	if len(s.entries) >= Max {
		return -1, false, nil
	}
	e, err := open(fam, localPort)
	if err != nil {
		return -1, false, err
	}
	s.entries = append(s.entries, e)
	return len(s.entries) - 1, true, nil
}
