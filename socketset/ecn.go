package socketset

import (
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// enableECNv4/enableECNv6 set the socket's outgoing TOS/TrafficClass to
// Not-ECT. The received ECN codepoint is reported through the TOS/
// TrafficClass control message requested in SetControlMessage, not by these
// calls. Per-datagram ECN marking is left at ECNNotECT; an engine that wants to
// mark CE/ECT on send would set per-message TOS on the ipv4/ipv6
// ControlMessage, which this package does not currently expose — no
// component in this module needs to send a non-default codepoint.
const ecnNotECT = 0

func enableECNv4(p4 *ipv4.PacketConn) error {
	return p4.SetTOS(ecnNotECT)
}

func enableECNv6(p6 *ipv6.PacketConn) error {
	return p6.SetTrafficClass(ecnNotECT)
}
