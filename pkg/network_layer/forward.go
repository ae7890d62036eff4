package network_layer

import (
	"net/netip"

	"github.com/pkg/errors"

	"team21/dvrouter/pkg/common"
)

type VerdictKind int

const (
	VerdictForward VerdictKind = iota
	VerdictDeliverSelf
	VerdictDeliverConnected
	VerdictDropTTL
	VerdictNextHopDown
	VerdictNoMatch
)

func (k VerdictKind) String() string {
	switch k {
	case VerdictForward:
		return "forward"
	case VerdictDeliverSelf:
		return "deliver-self"
	case VerdictDeliverConnected:
		return "deliver-connected"
	case VerdictDropTTL:
		return "drop-ttl"
	case VerdictNextHopDown:
		return "next-hop-down"
	case VerdictNoMatch:
		return "no-match"
	default:
		return "unknown"
	}
}

// Verdict is what the router did with one data packet.
type Verdict struct {
	Kind    VerdictKind
	Src     netip.Addr
	Dst     netip.Addr
	NextHop netip.Addr
	Cost    uint16
	TTL     uint8 // after decrement
	Payload []byte
	Err     error // send failure on forward
}

// ReceiveIpPacket decides the fate of a data packet and, when it is
// forwarded, sends it to the next hop's data port.
func (n *NetworkLayer) ReceiveIpPacket(pkt *common.DataMessage) Verdict {
	v := Verdict{Src: pkt.Src, Dst: pkt.Dst, Payload: pkt.Payload}

	if pkt.TTL == 0 {
		v.Kind = VerdictDropTTL
		return v
	}
	v.TTL = pkt.TTL - 1

	if pkt.Dst == n.SelfIp {
		v.Kind = VerdictDeliverSelf
		return v
	}

	route := n.Routes.Lookup(pkt.Dst)
	if route == nil {
		v.Kind = VerdictNoMatch
		return v
	}

	if route.IsConnected() {
		v.Kind = VerdictDeliverConnected
		return v
	}

	if v.TTL == 0 {
		v.Kind = VerdictDropTTL
		return v
	}

	// a dead next hop is reported ahead of the infinite cost it left behind
	nb := n.Neighbors.ByAddr(route.NextHop)
	if nb == nil || !nb.Alive {
		v.Kind = VerdictNextHopDown
		v.NextHop = route.NextHop
		return v
	}
	if route.Cost == common.Infinite {
		v.Kind = VerdictNoMatch
		return v
	}
	v.NextHop = route.NextHop
	v.Cost = route.Cost

	out := common.DataMessage{TTL: v.TTL, Src: pkt.Src, Dst: pkt.Dst, Payload: pkt.Payload}
	b, err := out.MarshalBinary()
	if err == nil {
		err = n.linkLayer.SendData(nb.DataAddr(), b)
	}
	v.Kind = VerdictForward
	if err != nil {
		v.Err = errors.Wrapf(err, "forward to %s", nb.DataAddr())
	}
	return v
}
