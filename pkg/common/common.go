package common

import (
	"encoding/binary"
	"math/bits"
	"net/netip"
	"time"

	"github.com/google/netstack/tcpip"
)

const (
	MaxNeighbors   = 16
	MaxRoutes      = 128
	MaxPayload     = 128
	MessageSize    = 1500
	Infinite       = 65535
	DataPortOffset = 1000

	UpdateInterval = 5 * time.Second
	DeadInterval   = 15 * time.Second
	WaitInterval   = 1 * time.Second
)

// Message types carried in the first byte of every datagram.
const (
	MsgDV   uint8 = 2
	MsgData uint8 = 3
)

// DataPort is the port a router receives data packets on.
func DataPort(ctrlPort uint16) uint16 {
	return ctrlPort + DataPortOffset
}

// SatAdd adds two costs, saturating at Infinite.
func SatAdd(a, b uint16) uint16 {
	if a == Infinite || b == Infinite {
		return Infinite
	}
	sum := uint32(a) + uint32(b)
	if sum >= Infinite {
		return Infinite
	}
	return uint16(sum)
}

func IpToUint32(ip netip.Addr) uint32 {
	if !ip.Is4() && !ip.Is4In6() {
		return 0
	}
	ipBytes := ip.Unmap().As4()
	return binary.BigEndian.Uint32(ipBytes[:])
}

func Uint32ToIp(address uint32) netip.Addr {
	var ipBytes [4]byte
	binary.BigEndian.PutUint32(ipBytes[:], address)
	return netip.AddrFrom4(ipBytes)
}

// IpToTcpip converts an IPv4 address into netstack's 4-byte form. Anything
// that is not IPv4 becomes 0.0.0.0.
func IpToTcpip(ip netip.Addr) tcpip.Address {
	var ipBytes [4]byte
	binary.BigEndian.PutUint32(ipBytes[:], IpToUint32(ip))
	return tcpip.Address(ipBytes[:])
}

func PrefixToMask(bits int) uint32 {
	if bits <= 0 {
		return 0
	}
	return ^uint32(0) << (32 - bits)
}

// Uint32ToPrefix converts a network/mask pair into a prefix. Non-contiguous
// masks are approximated by their population count.
func Uint32ToPrefix(address uint32, mask uint32) netip.Prefix {
	ip := Uint32ToIp(address & mask)
	return netip.PrefixFrom(ip, bits.OnesCount32(mask))
}

// IsUnspecified reports whether ip is absent or 0.0.0.0, the "no next hop" value.
func IsUnspecified(ip netip.Addr) bool {
	return !ip.IsValid() || IpToUint32(ip) == 0
}

// LinkLayerAPI is how the network layer puts bytes on the wire. Both sends
// are fire-and-forget UDP datagrams.
type LinkLayerAPI interface {
	SendControl(dst netip.AddrPort, b []byte) error
	SendData(dst netip.AddrPort, b []byte) error
}
