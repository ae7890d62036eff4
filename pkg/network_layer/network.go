package network_layer

import (
	"net/netip"
	"time"

	"github.com/google/netstack/tcpip"
	"github.com/pkg/errors"

	"team21/dvrouter/pkg/common"
	"team21/dvrouter/pkg/console"
	"team21/dvrouter/pkg/lnxconfig"
)

var ErrTableFull = errors.New("route table full")

type RouteEntry struct {
	Network    netip.Addr
	Mask       netip.Addr
	NextHop    netip.Addr // 0.0.0.0 when directly connected
	Iface      string
	Cost       uint16
	LastUpdate time.Time
}

// Subnet returns the destination covered by the entry. Host bits set in
// Network are cleared first.
func (e *RouteEntry) Subnet() (tcpip.Subnet, error) {
	mask := common.IpToUint32(e.Mask)
	network := common.Uint32ToIp(common.IpToUint32(e.Network) & mask)
	return tcpip.NewSubnet(common.IpToTcpip(network), tcpip.AddressMask(common.IpToTcpip(e.Mask)))
}

func (e *RouteEntry) Contains(dst netip.Addr) bool {
	subnet, err := e.Subnet()
	if err != nil {
		return false
	}
	return subnet.Contains(common.IpToTcpip(dst))
}

func (e *RouteEntry) IsConnected() bool {
	return common.IsUnspecified(e.NextHop)
}

// RouteTable holds at most common.MaxRoutes entries keyed by (network, mask).
// Entries are never removed, so table order is insertion order.
type RouteTable struct {
	entries []RouteEntry
}

func NewRouteTable() *RouteTable {
	return &RouteTable{entries: make([]RouteEntry, 0, common.MaxRoutes)}
}

func (t *RouteTable) Find(network, mask netip.Addr) *RouteEntry {
	for i := range t.entries {
		if t.entries[i].Network == network && t.entries[i].Mask == mask {
			return &t.entries[i]
		}
	}
	return nil
}

// FindOrAdd returns the entry for (network, mask), creating an unreachable one
// if none exists.
func (t *RouteTable) FindOrAdd(network, mask netip.Addr, now time.Time) (*RouteEntry, error) {
	if e := t.Find(network, mask); e != nil {
		return e, nil
	}
	if len(t.entries) >= common.MaxRoutes {
		return nil, ErrTableFull
	}
	t.entries = append(t.entries, RouteEntry{
		Network:    network,
		Mask:       mask,
		NextHop:    netip.IPv4Unspecified(),
		Cost:       common.Infinite,
		LastUpdate: now,
	})
	return &t.entries[len(t.entries)-1], nil
}

// Lookup performs a longest prefix match. The numerically greatest mask wins
// rather than the subnet prefix length, which stops at the first zero bit of a
// non-contiguous mask. On equal masks the earliest entry is kept.
func (t *RouteTable) Lookup(dst netip.Addr) *RouteEntry {
	var best *RouteEntry
	var bestMask uint32
	for i := range t.entries {
		e := &t.entries[i]
		if !e.Contains(dst) {
			continue
		}
		mask := common.IpToUint32(e.Mask)
		if best == nil || mask > bestMask {
			best = e
			bestMask = mask
		}
	}
	return best
}

func (t *RouteTable) Len() int {
	return len(t.entries)
}

// Entries returns a copy of the table in order.
func (t *RouteTable) Entries() []RouteEntry {
	return append([]RouteEntry(nil), t.entries...)
}

type NetworkLayer struct {
	linkLayer common.LinkLayerAPI

	RouterId uint16
	SelfIp   netip.Addr
	CtrlPort uint16

	Routes    *RouteTable
	Neighbors *NeighborTable

	// DeadInterval is how long a neighbor may stay silent before it is
	// declared dead.
	DeadInterval time.Duration
}

func NewNetworkLayer(linkLayer common.LinkLayerAPI) *NetworkLayer {
	return &NetworkLayer{
		linkLayer:    linkLayer,
		Routes:       NewRouteTable(),
		Neighbors:    NewNeighborTable(),
		DeadInterval: common.DeadInterval,
	}
}

func (n *NetworkLayer) SetLinkLayerApi(linkLayer common.LinkLayerAPI) {
	n.linkLayer = linkLayer
}

// Initialize loads identity, configured routes and neighbors. Every neighbor
// starts alive with last heard set to now.
func (n *NetworkLayer) Initialize(cfg *lnxconfig.RouterConfig, now time.Time) error {
	n.RouterId = cfg.RouterId
	n.SelfIp = cfg.SelfIp
	n.CtrlPort = cfg.ListenPort

	for _, route := range cfg.Routes {
		entry, err := n.Routes.FindOrAdd(route.Network, route.Mask, now)
		if err != nil {
			return errors.Wrapf(err, "route %s/%s", route.Network, route.Mask)
		}
		entry.NextHop = route.NextHop
		entry.Iface = route.Iface
		entry.Cost = 1
		if common.IsUnspecified(route.NextHop) {
			entry.NextHop = netip.IPv4Unspecified()
			entry.Cost = 0
		}
		entry.LastUpdate = now
	}

	for _, neighbor := range cfg.Neighbors {
		err := n.Neighbors.Add(Neighbor{
			Addr:      neighbor.Addr,
			CtrlPort:  neighbor.CtrlPort,
			Cost:      neighbor.Cost,
			LastHeard: now,
			Alive:     true,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Snapshot returns the table in the form printed on the console.
func (n *NetworkLayer) Snapshot() []console.Row {
	rows := make([]console.Row, 0, n.Routes.Len())
	for _, e := range n.Routes.entries {
		rows = append(rows, console.Row{Network: e.Network, Mask: e.Mask, NextHop: e.NextHop, Cost: e.Cost})
	}
	return rows
}
