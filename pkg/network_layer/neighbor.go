package network_layer

import (
	"net/netip"
	"time"

	"github.com/pkg/errors"

	"team21/dvrouter/pkg/common"
)

var (
	ErrTooManyNeighbors  = errors.New("neighbor table full")
	ErrDuplicateNeighbor = errors.New("duplicate neighbor")
	ErrUnknownNeighbor   = errors.New("unknown neighbor")
)

type Neighbor struct {
	Addr      netip.Addr
	CtrlPort  uint16
	Cost      uint16
	LastHeard time.Time
	Alive     bool
}

func (nb *Neighbor) CtrlAddr() netip.AddrPort {
	return netip.AddrPortFrom(nb.Addr, nb.CtrlPort)
}

func (nb *Neighbor) DataAddr() netip.AddrPort {
	return netip.AddrPortFrom(nb.Addr, common.DataPort(nb.CtrlPort))
}

// NeighborTable holds at most common.MaxNeighbors peers keyed by (addr, port).
type NeighborTable struct {
	neighbors []Neighbor
}

func NewNeighborTable() *NeighborTable {
	return &NeighborTable{neighbors: make([]Neighbor, 0, common.MaxNeighbors)}
}

func (t *NeighborTable) Add(nb Neighbor) error {
	if t.Find(nb.CtrlAddr()) != nil {
		return errors.Wrapf(ErrDuplicateNeighbor, "%s", nb.CtrlAddr())
	}
	if len(t.neighbors) >= common.MaxNeighbors {
		return errors.Wrapf(ErrTooManyNeighbors, "adding %s", nb.CtrlAddr())
	}
	t.neighbors = append(t.neighbors, nb)
	return nil
}

func (t *NeighborTable) Find(addr netip.AddrPort) *Neighbor {
	for i := range t.neighbors {
		if t.neighbors[i].CtrlAddr() == addr {
			return &t.neighbors[i]
		}
	}
	return nil
}

// FindSource maps the source of a control datagram to a neighbor. Routers
// that share a host bind the wildcard address, so loopback datagrams arrive
// from 127.0.0.1 rather than the configured neighbor address; for those the
// control port alone identifies the peer if it is unambiguous.
func (t *NeighborTable) FindSource(src netip.AddrPort) *Neighbor {
	src = netip.AddrPortFrom(src.Addr().Unmap(), src.Port())
	if nb := t.Find(src); nb != nil {
		return nb
	}
	if !src.Addr().IsLoopback() {
		return nil
	}
	var match *Neighbor
	for i := range t.neighbors {
		if t.neighbors[i].CtrlPort != src.Port() {
			continue
		}
		if match != nil {
			return nil
		}
		match = &t.neighbors[i]
	}
	return match
}

// ByAddr returns the first neighbor with the given address.
func (t *NeighborTable) ByAddr(addr netip.Addr) *Neighbor {
	for i := range t.neighbors {
		if t.neighbors[i].Addr == addr {
			return &t.neighbors[i]
		}
	}
	return nil
}

func (t *NeighborTable) Len() int {
	return len(t.neighbors)
}

func (t *NeighborTable) All() []Neighbor {
	return append([]Neighbor(nil), t.neighbors...)
}

// CheckNeighbors marks every alive neighbor not heard from for
// DeadInterval as dead and poisons the routes it taught. It returns
// the neighbors that died.
func (n *NetworkLayer) CheckNeighbors(now time.Time) []Neighbor {
	var dead []Neighbor
	for i := range n.Neighbors.neighbors {
		nb := &n.Neighbors.neighbors[i]
		if !nb.Alive || now.Sub(nb.LastHeard) < n.DeadInterval {
			continue
		}
		nb.Alive = false
		n.poisonVia(nb.Addr, now)
		dead = append(dead, *nb)
	}
	return dead
}

func (n *NetworkLayer) poisonVia(nextHop netip.Addr, now time.Time) {
	for i := range n.Routes.entries {
		e := &n.Routes.entries[i]
		if e.IsConnected() || e.NextHop != nextHop {
			continue
		}
		e.Cost = common.Infinite
		e.LastUpdate = now
	}
}
