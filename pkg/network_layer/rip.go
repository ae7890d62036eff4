package network_layer

import (
	stderrors "errors"
	"net/netip"
	"time"

	"github.com/pkg/errors"

	"team21/dvrouter/pkg/common"
)

// UpdateFwdTable applies a distance vector received from src. It reports
// whether any route changed value. Advertisements from addresses that are not
// configured neighbors return ErrUnknownNeighbor and change nothing.
func (n *NetworkLayer) UpdateFwdTable(msg *common.DVMessage, src netip.AddrPort, now time.Time) (bool, error) {
	nb := n.Neighbors.FindSource(src)
	if nb == nil {
		return false, errors.Wrapf(ErrUnknownNeighbor, "dv from %s", src)
	}
	nb.Alive = true
	nb.LastHeard = now

	changed := false
	for _, adv := range msg.Entries {
		candidate := common.SatAdd(nb.Cost, adv.Cost)

		entry := n.Routes.Find(adv.Network, adv.Mask)
		if entry == nil {
			// nothing to learn from an unreachable destination we never had
			if candidate == common.Infinite {
				continue
			}
			var err error
			entry, err = n.Routes.FindOrAdd(adv.Network, adv.Mask, now)
			if err != nil {
				continue
			}
		}

		switch {
		case entry.NextHop == nb.Addr:
			// the current next hop is authoritative, even when it got worse
			if entry.Cost != candidate {
				entry.Cost = candidate
				changed = true
			}
			entry.LastUpdate = now
		case candidate < entry.Cost:
			entry.Cost = candidate
			entry.NextHop = nb.Addr
			entry.LastUpdate = now
			changed = true
		}
	}
	return changed, nil
}

// BuildAdvertisement builds the vector sent to nb. Routes learned through nb
// are advertised back to it with infinite cost.
func (n *NetworkLayer) BuildAdvertisement(nb *Neighbor) *common.DVMessage {
	msg := &common.DVMessage{
		SenderId: n.RouterId,
		Entries:  make([]common.DVEntry, 0, n.Routes.Len()),
	}
	for _, e := range n.Routes.entries {
		cost := e.Cost
		if !e.IsConnected() && e.NextHop == nb.Addr {
			cost = common.Infinite
		}
		msg.Entries = append(msg.Entries, common.DVEntry{Network: e.Network, Mask: e.Mask, Cost: cost})
	}
	return msg
}

// AdvertiseNeighbors sends a distance vector to every alive neighbor. Send
// failures do not stop the broadcast; they are returned joined.
func (n *NetworkLayer) AdvertiseNeighbors() error {
	var errs []error
	for i := range n.Neighbors.neighbors {
		nb := &n.Neighbors.neighbors[i]
		if !nb.Alive {
			continue
		}
		b, err := n.BuildAdvertisement(nb).MarshalBinary()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := n.linkLayer.SendControl(nb.CtrlAddr(), b); err != nil {
			errs = append(errs, errors.Wrapf(err, "dv to %s", nb.CtrlAddr()))
		}
	}
	return stderrors.Join(errs...)
}
