// Package console prints the router's protocol events in the fixed,
// router-id-prefixed line format other tooling greps for.
package console

import (
	"fmt"
	"io"
	"net/netip"
)

// Snapshot reasons.
const (
	ReasonInit         = "init"
	ReasonDVUpdate     = "dv-update"
	ReasonNeighborDead = "neighbor-dead"
)

type Row struct {
	Network netip.Addr
	Mask    netip.Addr
	NextHop netip.Addr
	Cost    uint16
}

type Console struct {
	out io.Writer
	id  uint16
}

func New(out io.Writer, routerId uint16) *Console {
	return &Console{out: out, id: routerId}
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, "[R%d] "+format+"\n", append([]any{c.id}, args...)...)
}

func ipstr(ip netip.Addr) string {
	if !ip.IsValid() {
		return "0.0.0.0"
	}
	return ip.String()
}

func (c *Console) Table(reason string, rows []Row) {
	c.printf("ROUTES (%s):", reason)
	fmt.Fprintf(c.out, "  %-15s %-15s %-15s %-5s\n", "network", "mask", "next_hop", "cost")
	for _, r := range rows {
		fmt.Fprintf(c.out, "  %-15s %-15s %-15s %-5d\n", ipstr(r.Network), ipstr(r.Mask), ipstr(r.NextHop), r.Cost)
	}
}

func (c *Console) Forward(dst, via netip.Addr, cost uint16, ttl uint8) {
	c.printf("FWD dst=%s via=%s cost=%d ttl=%d", ipstr(dst), ipstr(via), cost, ttl)
}

func (c *Console) DeliverSelf(src netip.Addr, ttl uint8, payload []byte) {
	c.printf("DELIVER self src=%s ttl=%d payload=\"%s\"", ipstr(src), ttl, payload)
}

func (c *Console) DeliverConnected(dst netip.Addr, payload []byte) {
	c.printf("DELIVER connected dst=%s payload=\"%s\"", ipstr(dst), payload)
}

func (c *Console) DropTTL() {
	c.printf("DROP ttl=0")
}

func (c *Console) NextHopDown(nextHop netip.Addr) {
	c.printf("NEXT HOP DOWN %s", ipstr(nextHop))
}

func (c *Console) NoMatch(dst netip.Addr) {
	c.printf("NO MATCH dst=%s", ipstr(dst))
}

func (c *Console) Shutdown() {
	c.printf("shutdown")
}
