package network_layer

import (
	"net/netip"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"team21/dvrouter/pkg/common"
	"team21/dvrouter/pkg/lnxconfig"
)

var t0 = time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)

var tableOpts = cmp.Options{
	cmp.Comparer(func(a, b netip.Addr) bool { return a == b }),
	cmpopts.IgnoreFields(RouteEntry{}, "LastUpdate"),
}

type sentPacket struct {
	Dst  netip.AddrPort
	Data []byte
}

type fakeLink struct {
	ctrl []sentPacket
	data []sentPacket
	err  error
}

func (f *fakeLink) SendControl(dst netip.AddrPort, b []byte) error {
	f.ctrl = append(f.ctrl, sentPacket{dst, b})
	return f.err
}

func (f *fakeLink) SendData(dst netip.AddrPort, b []byte) error {
	f.data = append(f.data, sentPacket{dst, b})
	return f.err
}

func ip(s string) netip.Addr {
	return netip.MustParseAddr(s)
}

func route(network, mask, nextHop string, cost uint16) RouteEntry {
	return RouteEntry{Network: ip(network), Mask: ip(mask), NextHop: ip(nextHop), Cost: cost}
}

func newTestLayer(t *testing.T, cfg *lnxconfig.RouterConfig) (*NetworkLayer, *fakeLink) {
	t.Helper()
	link := &fakeLink{}
	n := NewNetworkLayer(link)
	require.NoError(t, n.Initialize(cfg, t0))
	return n, link
}

func r1Config() *lnxconfig.RouterConfig {
	return &lnxconfig.RouterConfig{
		RouterId:   1,
		SelfIp:     ip("127.0.1.1"),
		ListenPort: 12001,
		Routes: []lnxconfig.RouteConfig{
			{Network: ip("192.168.10.0"), Mask: ip("255.255.255.0"), NextHop: ip("0.0.0.0"), Iface: "eth0"},
			{Network: ip("172.16.0.0"), Mask: ip("255.255.0.0"), NextHop: ip("0.0.0.0"), Iface: "eth1"},
		},
		Neighbors: []lnxconfig.NeighborConfig{
			{Addr: ip("127.0.1.2"), CtrlPort: 12002, Cost: 1},
			{Addr: ip("127.0.1.3"), CtrlPort: 12003, Cost: 4},
		},
	}
}

func TestInitializeLoadsConnectedRoutes(t *testing.T) {
	n, _ := newTestLayer(t, r1Config())

	assert.Equal(t, uint16(1), n.RouterId)
	assert.Equal(t, ip("127.0.1.1"), n.SelfIp)
	assert.Equal(t, uint16(12001), n.CtrlPort)

	want := []RouteEntry{
		route("192.168.10.0", "255.255.255.0", "0.0.0.0", 0),
		route("172.16.0.0", "255.255.0.0", "0.0.0.0", 0),
	}
	want[0].Iface = "eth0"
	want[1].Iface = "eth1"
	if diff := cmp.Diff(want, n.Routes.Entries(), tableOpts); diff != "" {
		t.Errorf("routes mismatch (-want +got):\n%s", diff)
	}
	for _, e := range n.Routes.Entries() {
		assert.True(t, e.IsConnected())
	}

	require.Equal(t, 2, n.Neighbors.Len())
	for _, nb := range n.Neighbors.All() {
		assert.True(t, nb.Alive)
		assert.Equal(t, t0, nb.LastHeard)
	}
}

func TestInitializeStaticRoute(t *testing.T) {
	cfg := r1Config()
	cfg.Routes = append(cfg.Routes, lnxconfig.RouteConfig{Network: ip("10.9.0.0"), Mask: ip("255.255.0.0"), NextHop: ip("127.0.1.2")})
	n, _ := newTestLayer(t, cfg)

	e := n.Routes.Find(ip("10.9.0.0"), ip("255.255.0.0"))
	require.NotNil(t, e)
	assert.Equal(t, uint16(1), e.Cost)
	assert.Equal(t, ip("127.0.1.2"), e.NextHop)
	assert.False(t, e.IsConnected())
}

func TestInitializeDuplicateNeighbor(t *testing.T) {
	cfg := r1Config()
	cfg.Neighbors = append(cfg.Neighbors, cfg.Neighbors[0])
	err := NewNetworkLayer(&fakeLink{}).Initialize(cfg, t0)
	assert.ErrorIs(t, err, ErrDuplicateNeighbor)
}

func TestRouteTableCapacity(t *testing.T) {
	rt := NewRouteTable()
	for i := 0; i < common.MaxRoutes; i++ {
		_, err := rt.FindOrAdd(common.Uint32ToIp(uint32(0x0a000000+i<<8)), ip("255.255.255.0"), t0)
		require.NoError(t, err)
	}
	_, err := rt.FindOrAdd(ip("11.0.0.0"), ip("255.0.0.0"), t0)
	assert.ErrorIs(t, err, ErrTableFull)

	// existing keys are still found when full
	e, err := rt.FindOrAdd(ip("10.0.0.0"), ip("255.255.255.0"), t0)
	require.NoError(t, err)
	assert.Equal(t, uint16(common.Infinite), e.Cost)
	assert.Equal(t, common.MaxRoutes, rt.Len())
}

func TestLookupLongestPrefix(t *testing.T) {
	rt := NewRouteTable()
	for _, r := range []RouteEntry{
		route("10.0.0.0", "255.255.0.0", "127.0.1.2", 1),
		route("10.0.0.0", "255.255.255.0", "127.0.1.3", 5),
		route("0.0.0.0", "0.0.0.0", "127.0.1.4", 9),
	} {
		e, err := rt.FindOrAdd(r.Network, r.Mask, t0)
		require.NoError(t, err)
		e.NextHop, e.Cost = r.NextHop, r.Cost
	}

	assert.Equal(t, ip("255.255.255.0"), rt.Lookup(ip("10.0.0.5")).Mask)
	assert.Equal(t, ip("255.255.0.0"), rt.Lookup(ip("10.0.7.5")).Mask)
	assert.Equal(t, ip("0.0.0.0"), rt.Lookup(ip("8.8.8.8")).Mask)
}

func TestLookupEqualMaskKeepsFirst(t *testing.T) {
	rt := NewRouteTable()
	first, err := rt.FindOrAdd(ip("10.0.0.0"), ip("255.255.255.0"), t0)
	require.NoError(t, err)
	// host bits set in the network field still match under the mask
	_, err = rt.FindOrAdd(ip("10.0.0.128"), ip("255.255.255.0"), t0)
	require.NoError(t, err)

	assert.Same(t, first, rt.Lookup(ip("10.0.0.5")))
	assert.Nil(t, rt.Lookup(ip("10.0.1.5")))
}

func TestRouteEntrySubnet(t *testing.T) {
	e := route("10.0.30.77", "255.255.255.0", "127.0.1.2", 2)
	subnet, err := e.Subnet()
	require.NoError(t, err)
	assert.Equal(t, common.IpToTcpip(ip("10.0.30.0")), subnet.ID())
	assert.Equal(t, 24, subnet.Prefix())
	assert.True(t, e.Contains(ip("10.0.30.200")))
	assert.False(t, e.Contains(ip("10.0.31.1")))

	// non-contiguous masks still match bit by bit
	odd := route("10.0.0.5", "255.0.0.255", "127.0.1.2", 2)
	assert.True(t, odd.Contains(ip("10.99.12.5")))
	assert.False(t, odd.Contains(ip("10.0.0.6")))
}

func TestLookupNonContiguousMask(t *testing.T) {
	rt := NewRouteTable()
	for _, r := range []RouteEntry{
		route("10.0.0.0", "255.0.0.0", "127.0.1.2", 1),
		route("10.0.0.5", "255.0.0.255", "127.0.1.3", 1),
	} {
		e, err := rt.FindOrAdd(r.Network, r.Mask, t0)
		require.NoError(t, err)
		e.NextHop, e.Cost = r.NextHop, r.Cost
	}

	// both have an 8 bit prefix; the numerically greater mask wins
	assert.Equal(t, ip("127.0.1.3"), rt.Lookup(ip("10.1.2.5")).NextHop)
	assert.Equal(t, ip("127.0.1.2"), rt.Lookup(ip("10.1.2.6")).NextHop)
}

func TestCheckNeighborsPoisonsRoutes(t *testing.T) {
	n, _ := newTestLayer(t, r1Config())
	changed, err := n.UpdateFwdTable(&common.DVMessage{SenderId: 2, Entries: []common.DVEntry{
		{Network: ip("10.0.20.0"), Mask: ip("255.255.255.0"), Cost: 0},
		{Network: ip("10.0.30.0"), Mask: ip("255.255.255.0"), Cost: 1},
	}}, netip.MustParseAddrPort("127.0.1.2:12002"), t0.Add(2*time.Second))
	require.NoError(t, err)
	require.True(t, changed)

	// 127.0.1.3 was last heard at t0, 127.0.1.2 at t0+2s
	assert.Empty(t, n.CheckNeighbors(t0.Add(14*time.Second)))

	dead := n.CheckNeighbors(t0.Add(15 * time.Second))
	require.Len(t, dead, 1)
	assert.Equal(t, ip("127.0.1.3"), dead[0].Addr)
	assert.Equal(t, uint16(2), n.Routes.Find(ip("10.0.30.0"), ip("255.255.255.0")).Cost)

	dead = n.CheckNeighbors(t0.Add(17 * time.Second))
	require.Len(t, dead, 1)
	assert.Equal(t, ip("127.0.1.2"), dead[0].Addr)

	want := []RouteEntry{
		route("192.168.10.0", "255.255.255.0", "0.0.0.0", 0),
		route("172.16.0.0", "255.255.0.0", "0.0.0.0", 0),
		route("10.0.20.0", "255.255.255.0", "127.0.1.2", common.Infinite),
		route("10.0.30.0", "255.255.255.0", "127.0.1.2", common.Infinite),
	}
	want[0].Iface = "eth0"
	want[1].Iface = "eth1"
	if diff := cmp.Diff(want, n.Routes.Entries(), tableOpts); diff != "" {
		t.Errorf("routes mismatch (-want +got):\n%s", diff)
	}
	for _, e := range n.Routes.Entries()[2:] {
		assert.Equal(t, t0.Add(17*time.Second), e.LastUpdate)
	}

	// a dead neighbor is not reported twice
	assert.Empty(t, n.CheckNeighbors(t0.Add(60*time.Second)))
}

func TestFindSourceLoopbackFallback(t *testing.T) {
	n, _ := newTestLayer(t, r1Config())

	nb := n.Neighbors.FindSource(netip.MustParseAddrPort("127.0.1.3:12003"))
	require.NotNil(t, nb)
	assert.Equal(t, ip("127.0.1.3"), nb.Addr)

	nb = n.Neighbors.FindSource(netip.MustParseAddrPort("127.0.0.1:12002"))
	require.NotNil(t, nb)
	assert.Equal(t, ip("127.0.1.2"), nb.Addr)

	assert.Nil(t, n.Neighbors.FindSource(netip.MustParseAddrPort("10.1.1.1:12002")))
	assert.Nil(t, n.Neighbors.FindSource(netip.MustParseAddrPort("127.0.0.1:12009")))
}
