package router

import (
	"context"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"

	"team21/dvrouter/pkg/common"
	"team21/dvrouter/pkg/console"
	"team21/dvrouter/pkg/link_layer"
	"team21/dvrouter/pkg/lnxconfig"
	"team21/dvrouter/pkg/network_layer"
)

// Transport is the socket pair the event loop waits on.
type Transport interface {
	common.LinkLayerAPI
	Control() <-chan link_layer.Datagram
	Data() <-chan link_layer.Datagram
	Close() error
}

type Timers struct {
	Update time.Duration // periodic advertisement
	Dead   time.Duration // neighbor silence before it is declared dead
	Wait   time.Duration // longest the loop sleeps without waking
}

var DefaultTimers = Timers{
	Update: common.UpdateInterval,
	Dead:   common.DeadInterval,
	Wait:   common.WaitInterval,
}

type Options struct {
	// BindIp is the address both sockets bind to; 0.0.0.0 when unset.
	BindIp    netip.Addr
	Out       io.Writer
	Log       *slog.Logger
	Timers    Timers
	Now       func() time.Time
	Transport Transport
}

// Router is one router process: its tables, its sockets and the loop that
// drives them. Everything except the socket receive pumps runs on the
// goroutine that calls Run.
type Router struct {
	network   *network_layer.NetworkLayer
	transport Transport
	console   *console.Console
	log       *slog.Logger
	timers    Timers
	now       func() time.Time
	bindIp    netip.Addr

	// warned maps senders we already complained about to when we did
	warned *ttlcache.Cache[netip.Addr, time.Time]

	nextBroadcast time.Time
}

func New(cfg *lnxconfig.RouterConfig, opts Options) (*Router, error) {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Timers == (Timers{}) {
		opts.Timers = DefaultTimers
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if !opts.BindIp.IsValid() {
		opts.BindIp = netip.IPv4Unspecified()
	}

	network := network_layer.NewNetworkLayer(opts.Transport)
	network.DeadInterval = opts.Timers.Dead
	if err := network.Initialize(cfg, opts.Now()); err != nil {
		return nil, errors.Wrap(err, "initialize network layer")
	}

	return &Router{
		network:   network,
		transport: opts.Transport,
		console:   console.New(opts.Out, cfg.RouterId),
		log:       opts.Log,
		timers:    opts.Timers,
		now:       opts.Now,
		bindIp:    opts.BindIp,
		warned: ttlcache.New[netip.Addr, time.Time](
			ttlcache.WithTTL[netip.Addr, time.Time](opts.Timers.Dead),
			ttlcache.WithCapacity[netip.Addr, time.Time](64),
			ttlcache.WithDisableTouchOnHit[netip.Addr, time.Time](),
		),
	}, nil
}

// Listen binds the control port and the data port (control port + 1000)
// unless a transport was supplied.
func (r *Router) Listen() error {
	if r.transport != nil {
		return nil
	}
	link := link_layer.NewLinkLayer(r.log)
	ctrlPort := r.network.CtrlPort
	err := link.Initialize(
		netip.AddrPortFrom(r.bindIp, ctrlPort),
		netip.AddrPortFrom(r.bindIp, common.DataPort(ctrlPort)),
	)
	if err != nil {
		return err
	}
	r.transport = link
	r.network.SetLinkLayerApi(link)
	return nil
}

// Run prints the initial table and loops until ctx is cancelled, then closes
// the sockets.
func (r *Router) Run(ctx context.Context) error {
	if r.transport == nil {
		return errors.New("router is not listening")
	}
	r.console.Table(console.ReasonInit, r.network.Snapshot())
	r.nextBroadcast = r.now().Add(r.timers.Update)

	wait := time.NewTimer(r.timers.Wait)
	defer wait.Stop()

	for ctx.Err() == nil {
		var ctrl, data *link_layer.Datagram

		wait.Reset(r.timers.Wait)
		select {
		case <-ctx.Done():
			continue
		case d := <-r.transport.Control():
			ctrl = &d
		case d := <-r.transport.Data():
			data = &d
		case <-wait.C:
		}
		if ctrl == nil {
			ctrl = poll(r.transport.Control())
		}
		if data == nil {
			data = poll(r.transport.Data())
		}

		r.step(r.now(), ctrl, data)
	}

	err := r.transport.Close()
	r.console.Shutdown()
	return err
}

func poll(ch <-chan link_layer.Datagram) *link_layer.Datagram {
	select {
	case d := <-ch:
		return &d
	default:
		return nil
	}
}

// step is one loop iteration: broadcast if due, sweep neighbors, then handle
// at most one control and one data datagram.
func (r *Router) step(now time.Time, ctrl, data *link_layer.Datagram) {
	if !now.Before(r.nextBroadcast) {
		if err := r.network.AdvertiseNeighbors(); err != nil {
			r.log.Warn("advertisement failed", "err", err)
		}
		r.nextBroadcast = now.Add(r.timers.Update)
	}

	for _, nb := range r.network.CheckNeighbors(now) {
		r.log.Info("neighbor dead", "neighbor", nb.CtrlAddr(), "silent", now.Sub(nb.LastHeard))
		r.console.Table(console.ReasonNeighborDead, r.network.Snapshot())
	}

	if ctrl != nil {
		r.handleControl(now, *ctrl)
	}
	if data != nil {
		r.handleData(*data)
	}
}

func (r *Router) handleControl(now time.Time, d link_layer.Datagram) {
	var msg common.DVMessage
	if err := msg.UnmarshalBinary(d.Data); err != nil {
		r.log.Debug("dropping control datagram", "src", d.Src, "err", err)
		return
	}

	changed, err := r.network.UpdateFwdTable(&msg, d.Src, now)
	if errors.Is(err, network_layer.ErrUnknownNeighbor) {
		if r.shouldWarn(d.Src.Addr(), now) {
			r.log.Warn("ignoring dv from unknown sender", "src", d.Src, "sender_id", msg.SenderId)
		}
		return
	}
	if err != nil {
		r.log.Warn("dv update failed", "src", d.Src, "err", err)
		return
	}
	if changed {
		r.console.Table(console.ReasonDVUpdate, r.network.Snapshot())
	}
}

// shouldWarn reports whether src has not been warned about within the dead
// interval of now, and records now if so. Cache expiry only bounds memory; the
// interval itself is measured on the router's clock.
func (r *Router) shouldWarn(src netip.Addr, now time.Time) bool {
	if item := r.warned.Get(src); item != nil && now.Sub(item.Value()) < r.timers.Dead {
		return false
	}
	r.warned.Set(src, now, ttlcache.DefaultTTL)
	return true
}

func (r *Router) handleData(d link_layer.Datagram) {
	var pkt common.DataMessage
	if err := pkt.UnmarshalBinary(d.Data); err != nil {
		r.log.Debug("dropping data datagram", "src", d.Src, "err", err)
		return
	}
	r.report(r.network.ReceiveIpPacket(&pkt))
}

func (r *Router) report(v network_layer.Verdict) {
	switch v.Kind {
	case network_layer.VerdictForward:
		if v.Err != nil {
			r.log.Warn("forward failed", "dst", v.Dst, "via", v.NextHop, "err", v.Err)
		}
		r.console.Forward(v.Dst, v.NextHop, v.Cost, v.TTL)
	case network_layer.VerdictDeliverSelf:
		r.console.DeliverSelf(v.Src, v.TTL, v.Payload)
	case network_layer.VerdictDeliverConnected:
		r.console.DeliverConnected(v.Dst, v.Payload)
	case network_layer.VerdictDropTTL:
		r.console.DropTTL()
	case network_layer.VerdictNextHopDown:
		r.console.NextHopDown(v.NextHop)
	case network_layer.VerdictNoMatch:
		r.console.NoMatch(v.Dst)
	}
}
