package link_layer

import (
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/pkg/errors"

	"team21/dvrouter/pkg/common"
)

// queueDepth bounds how many datagrams wait per socket before new ones are
// dropped, the same way a full socket buffer would drop them.
const queueDepth = 64

// readBackoff is the pause after a failed read that did not close the socket.
var readBackoff = 50 * time.Millisecond

type packetReader interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
}

type Datagram struct {
	Src  netip.AddrPort
	Data []byte
}

// LinkLayer owns the control and data sockets. Receive pumps only copy
// datagrams into CtrlIn and DataIn; all handling happens on the reader of
// those channels.
type LinkLayer struct {
	ctrlConn *net.UDPConn
	dataConn *net.UDPConn

	CtrlIn chan Datagram
	DataIn chan Datagram

	log *slog.Logger
	wg  sync.WaitGroup
}

func NewLinkLayer(log *slog.Logger) *LinkLayer {
	if log == nil {
		log = slog.Default()
	}
	return &LinkLayer{
		CtrlIn: make(chan Datagram, queueDepth),
		DataIn: make(chan Datagram, queueDepth),
		log:    log,
	}
}

func listen(addr netip.AddrPort) (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp4", net.UDPAddrFromAddrPort(addr))
	if err != nil {
		return nil, errors.Wrapf(err, "bind %s", addr)
	}
	return conn, nil
}

// Initialize binds both sockets and starts their receive pumps.
func (l *LinkLayer) Initialize(ctrlAddr, dataAddr netip.AddrPort) error {
	var err error
	l.ctrlConn, err = listen(ctrlAddr)
	if err != nil {
		return err
	}
	l.dataConn, err = listen(dataAddr)
	if err != nil {
		l.ctrlConn.Close()
		l.ctrlConn = nil
		return err
	}
	l.log.Debug("sockets bound", "ctrl", l.CtrlAddr(), "data", l.DataAddr())

	l.wg.Add(2)
	go l.pump("ctrl", l.ctrlConn, l.CtrlIn)
	go l.pump("data", l.dataConn, l.DataIn)
	return nil
}

func (l *LinkLayer) pump(name string, conn packetReader, out chan<- Datagram) {
	defer l.wg.Done()
	buffer := make([]byte, common.MessageSize)
	failures := 0
	for {
		bytesRead, sourceAddr, err := conn.ReadFromUDPAddrPort(buffer)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// only the first of a run of failures is worth a warning
			if failures == 0 {
				l.log.Warn("receive failed", "socket", name, "err", err)
			} else {
				l.log.Debug("receive failed", "socket", name, "err", err, "failures", failures+1)
			}
			failures++
			time.Sleep(readBackoff)
			continue
		}
		failures = 0
		d := Datagram{
			Src:  netip.AddrPortFrom(sourceAddr.Addr().Unmap(), sourceAddr.Port()),
			Data: append([]byte(nil), buffer[:bytesRead]...),
		}
		select {
		case out <- d:
		default:
			l.log.Debug("receive queue full, dropping datagram", "socket", name, "src", d.Src)
		}
	}
}

func (l *LinkLayer) Control() <-chan Datagram {
	return l.CtrlIn
}

func (l *LinkLayer) Data() <-chan Datagram {
	return l.DataIn
}

func localAddr(conn *net.UDPConn) netip.AddrPort {
	addr := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
}

func (l *LinkLayer) CtrlAddr() netip.AddrPort {
	return localAddr(l.ctrlConn)
}

func (l *LinkLayer) DataAddr() netip.AddrPort {
	return localAddr(l.dataConn)
}

func (l *LinkLayer) SendControl(dst netip.AddrPort, b []byte) error {
	return l.send(l.ctrlConn, dst, b)
}

func (l *LinkLayer) SendData(dst netip.AddrPort, b []byte) error {
	return l.send(l.dataConn, dst, b)
}

func (l *LinkLayer) send(conn *net.UDPConn, dst netip.AddrPort, b []byte) error {
	bytesWritten, err := conn.WriteToUDPAddrPort(b, dst)
	if err != nil {
		return errors.Wrapf(err, "send to %s", dst)
	}
	l.log.Debug("sent", "dst", dst, "bytes", bytesWritten)
	return nil
}

// Close closes both sockets and waits for the receive pumps to exit.
func (l *LinkLayer) Close() error {
	var errs []error
	for _, conn := range []*net.UDPConn{l.ctrlConn, l.dataConn} {
		if conn == nil {
			continue
		}
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.wg.Wait()
	if len(errs) > 0 {
		return errors.Wrap(errs[0], "close sockets")
	}
	return nil
}
