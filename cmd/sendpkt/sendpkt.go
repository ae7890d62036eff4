package main

import (
	"net"
	"net/netip"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"team21/dvrouter/pkg/common"
)

var host string

var rootCmd = &cobra.Command{
	Use:   "sendpkt <router_ctrl_port> <src_ip> <dst_ip> <ttl> <msg...>",
	Short: "Inject one data packet into a router",
	Long: `sendpkt builds a single data packet and sends it to the data port
(control port + 1000) of the router listening on the given control port.`,
	Args:          cobra.MinimumNArgs(5),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		dst, pkt, err := parseArgs(host, args)
		if err != nil {
			return err
		}
		return send(dst, pkt)
	},
}

func init() {
	rootCmd.Flags().StringVar(&host, "host", "127.0.0.1", "address of the router")
}

func parseArgs(host string, args []string) (netip.AddrPort, *common.DataMessage, error) {
	port, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return netip.AddrPort{}, nil, errors.Wrap(err, "bad router_ctrl_port")
	}
	target, err := netip.ParseAddr(host)
	if err != nil {
		return netip.AddrPort{}, nil, errors.Wrap(err, "bad host")
	}
	src, err := netip.ParseAddr(args[1])
	if err != nil || !src.Is4() {
		return netip.AddrPort{}, nil, errors.Errorf("bad src_ip %q", args[1])
	}
	dst, err := netip.ParseAddr(args[2])
	if err != nil || !dst.Is4() {
		return netip.AddrPort{}, nil, errors.Errorf("bad dst_ip %q", args[2])
	}
	ttl, err := strconv.ParseUint(args[3], 10, 8)
	if err != nil {
		return netip.AddrPort{}, nil, errors.Wrap(err, "bad ttl")
	}

	pkt := &common.DataMessage{
		TTL:     uint8(ttl),
		Src:     src,
		Dst:     dst,
		Payload: joinMessage(args[4:]),
	}
	return netip.AddrPortFrom(target, common.DataPort(uint16(port))), pkt, nil
}

// joinMessage joins words with single spaces. Words that would push the
// message past common.MaxPayload-1 bytes are dropped along with the rest.
func joinMessage(words []string) []byte {
	msg := make([]byte, 0, common.MaxPayload)
	for i, w := range words {
		if len(msg)+len(w)+1 >= common.MaxPayload {
			break
		}
		msg = append(msg, w...)
		if i+1 < len(words) {
			msg = append(msg, ' ')
		}
	}
	return msg
}

func send(dst netip.AddrPort, pkt *common.DataMessage) error {
	b, err := pkt.MarshalBinary()
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return errors.Wrap(err, "open socket")
	}
	defer conn.Close()
	if _, err := conn.WriteToUDPAddrPort(b, dst); err != nil {
		return errors.Wrapf(err, "send to %s", dst)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrln("sendpkt:", err)
		os.Exit(1)
	}
}
