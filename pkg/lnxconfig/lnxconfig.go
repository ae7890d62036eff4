package lnxconfig

import (
	"bufio"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"

	"team21/dvrouter/pkg/common"
)

var (
	ErrMissingIdentity  = errors.New("missing self_ip or listen_port")
	ErrTooManyNeighbors = errors.New("too many neighbors")
	ErrTooManyRoutes    = errors.New("too many routes")
)

// RouteConfig is a route present at startup. A zero NextHop marks a directly
// connected network.
type RouteConfig struct {
	Network netip.Addr `yaml:"network"`
	Mask    netip.Addr `yaml:"mask"`
	NextHop netip.Addr `yaml:"next_hop"`
	Iface   string     `yaml:"iface,omitempty"`
}

type NeighborConfig struct {
	Addr     netip.Addr `yaml:"addr"`
	CtrlPort uint16     `yaml:"port"`
	Cost     uint16     `yaml:"cost"`
}

type RouterConfig struct {
	RouterId   uint16           `yaml:"router_id"`
	SelfIp     netip.Addr       `yaml:"self_ip"`
	ListenPort uint16           `yaml:"listen_port"`
	Routes     []RouteConfig    `yaml:"routes"`
	Neighbors  []NeighborConfig `yaml:"neighbors"`
}

// ParseConfig loads a router configuration. Files ending in .yaml or .yml are
// read as YAML, anything else uses the line format.
func ParseConfig(configFile string) (*RouterConfig, error) {
	f, err := os.Open(configFile)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", configFile)
	}
	defer f.Close()

	var cfg *RouterConfig
	switch strings.ToLower(filepath.Ext(configFile)) {
	case ".yaml", ".yml":
		cfg, err = ParseYAML(f)
	default:
		cfg, err = Parse(f)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", configFile)
	}
	return cfg, nil
}

type section int

const (
	sectionNone section = iota
	sectionRoutes
	sectionNeighbors
)

// Parse reads the line format:
//
//	router_id 1
//	self_ip 127.0.1.1
//	listen_port 12001
//	routes
//	192.168.10.0 255.255.255.0 0.0.0.0 eth0
//	neighbors
//	127.0.1.2 12002 1
//
// Malformed route and neighbor lines are skipped.
func Parse(r io.Reader) (*RouterConfig, error) {
	cfg := &RouterConfig{}
	in := sectionNone

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)

		switch {
		case strings.HasPrefix(line, "router_id"):
			if len(fields) >= 2 {
				if v, err := strconv.ParseUint(fields[1], 10, 16); err == nil {
					cfg.RouterId = uint16(v)
				}
			}
			continue
		case strings.HasPrefix(line, "self_ip"):
			if len(fields) < 2 {
				return nil, errors.New("bad self_ip")
			}
			ip, err := netip.ParseAddr(fields[1])
			if err != nil || !ip.Is4() {
				return nil, errors.Errorf("bad self_ip %q", fields[1])
			}
			cfg.SelfIp = ip
			continue
		case strings.HasPrefix(line, "listen_port"):
			if len(fields) >= 2 {
				if v, err := strconv.ParseUint(fields[1], 10, 16); err == nil {
					cfg.ListenPort = uint16(v)
				}
			}
			continue
		case strings.HasPrefix(line, "routes"):
			in = sectionRoutes
			continue
		case strings.HasPrefix(line, "neighbors"):
			in = sectionNeighbors
			continue
		}

		switch in {
		case sectionRoutes:
			route, ok := parseRoute(fields)
			if !ok {
				continue
			}
			cfg.Routes = append(cfg.Routes, route)
		case sectionNeighbors:
			neighbor, ok := parseNeighbor(fields)
			if !ok {
				continue
			}
			cfg.Neighbors = append(cfg.Neighbors, neighbor)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseRoute(fields []string) (RouteConfig, bool) {
	if len(fields) != 4 {
		return RouteConfig{}, false
	}
	var addrs [3]netip.Addr
	for i := range addrs {
		ip, err := netip.ParseAddr(fields[i])
		if err != nil || !ip.Is4() {
			return RouteConfig{}, false
		}
		addrs[i] = ip
	}
	return RouteConfig{Network: addrs[0], Mask: addrs[1], NextHop: addrs[2], Iface: fields[3]}, true
}

func parseNeighbor(fields []string) (NeighborConfig, bool) {
	if len(fields) != 3 {
		return NeighborConfig{}, false
	}
	ip, err := netip.ParseAddr(fields[0])
	if err != nil || !ip.Is4() {
		return NeighborConfig{}, false
	}
	port, err := strconv.ParseUint(fields[1], 10, 16)
	if err != nil {
		return NeighborConfig{}, false
	}
	cost, err := strconv.ParseUint(fields[2], 10, 16)
	if err != nil {
		return NeighborConfig{}, false
	}
	return NeighborConfig{Addr: ip, CtrlPort: uint16(port), Cost: uint16(cost)}, true
}

func ParseYAML(r io.Reader) (*RouterConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	cfg := &RouterConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "decode yaml")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *RouterConfig) Validate() error {
	if !c.SelfIp.IsValid() || common.IsUnspecified(c.SelfIp) || c.ListenPort == 0 {
		return ErrMissingIdentity
	}
	if len(c.Neighbors) > common.MaxNeighbors {
		return errors.Wrapf(ErrTooManyNeighbors, "%d configured, limit %d", len(c.Neighbors), common.MaxNeighbors)
	}
	if len(c.Routes) > common.MaxRoutes {
		return errors.Wrapf(ErrTooManyRoutes, "%d configured, limit %d", len(c.Routes), common.MaxRoutes)
	}
	return nil
}
