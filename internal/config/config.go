// Package config parses the daemon's command-line options (spec.md
// §6) into a validated Config, clamping values the way the source
// does and applying the documented defaults. Flag registration follows
// the teacher's cobra/pflag style.
package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

const (
	DefaultMaxConnections = 125
	MinMaxConnections     = 8
	MaxMaxConnections     = 1000

	DefaultMaxOutbound = 8
	MinMaxOutbound     = 4
	MaxMaxOutbound     = 100

	DefaultPort     = 8333
	DefaultBanScore = 100
	DefaultBanTime  = 86400 // seconds
)

// Config holds every CLI/flag-configurable option spec.md §6 lists.
type Config struct {
	MaxConnections int
	MaxOutbound    int
	Port           uint16
	Connect        []string
	AddNode        []string
	DNSSeed        bool
	DNSSeedDomains []string
	BanScore       uint32
	BanTimeSeconds int
	UPnP           bool
	NAT            string
	ExternalIP     string
}

// clamp applies the §6 clamping rules in place: max_outbound is
// clamped independently, then clamped again to at most max_connections.
func (c *Config) clamp() {
	c.MaxConnections = clampInt(c.MaxConnections, MinMaxConnections, MaxMaxConnections)
	c.MaxOutbound = clampInt(c.MaxOutbound, MinMaxOutbound, MaxMaxOutbound)
	if c.MaxOutbound > c.MaxConnections {
		c.MaxOutbound = c.MaxConnections
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RegisterFlags wires every spec.md §6 option onto fs with its
// documented default, returning the Config the flags populate. Call
// Finalize after fs.Parse(os.Args[1:]) (or cobra's flag binding) to
// validate and clamp the result.
func RegisterFlags(fs *pflag.FlagSet) *Config {
	cfg := &Config{}
	fs.IntVar(&cfg.MaxConnections, "maxconnections", DefaultMaxConnections, "maximum number of peer connections")
	fs.IntVar(&cfg.MaxOutbound, "maxoutbound", DefaultMaxOutbound, "maximum number of outbound peer connections")
	fs.Uint16Var(&cfg.Port, "port", DefaultPort, "TCP port to listen on")
	fs.StringSliceVar(&cfg.Connect, "connect", nil, "connect only to the specified peer(s)")
	fs.StringSliceVar(&cfg.AddNode, "addnode", nil, "add a peer to connect to and keep the connection open")
	fs.BoolVar(&cfg.DNSSeed, "dnsseed", true, "query DNS seeds for peer addresses")
	fs.StringSliceVar(&cfg.DNSSeedDomains, "dnsseed-domain", nil, "DNS seed domain(s) to query")
	fs.Uint32Var(&cfg.BanScore, "banscore", DefaultBanScore, "misbehavior score threshold triggering a ban")
	fs.IntVar(&cfg.BanTimeSeconds, "bantime", DefaultBanTime, "number of seconds to ban misbehaving peers")
	fs.BoolVar(&cfg.UPnP, "upnp", false, "use UPnP to map the listening port")
	fs.StringVar(&cfg.NAT, "nat", "none", "NAT traversal mechanism (none|upnp|pmp|extip:<ip>|any)")
	fs.StringVar(&cfg.ExternalIP, "externalip", "", "advertise this external IP address")
	return cfg
}

// Finalize validates and clamps cfg, returning an error for values no
// clamp can repair (e.g. a negative bantime).
func (c *Config) Finalize() error {
	if c.BanTimeSeconds < 0 {
		return fmt.Errorf("bantime must be >= 0, got %d", c.BanTimeSeconds)
	}
	if c.Port == 0 {
		return fmt.Errorf("port must be nonzero")
	}
	c.clamp()
	if c.UPnP && c.NAT == "none" {
		c.NAT = "upnp"
	}
	return nil
}
