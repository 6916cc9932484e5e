package config

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) *Config {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg := RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	require.NoError(t, cfg.Finalize())
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := parse(t)
	require.Equal(t, DefaultMaxConnections, cfg.MaxConnections)
	require.Equal(t, DefaultMaxOutbound, cfg.MaxOutbound)
	require.EqualValues(t, DefaultPort, cfg.Port)
	require.EqualValues(t, DefaultBanScore, cfg.BanScore)
	require.Equal(t, DefaultBanTime, cfg.BanTimeSeconds)
	require.False(t, cfg.UPnP)
}

func TestMaxConnectionsClampedToRange(t *testing.T) {
	cfg := parse(t, "--maxconnections=1")
	require.Equal(t, MinMaxConnections, cfg.MaxConnections)

	cfg = parse(t, "--maxconnections=5000")
	require.Equal(t, MaxMaxConnections, cfg.MaxConnections)
}

func TestMaxOutboundClampedToRangeAndToMaxConnections(t *testing.T) {
	cfg := parse(t, "--maxoutbound=1")
	require.Equal(t, MinMaxOutbound, cfg.MaxOutbound)

	cfg = parse(t, "--maxoutbound=500")
	require.Equal(t, MaxMaxOutbound, cfg.MaxOutbound)

	cfg = parse(t, "--maxconnections=8", "--maxoutbound=50")
	require.Equal(t, 8, cfg.MaxOutbound, "max_outbound never exceeds max_connections")
}

func TestConnectAndAddNodeLists(t *testing.T) {
	cfg := parse(t, "--connect=1.2.3.4:8333,5.6.7.8:8333")
	require.Equal(t, []string{"1.2.3.4:8333", "5.6.7.8:8333"}, cfg.Connect)

	cfg = parse(t, "--addnode=a.example.org", "--addnode=b.example.org")
	require.Equal(t, []string{"a.example.org", "b.example.org"}, cfg.AddNode)
}

func TestUPnPImpliesNATMechanism(t *testing.T) {
	cfg := parse(t, "--upnp")
	require.Equal(t, "upnp", cfg.NAT)
}

func TestNegativeBanTimeRejected(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg := RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--bantime=-1"}))
	require.Error(t, cfg.Finalize())
}
