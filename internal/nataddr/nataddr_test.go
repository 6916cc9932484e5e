package nataddr

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtIPReturnsConfiguredAddress(t *testing.T) {
	ip := net.ParseIP("203.0.113.9")
	n := ExtIP(ip)

	got, err := n.ExternalIP()
	require.NoError(t, err)
	require.True(t, ip.Equal(got))
}

func TestParseExtIP(t *testing.T) {
	n, err := Parse("extip:203.0.113.9")
	require.NoError(t, err)
	require.NotNil(t, n)

	got, err := n.ExternalIP()
	require.NoError(t, err)
	require.Equal(t, "203.0.113.9", got.String())
}

func TestParseExtIPRejectsInvalidAddress(t *testing.T) {
	_, err := Parse("extip:not-an-ip")
	require.Error(t, err)
}

func TestParseNoneReturnsNilInterface(t *testing.T) {
	n, err := Parse("none")
	require.NoError(t, err)
	require.Nil(t, n)

	n, err = Parse("")
	require.NoError(t, err)
	require.Nil(t, n)
}

func TestParseUnknownMechanism(t *testing.T) {
	_, err := Parse("bogus")
	require.Error(t, err)
}
