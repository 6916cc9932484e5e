package netaddr

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGroupKeyGroupsByIPv4Slash16(t *testing.T) {
	a := New(net.ParseIP("192.168.1.10"), 0)
	b := New(net.ParseIP("192.168.2.20"), 0)
	c := New(net.ParseIP("10.0.0.1"), 0)

	require.Equal(t, a.GroupKey(), b.GroupKey(), "same /16 must share a group")
	require.NotEqual(t, a.GroupKey(), c.GroupKey(), "different /16 must differ")
}

func TestClassAndRoutability(t *testing.T) {
	require.Equal(t, ClassIPv4, New(net.ParseIP("8.8.8.8"), 0).Class())
	require.True(t, New(net.ParseIP("8.8.8.8"), 0).IsRoutable())
	require.False(t, New(net.ParseIP("192.168.1.1"), 0).IsRoutable())
	require.True(t, New(net.ParseIP("127.0.0.1"), 0).IsLocal())
}

func TestEqualComparesCanonicalBytesOnly(t *testing.T) {
	a := New(net.ParseIP("1.2.3.4"), 1)
	b := New(net.ParseIP("1.2.3.4"), 99)
	require.True(t, a.Equal(b), "services must not affect address equality")
}

func TestEndpointString(t *testing.T) {
	e := Endpoint{NetAddress: New(net.ParseIP("1.2.3.4"), 0), Port: 8333}
	require.Equal(t, "1.2.3.4:8333", e.String())
}
