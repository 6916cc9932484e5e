package localaddr

import (
	"net"
	"testing"

	"github.com/Rozu/Pennies/internal/netaddr"
	"github.com/stretchr/testify/require"
)

func ep(ip string, port uint16) netaddr.Endpoint {
	return netaddr.Endpoint{NetAddress: netaddr.New(net.ParseIP(ip), 0), Port: port}
}

func TestAddLocalBumpsScoreOnRevisit(t *testing.T) {
	tbl := New()
	e := ep("1.2.3.4", 8333)
	tbl.AddLocal(e, 10)
	tbl.AddLocal(e, 10) // equal score revisit bumps by one
	tbl.mu.Lock()
	got := tbl.entries[e.Bytes()].score
	tbl.mu.Unlock()
	require.Equal(t, 11, got)
}

func TestSeenLocalIncrementsExistingOnly(t *testing.T) {
	tbl := New()
	e := ep("1.2.3.4", 8333)
	tbl.AddLocal(e, 5)
	tbl.SeenLocal(e)
	tbl.mu.Lock()
	got := tbl.entries[e.Bytes()].score
	tbl.mu.Unlock()
	require.Equal(t, 6, got)

	other := ep("5.6.7.8", 8333)
	tbl.SeenLocal(other) // no-op, not present
	require.NotContains(t, tbl.entries, other.Bytes())
}

func TestIPv6ReachableImpliesIPv4Reachable(t *testing.T) {
	tbl := New()
	v4 := ep("1.2.3.4", 8333)
	tbl.AddLocal(v4, 1)
	tbl.SetReachable(netaddr.ClassIPv6, true)
	tbl.mu.Lock()
	reachable := tbl.entries[v4.Bytes()].reachable
	tbl.mu.Unlock()
	require.True(t, reachable)
}

func TestGetLocalForPeerPrefersMatchingClass(t *testing.T) {
	tbl := New()
	v4 := ep("1.2.3.4", 8333)
	v6 := ep("2001:db8::1", 8333)
	tbl.AddLocal(v4, 1)
	tbl.AddLocal(v6, 1)
	tbl.SetReachable(netaddr.ClassIPv4, true)
	tbl.SetReachable(netaddr.ClassIPv6, true)

	peerV4 := netaddr.New(net.ParseIP("9.9.9.9"), 0)
	best, ok := tbl.GetLocalForPeer(peerV4)
	require.True(t, ok)
	require.True(t, best.Equal(v4.NetAddress))
}
