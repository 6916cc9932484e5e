package connmgr

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Rozu/Pennies/internal/ban"
	"github.com/Rozu/Pennies/internal/netaddr"
	"github.com/Rozu/Pennies/internal/peer"
)

func newTestSession(t *testing.T, inbound bool) *peer.Session {
	t.Helper()
	c1, c2 := net.Pipe()
	t.Cleanup(func() { c1.Close(); c2.Close() })
	ep := netaddr.Endpoint{NetAddress: netaddr.New(net.ParseIP("1.2.3.4"), 0), Port: 8333}
	return peer.New(c1, ep, ep.String(), inbound, false, nil, nil)
}

func TestAddPeerAndSnapshot(t *testing.T) {
	m := New(Config{MaxTotal: 125, MaxOutbound: 8}, ban.New(100, time.Hour), nil)
	m.Start()
	defer m.Stop()

	s := newTestSession(t, false)
	m.AddPeer(s)

	require.Eventually(t, func() bool {
		return len(m.Peers().Peers) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSweepReapsDisconnectRequestedSession(t *testing.T) {
	m := New(Config{MaxTotal: 125, MaxOutbound: 8}, ban.New(100, time.Hour), nil)
	m.Start()
	defer m.Stop()

	s := newTestSession(t, false)
	m.AddPeer(s)
	require.Eventually(t, func() bool { return len(m.Peers().Peers) == 1 }, time.Second, 5*time.Millisecond)

	s.RequestDisconnect()
	require.Eventually(t, func() bool {
		return len(m.Peers().Peers) == 0
	}, 2*time.Second, 5*time.Millisecond, "reaped only once ref_count==0, release delay elapsed, and buffers are empty")
}

func TestSweepDisconnectsInactivePeer(t *testing.T) {
	m := New(Config{MaxTotal: 125, MaxOutbound: 8}, ban.New(100, time.Hour), nil)
	m.Start()
	defer m.Stop()

	s := newTestSession(t, false)
	s.TouchRecv(time.Now().Add(-2 * time.Hour))
	m.AddPeer(s)

	require.Eventually(t, func() bool {
		return s.DisconnectRequested()
	}, time.Second, 5*time.Millisecond, "no traffic for 90min triggers the inactivity sweep")
}

func TestInboundCapacityIsTotalMinusOutbound(t *testing.T) {
	cfg := Config{MaxTotal: 10, MaxOutbound: 8}
	require.Equal(t, 2, cfg.MaxTotal-cfg.MaxOutbound, "only 2 inbound slots available")
}

func TestBanTableReportsBannedInboundKey(t *testing.T) {
	banTable := ban.New(100, time.Hour)
	banTable.Ban("5.6.7.8:8333", time.Hour)
	require.True(t, banTable.IsBanned("5.6.7.8:8333"))
}
