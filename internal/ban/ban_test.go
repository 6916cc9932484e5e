package ban

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakePeer struct {
	addr       string
	score      int64
	local      bool
	disconnect bool
}

func (f *fakePeer) AddMisbehavior(delta int) int64 { f.score += int64(delta); return f.score }
func (f *fakePeer) IsLocal() bool                  { return f.local }
func (f *fakePeer) AddrKey() string                { return f.addr }
func (f *fakePeer) Disconnect()                    { f.disconnect = true }

// TestBanThresholdScenario exercises spec.md §8 scenario 1's threshold-
// crossing rule: default -banscore 100, -bantime 3600. The scenario's own
// prose numbers (40, 40, 30 "remains connected", then 20 "total 110 >=
// 100") don't reconcile — 40+40+30 already sums to 110, so the narrated
// third call could not leave the peer connected under the §4.3 "crosses a
// threshold" rule. This isn't one of the explicitly flagged source bugs
// (see SPEC_FULL.md open questions), so rather than encode the
// inconsistent arithmetic, this test uses calls that actually straddle
// the threshold the way §4.3 describes: accumulate below 100, then a
// final call that crosses it bans and disconnects.
func TestBanThresholdScenario(t *testing.T) {
	table := New(100, 3600*time.Second)
	peerA := &fakePeer{addr: "1.2.3.4"}

	require.False(t, table.Misbehaving(peerA, 40))
	require.False(t, table.Misbehaving(peerA, 40))
	require.False(t, table.Misbehaving(peerA, 10))
	require.False(t, table.IsBanned(peerA.addr))

	require.True(t, table.Misbehaving(peerA, 10))
	require.True(t, table.IsBanned(peerA.addr))
	require.True(t, peerA.disconnect, "crossing the threshold disconnects the peer in the same call")
}

func TestLocalAddressesNeverBan(t *testing.T) {
	table := New(100, time.Hour)
	local := &fakePeer{addr: "127.0.0.1", local: true}
	require.False(t, table.Misbehaving(local, 1000))
	require.False(t, table.IsBanned(local.addr))
	require.False(t, local.disconnect)
}

func TestBanIsLastWriterWinsOnMax(t *testing.T) {
	table := New(100, time.Hour)
	far := table.now().Add(10 * time.Hour)
	table.mu.Lock()
	table.entries["a"] = far
	table.mu.Unlock()

	got := table.Ban("a", time.Minute)
	require.Equal(t, far, got, "a shorter ban must not shrink an existing longer one")
}
