package syncengine

import (
	"net"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/Rozu/Pennies/internal/chainiface"
	"github.com/Rozu/Pennies/internal/netaddr"
	"github.com/Rozu/Pennies/internal/peer"
	"github.com/Rozu/Pennies/internal/wireproto"
)

func hashN(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

// TestSlotPartitionScenario reproduces spec.md §8 scenario 4.
func TestSlotPartitionScenario(t *testing.T) {
	e := New(nil, DefaultConfig())
	e.BuildSlots(map[int32]chainhash.Hash{
		100:  hashN(1),
		500:  hashN(2),
		2000: hashN(3),
	})

	got := e.HeaderSlots()
	want := []SyncSlot{
		{StartHeight: 100, EndHeight: 499},
		{StartHeight: 500, EndHeight: 1999},
		{StartHeight: 2000, EndHeight: 0},
	}
	require.Equal(t, want, got)
	require.Equal(t, want, e.BlockSlots())
}

func newEligiblePeer(t *testing.T, addr string, version uint32, startingHeight int32) *peer.Session {
	t.Helper()
	c1, c2 := net.Pipe()
	t.Cleanup(func() { c1.Close(); c2.Close() })
	ep := netaddr.Endpoint{NetAddress: netaddr.New(net.ParseIP(addr), 0), Port: 8333}
	s := peer.New(c1, ep, ep.String(), false, false, nil, nil)
	s.ApplyHandshake(wireproto.HandshakeResult{Version: version, StartingHeight: startingHeight, IsClient: false})
	s.MarkSuccessfullyConnected()
	return s
}

// TestHeaderSchedulingScenario reproduces spec.md §8 scenario 5: two
// eligible peers P1(header_speed=10, header_used=true) and
// P2(header_speed=0, header_used=false); with header_concurrent=1 the
// next sync_headers tick issues getheaders to P2, not P1.
func TestHeaderSchedulingScenario(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeaderConcurrent = 1
	cfg.HeaderConcurrentPollTime = 0
	e := New(nil, cfg)
	e.BuildSlots(map[int32]chainhash.Hash{0: hashN(9)})

	maxBlockCount := int32(1000)
	p1 := newEligiblePeer(t, "1.2.3.4", 70016, maxBlockCount) // starting_height > maxBlockCount-144
	p2 := newEligiblePeer(t, "5.6.7.8", 70016, maxBlockCount)

	// Give p1 measured throughput and mark it previously used; p2 stays
	// fresh/unused (header_speed defaults to 0, header_used false).
	p1.StampGetHeaders(time.Now().Add(-time.Hour), hashN(0), hashN(0))
	p1.AddHeaderDownloaded(600)
	windowStart := time.Now().Add(-3 * time.Minute)
	p1.MaybeUpdateSpeed(windowStart) // first call only arms the window
	p1.MaybeUpdateSpeed(windowStart.Add(2 * time.Minute))

	serviced := e.SyncHeaders(time.Now(), []*peer.Session{p1, p2}, maxBlockCount)
	require.Len(t, serviced, 1)
	require.Equal(t, p2.AddrKey(), serviced[0].AddrKey(), "unused peer P2 is scheduled before used peer P1")
}

type fakeChain struct {
	best    chainiface.BestBlock
	blocks  map[chainhash.Hash]bool
	orphans map[chainhash.Hash]bool
}

func (f *fakeChain) IsInitialBlockDownload() bool        { return true }
func (f *fakeChain) BestBlock() chainiface.BestBlock     { return f.best }
func (f *fakeChain) HasBlock(h chainhash.Hash) bool       { return f.blocks[h] }
func (f *fakeChain) HasOrphan(h chainhash.Hash) bool      { return f.orphans[h] }
func (f *fakeChain) SetBestChain(h chainhash.Hash) error {
	f.best.Hash = h
	f.best.Height++
	return nil
}
func (f *fakeChain) AcceptOrphan(h chainhash.Hash) error {
	delete(f.orphans, h)
	f.best.Hash = h
	f.best.Height++
	return nil
}
func (f *fakeChain) HardenedSyncPoints() map[int32]chainhash.Hash { return nil }

// TestChainAdvanceScenario reproduces spec.md §8 scenario 6.
func TestChainAdvanceScenario(t *testing.T) {
	h100, h101, h102 := hashN(100), hashN(101), hashN(102)
	chain := &fakeChain{
		best:    chainiface.BestBlock{Height: 99},
		blocks:  map[chainhash.Hash]bool{h100: true, h101: true},
		orphans: map[chainhash.Hash]bool{h102: true},
	}

	cfg := DefaultConfig()
	cfg.CheckIPTime = 0
	e := New(chain, cfg)
	e.RecordHeader(100, h100)
	e.RecordHeader(101, h101)
	e.RecordHeader(102, h102)

	require.NoError(t, e.AdvanceChain(time.Now()))

	require.Equal(t, h102, chain.best.Hash)
	require.Equal(t, int32(102), chain.best.Height)
	require.False(t, chain.orphans[h102], "orphan map loses h102 once accepted")
}
