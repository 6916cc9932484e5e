package netcore

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/Rozu/Pennies/internal/chainiface"
	"github.com/Rozu/Pennies/internal/config"
)

type fakeChain struct {
	best   chainiface.BestBlock
	points map[int32]chainhash.Hash
}

func (f *fakeChain) IsInitialBlockDownload() bool      { return false }
func (f *fakeChain) BestBlock() chainiface.BestBlock   { return f.best }
func (f *fakeChain) HasBlock(chainhash.Hash) bool      { return false }
func (f *fakeChain) HasOrphan(chainhash.Hash) bool     { return false }
func (f *fakeChain) SetBestChain(chainhash.Hash) error { return nil }
func (f *fakeChain) AcceptOrphan(chainhash.Hash) error { return nil }
func (f *fakeChain) HardenedSyncPoints() map[int32]chainhash.Hash {
	return f.points
}

// memSink is a minimal in-memory DumpSink: Seek is a no-op and Truncate
// discards the buffer, so data holds only the latest dump.
type memSink struct{ data []byte }

func (m *memSink) Truncate(int64) error        { m.data = nil; return nil }
func (m *memSink) Seek(int64, int) (int64, error) { return 0, nil }
func (m *memSink) Write(p []byte) (int, error) {
	m.data = append(m.data, p...)
	return len(p), nil
}

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Config{
		MaxConnections: 125,
		MaxOutbound:    8,
		Port:           0, // port 0: let the OS pick, avoids collisions in tests
		DNSSeed:        false,
		BanScore:       100,
		BanTimeSeconds: 3600,
		NAT:            "none",
	}
	return cfg
}

func TestNewWiresEveryComponent(t *testing.T) {
	cfg := baseConfig(t)
	core, err := New(cfg, &fakeChain{}, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, core.Book)
	require.NotNil(t, core.Local)
	require.NotNil(t, core.Bans)
	require.NotNil(t, core.Permits)
	require.NotNil(t, core.Reactor)
	require.NotNil(t, core.Dialer)
	require.NotNil(t, core.Relay)
	require.NotNil(t, core.Sync)
	require.Nil(t, core.NAT, "NAT mechanism \"none\" yields no Interface")
}

func TestStartStopWithConnectOnlyMode(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Connect = []string{"127.0.0.1:1"} // unreachable, exercised only to drive the connect-only loop
	core, err := New(cfg, &fakeChain{}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, core.Start(context.Background()))
	time.Sleep(10 * time.Millisecond)
	core.Stop()
}

func TestAddrDumpLoopWritesOnStop(t *testing.T) {
	cfg := baseConfig(t)
	sink := &memSink{}
	core, err := New(cfg, &fakeChain{}, sink, nil)
	require.NoError(t, err)

	require.NoError(t, core.Start(context.Background()))
	core.Stop()
	require.NotNil(t, sink.data, "dump loop writes a snapshot on shutdown")
}

func TestExternalIPOverridesNATDiscovery(t *testing.T) {
	cfg := baseConfig(t)
	cfg.NAT = "upnp"
	cfg.ExternalIP = "203.0.113.9"
	core, err := New(cfg, &fakeChain{}, nil, nil)
	require.NoError(t, err)
	require.Nil(t, core.NAT, "a static -externalip takes precedence over auto-discovery")
}
