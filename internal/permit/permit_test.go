package permit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClamps(t *testing.T) {
	total, outbound := Clamp(2, 200)
	require.Equal(t, MinMaxTotal, total)
	require.Equal(t, MinMaxTotal, outbound) // 200 -> 100, then to <= total (8)
	total, outbound = Clamp(5, 200)
	require.Equal(t, MinMaxTotal, total)
	require.Equal(t, MinMaxTotal, outbound) // outbound <= total
}

// TestPermitFairness reproduces spec.md §8 scenario 2: with max_outbound=4
// and many non-responsive dial candidates, at most 4 acquisitions succeed
// concurrently, and each release frees exactly one more.
func TestPermitFairness(t *testing.T) {
	s := New(16, 4)
	var inFlight int32
	var maxSeen int32
	var wg sync.WaitGroup

	attempt := func() {
		defer wg.Done()
		p, err := s.Acquire(context.Background())
		require.NoError(t, err)
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		p.Release()
	}

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go attempt()
	}
	wg.Wait()
	require.LessOrEqual(t, int(maxSeen), 4)
}

func TestReleaseIsIdempotent(t *testing.T) {
	s := New(8, 4)
	p, err := s.Acquire(context.Background())
	require.NoError(t, err)
	p.Release()
	require.NotPanics(t, func() { p.Release() })
}
