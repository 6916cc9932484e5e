package addrbook

import (
	"bytes"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Rozu/Pennies/internal/netaddr"
)

func ep(ip string) netaddr.Endpoint {
	return netaddr.Endpoint{NetAddress: netaddr.New(net.ParseIP(ip), 0), Port: 8333}
}

// TestGroupDiversityAcrossSelections uses the address set of spec.md §8
// scenario 3: 10 addresses in 192.168.*.* and 1 in 10.0.*.*. Select picks
// a network group first, so both groups must come up and the 192.168
// group never crowds out the lone 10.0 address.
func TestGroupDiversityAcrossSelections(t *testing.T) {
	b := New()
	var recs []Record
	for i := 0; i < 10; i++ {
		recs = append(recs, Record{Endpoint: ep(fmt.Sprintf("192.168.1.%d", i+1))})
	}
	recs = append(recs, Record{Endpoint: ep("10.0.0.1")})
	b.Add(recs, netaddr.NetAddress{})

	groupsSeen := map[string]bool{}
	for i := 0; i < 200; i++ {
		rec, ok := b.Select(50)
		require.True(t, ok)
		groupsSeen[rec.Endpoint.GroupKey()] = true
	}
	require.Len(t, groupsSeen, 2, "both network groups must be reachable via Select")
}

func TestConnectedPromotesNewToTried(t *testing.T) {
	b := New()
	b.Add([]Record{{Endpoint: ep("1.2.3.4")}}, netaddr.NetAddress{})
	b.Connected(ep("1.2.3.4"))

	b.mu.Lock()
	rec := b.byKey[ep("1.2.3.4").Bytes()]
	_, stillInNew := findInSet(b.new_, rec)
	_, inTried := findInSet(b.tried, rec)
	b.mu.Unlock()

	require.True(t, rec.Tried)
	require.False(t, stillInNew)
	require.True(t, inTried)
}

func findInSet(set map[string][]*Record, target *Record) (string, bool) {
	for g, list := range set {
		for _, r := range list {
			if r == target {
				return g, true
			}
		}
	}
	return "", false
}

func TestAttemptStampsLastTry(t *testing.T) {
	b := New()
	b.Attempt(ep("5.6.7.8"))
	require.Equal(t, 1, b.Size())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	b := New()
	b.Add([]Record{{Endpoint: ep("1.2.3.4")}}, netaddr.NetAddress{})
	b.Connected(ep("1.2.3.4"))

	var buf bytes.Buffer
	require.NoError(t, b.Save(&buf))

	b2 := New()
	require.NoError(t, b2.Load(&buf))
	require.Equal(t, 1, b2.Size())

	rec, ok := b2.Select(50)
	require.True(t, ok)
	require.True(t, rec.Tried)
	require.True(t, rec.Endpoint.Equal(ep("1.2.3.4").NetAddress))
}
