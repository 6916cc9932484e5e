package seed

import (
	"context"
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/Rozu/Pennies/internal/addrbook"
)

type fakeQuerier struct {
	byDomain map[string][]dns.RR
}

func (f *fakeQuerier) Query(ctx context.Context, domain string, qtype uint16) ([]dns.RR, error) {
	var out []dns.RR
	for _, rr := range f.byDomain[domain] {
		switch rr.(type) {
		case *dns.A:
			if qtype == dns.TypeA {
				out = append(out, rr)
			}
		case *dns.AAAA:
			if qtype == dns.TypeAAAA {
				out = append(out, rr)
			}
		}
	}
	return out, nil
}

func aRecord(ip string) *dns.A {
	return &dns.A{A: net.ParseIP(ip)}
}

func TestDiscoverAddsAddressesFromSeeds(t *testing.T) {
	q := &fakeQuerier{byDomain: map[string][]dns.RR{
		"seed.example.org": {aRecord("203.0.113.5"), aRecord("203.0.113.6")},
	}}
	book := addrbook.New()

	n := Discover(context.Background(), q, []string{"seed.example.org"}, 8333, book, nil)

	require.Equal(t, 2, n)
	require.Equal(t, 2, book.Size())
}

func TestDiscoverSkipsUnresolvableSeed(t *testing.T) {
	q := &fakeQuerier{byDomain: map[string][]dns.RR{}}
	book := addrbook.New()

	n := Discover(context.Background(), q, []string{"dead.example.org"}, 8333, book, nil)

	require.Equal(t, 0, n)
	require.Equal(t, 0, book.Size())
}
