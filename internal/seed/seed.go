// Package seed implements DNS seed discovery: one of the one-shot
// startup threads of spec.md §5 ("DNS seeder (runs once at start)"),
// feeding discovered addresses into the address book. Query shape is
// grounded on the decred seeder's own DNS handling
// (other_examples/39abbbf1_decred-dcrseeder__manager.go.go), adapted
// from serving DNS answers to issuing A/AAAA queries against a list of
// seed domains.
package seed

import (
	"context"
	"net"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"github.com/Rozu/Pennies/internal/addrbook"
	"github.com/Rozu/Pennies/internal/netaddr"
)

const queryTimeout = 10 * time.Second

// Querier issues a DNS query; the default uses miekg/dns.Client
// directly. Exposed as an interface so tests can stub it without a
// live resolver.
type Querier interface {
	Query(ctx context.Context, domain string, qtype uint16) ([]dns.RR, error)
}

type dnsQuerier struct {
	client   *dns.Client
	resolver string // "host:port" of the upstream resolver
}

// NewQuerier builds the default miekg/dns-backed Querier, talking to
// resolver (e.g. "8.8.8.8:53").
func NewQuerier(resolver string) Querier {
	return &dnsQuerier{client: new(dns.Client), resolver: resolver}
}

func (q *dnsQuerier) Query(ctx context.Context, domain string, qtype uint16) ([]dns.RR, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), qtype)
	m.RecursionDesired = true
	in, _, err := q.client.ExchangeContext(ctx, m, q.resolver)
	if err != nil {
		return nil, err
	}
	return in.Answer, nil
}

// Discover queries every seed domain for both A and AAAA records and
// adds the resulting endpoints to book under the default port,
// returning the total number of addresses added.
func Discover(ctx context.Context, q Querier, domains []string, defaultPort uint16, book *addrbook.Book, log *logrus.Entry) int {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	added := 0
	for _, domain := range domains {
		for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
			qctx, cancel := context.WithTimeout(ctx, queryTimeout)
			answers, err := q.Query(qctx, domain, qtype)
			cancel()
			if err != nil {
				log.WithError(err).WithField("seed", domain).Debug("dns seed query failed")
				continue
			}
			added += addAnswers(answers, defaultPort, book)
		}
	}
	log.WithField("added", added).Info("dns seed discovery complete")
	return added
}

func addAnswers(answers []dns.RR, defaultPort uint16, book *addrbook.Book) int {
	var records []addrbook.Record
	now := time.Now()
	for _, rr := range answers {
		ip := rrIP(rr)
		if ip == nil {
			continue
		}
		records = append(records, addrbook.Record{
			Endpoint: netaddr.Endpoint{NetAddress: netaddr.New(ip, 0), Port: defaultPort},
			LastSeen: now,
		})
	}
	book.Add(records, netaddr.NetAddress{})
	return len(records)
}

func rrIP(rr dns.RR) net.IP {
	switch r := rr.(type) {
	case *dns.A:
		return r.A
	case *dns.AAAA:
		return r.AAAA
	}
	return nil
}
