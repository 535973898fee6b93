package verifier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"mailprobe/cache"
	"mailprobe/models"
)

// MXResolver looks up a domain's mail exchangers.
type MXResolver interface {
	LookupMX(ctx context.Context, domain string) ([]models.MXRecord, error)
}

// DNSResolver queries MX records directly with miekg/dns. A truncated UDP
// answer is repeated over TCP against the same server.
type DNSResolver struct {
	client  *dns.Client
	tcp     *dns.Client
	servers []string
}

// NewDNSResolver returns a resolver for servers (host or host:port). With
// no servers, the nameservers from /etc/resolv.conf are used.
func NewDNSResolver(servers []string, timeout time.Duration) (*DNSResolver, error) {
	if len(servers) == 0 {
		conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil {
			return nil, fmt.Errorf("read resolv.conf: %w", err)
		}
		for _, s := range conf.Servers {
			servers = append(servers, net.JoinHostPort(s, conf.Port))
		}
	}
	if len(servers) == 0 {
		return nil, errors.New("no dns servers configured")
	}

	normalized := make([]string, 0, len(servers))
	for _, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		normalized = append(normalized, s)
	}

	return &DNSResolver{
		client:  &dns.Client{Timeout: timeout},
		tcp:     &dns.Client{Net: "tcp", Timeout: timeout},
		servers: normalized,
	}, nil
}

func (r *DNSResolver) LookupMX(ctx context.Context, domain string) ([]models.MXRecord, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeMX)
	m.RecursionDesired = true
	m.SetEdns0(4096, false)

	var lastErr error
	for _, server := range r.servers {
		in, _, err := r.client.ExchangeContext(ctx, m, server)
		if err == nil && in.Truncated {
			in, _, err = r.tcp.ExchangeContext(ctx, m, server)
		}
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if in.Rcode != dns.RcodeSuccess {
			return nil, fmt.Errorf("mx lookup %s: %s", domain, dns.RcodeToString[in.Rcode])
		}

		var records []models.MXRecord
		for _, rr := range in.Answer {
			mx, ok := rr.(*dns.MX)
			if !ok {
				continue
			}
			host := strings.TrimSuffix(mx.Mx, ".")
			if host == "" {
				// null MX, the domain accepts no mail
				continue
			}
			records = append(records, models.MXRecord{Exchange: host, Priority: mx.Preference})
		}
		return records, nil
	}
	return nil, fmt.Errorf("mx lookup %s: %w", domain, lastErr)
}

// MXLookup resolves MX records through a TTL cache. Failed lookups are
// cached as an empty list so a broken domain is not queried again until
// the entry expires.
type MXLookup struct {
	Resolver MXResolver
	Cache    cache.Cache[[]models.MXRecord]
	TTL      time.Duration
	Logger   logrus.FieldLogger
}

func NewMXLookup(resolver MXResolver, c cache.Cache[[]models.MXRecord], ttl time.Duration, logger logrus.FieldLogger) *MXLookup {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MXLookup{Resolver: resolver, Cache: c, TTL: ttl, Logger: logger}
}

// Resolve returns the domain's exchangers sorted by ascending priority.
// An empty result means the domain cannot receive mail.
func (l *MXLookup) Resolve(ctx context.Context, domain string) []models.MXRecord {
	if records, ok := l.Cache.Get(ctx, domain); ok {
		cacheLookupsTotal.WithLabelValues("mx", cacheResult(true)).Inc()
		return records
	}
	cacheLookupsTotal.WithLabelValues("mx", cacheResult(false)).Inc()

	records, err := l.Resolver.LookupMX(ctx, domain)
	if err != nil {
		if ctx.Err() != nil {
			// the caller gave up, that says nothing about the domain
			return []models.MXRecord{}
		}
		l.Logger.WithError(err).WithField("domain", domain).Info("mx lookup failed")
		records = nil
	}
	if records == nil {
		records = []models.MXRecord{}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Priority < records[j].Priority
	})

	l.Cache.Set(ctx, domain, records, l.TTL)
	return records
}
