// Package resolver turns domain names into IPv4 host entries.
package resolver

import (
	"context"
	"net"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fetch-github-hosts/fgh/internal/hosts"
	"github.com/fetch-github-hosts/fgh/internal/metrics"
)

// Resolver looks up the first IPv4 address of a domain. A missing address
// is reported with ok=false, never as an error.
type Resolver interface {
	LookupIPv4(ctx context.Context, domain string) (ip string, ok bool)
}

// System resolves through the OS resolver.
type System struct {
	r *net.Resolver
}

// NewSystem returns a resolver backed by net.DefaultResolver.
func NewSystem() *System {
	return &System{r: net.DefaultResolver}
}

// LookupIPv4 implements Resolver.
func (s *System) LookupIPv4(ctx context.Context, domain string) (string, bool) {
	ips, err := s.r.LookupIP(ctx, "ip4", domain)
	if err != nil {
		zlog.Debug("System lookup failed", "domain", domain, "error", err.Error())
		return "", false
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4.String(), true
		}
	}
	return "", false
}

// Upstream sends A queries straight to a nameserver, bypassing the OS
// resolver and any hosts file it would consult.
type Upstream struct {
	addr   string
	client *dns.Client
}

// NewUpstream returns a resolver querying addr (host or host:port).
func NewUpstream(addr string) *Upstream {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "53")
	}
	return &Upstream{
		addr:   addr,
		client: &dns.Client{Net: "udp", Timeout: 3 * time.Second},
	}
}

// Addr returns the nameserver address in host:port form.
func (u *Upstream) Addr() string {
	return u.addr
}

// LookupIPv4 implements Resolver.
func (u *Upstream) LookupIPv4(ctx context.Context, domain string) (string, bool) {
	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(domain), dns.TypeA)
	req.RecursionDesired = true

	resp, _, err := u.client.ExchangeContext(ctx, req, u.addr)
	if err == nil && resp != nil && resp.Truncated {
		tcp := &dns.Client{Net: "tcp", Timeout: u.client.Timeout}
		resp, _, err = tcp.ExchangeContext(ctx, req, u.addr)
	}
	if err != nil {
		zlog.Debug("Upstream lookup failed", "domain", domain, "ns", u.addr, "error", err.Error())
		return "", false
	}
	if resp.Rcode != dns.RcodeSuccess {
		zlog.Debug("Upstream lookup refused", "domain", domain, "rcode", dns.RcodeToString[resp.Rcode])
		return "", false
	}

	// CNAME chains come back in the answer section ahead of the A record.
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			return a.A.String(), true
		}
	}
	return "", false
}

// Options tunes ResolveAll.
type Options struct {
	Concurrency int        // parallel lookups, default 8
	Rate        rate.Limit // lookups per second, zero means unlimited
	Metrics     *metrics.Metrics
}

// ResolveAll resolves every domain and returns the entries in input order.
// Domains without an IPv4 address are omitted.
func ResolveAll(ctx context.Context, r Resolver, domains []string, opts Options) []hosts.Entry {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}

	var limiter *rate.Limiter
	if opts.Rate > 0 {
		limiter = rate.NewLimiter(opts.Rate, 1)
	}

	ips := make([]string, len(domains))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, domain := range domains {
		g.Go(func() error {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return nil
				}
			}
			if ip, ok := r.LookupIPv4(ctx, domain); ok {
				ips[i] = ip
			}
			return nil
		})
	}
	_ = g.Wait()

	entries := make([]hosts.Entry, 0, len(domains))
	for i, domain := range domains {
		if ips[i] == "" {
			continue
		}
		entries = append(entries, hosts.Entry{IP: ips[i], Domain: domain})
	}

	if missing := len(domains) - len(entries); missing > 0 {
		zlog.Warn("Some domains did not resolve", "missing", missing, "total", len(domains))
		opts.Metrics.AddResolveFailures(missing)
	}

	return entries
}
