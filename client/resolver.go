package client

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Resolver sends one query for fqdn and returns the address it resolved to.
type Resolver interface {
	Resolve(ctx context.Context, fqdn string) (net.IP, error)
}

// ResolverFunc adapts a function to a Resolver.
type ResolverFunc func(ctx context.Context, fqdn string) (net.IP, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, fqdn string) (net.IP, error) {
	return f(ctx, fqdn)
}

// ResolverConfig configures a DNSResolver.
type ResolverConfig struct {
	Server  string // ip:port of the resolver or tunnel server
	Net     string // "udp" (default) or "tcp"
	Timeout time.Duration
	UseTXT  bool

	// Recursive sets RD; needed when Server is a recursive resolver rather
	// than the tunnel server itself.
	Recursive bool
}

// DNSResolver resolves names with a single miekg/dns exchange per call.
type DNSResolver struct {
	client    *dns.Client
	server    string
	qtype     uint16
	recursive bool
}

// NewDNSResolver creates a resolver for cfg.
func NewDNSResolver(cfg ResolverConfig) *DNSResolver {
	c := new(dns.Client)
	c.Net = cfg.Net
	if c.Net == "" {
		c.Net = "udp"
	}
	c.Timeout = cfg.Timeout

	qtype := dns.TypeA
	if cfg.UseTXT {
		qtype = dns.TypeTXT
	}
	return &DNSResolver{client: c, server: cfg.Server, qtype: qtype, recursive: cfg.Recursive}
}

// Resolve implements Resolver. TXT answers carry the address as text.
func (r *DNSResolver) Resolve(ctx context.Context, fqdn string) (net.IP, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(fqdn), r.qtype)
	m.RecursionDesired = r.recursive
	m.SetEdns0(4096, false)

	resp, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return nil, err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("rcode %s", dns.RcodeToString[resp.Rcode])
	}

	for _, rr := range resp.Answer {
		switch v := rr.(type) {
		case *dns.A:
			return v.A, nil
		case *dns.TXT:
			ip := net.ParseIP(strings.Join(v.Txt, ""))
			if ip == nil {
				return nil, fmt.Errorf("invalid IP in TXT response: %v", v.Txt)
			}
			return ip, nil
		}
	}
	return nil, fmt.Errorf("no answer records")
}
