package resolver

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// ResolutionError means a lookup produced no complementary representation.
// It never fails a search; that side of the match is skipped.
type ResolutionError struct {
	Direction string // "forward" or "reverse"
	Query     string
	Err       error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s lookup of %s failed: %v", e.Direction, e.Query, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// HostResolver turns an IPv4 address into a hostname and back.
type HostResolver interface {
	ReverseLookup(ctx context.Context, ip string) (string, error)
	ForwardLookup(ctx context.Context, host string) (string, error)
}

// SystemResolver uses the platform resolver.
type SystemResolver struct {
	Resolver *net.Resolver
}

func (s SystemResolver) resolver() *net.Resolver {
	if s.Resolver != nil {
		return s.Resolver
	}
	return net.DefaultResolver
}

func (s SystemResolver) ReverseLookup(ctx context.Context, ip string) (string, error) {
	names, err := s.resolver().LookupAddr(ctx, ip)
	if err != nil {
		return "", &ResolutionError{Direction: "reverse", Query: ip, Err: err}
	}
	for _, name := range names {
		if name = strings.TrimSuffix(name, "."); name != "" {
			return name, nil
		}
	}
	return "", &ResolutionError{Direction: "reverse", Query: ip, Err: fmt.Errorf("no PTR records")}
}

func (s SystemResolver) ForwardLookup(ctx context.Context, host string) (string, error) {
	ips, err := s.resolver().LookupIP(ctx, "ip4", host)
	if err != nil {
		return "", &ResolutionError{Direction: "forward", Query: host, Err: err}
	}
	if len(ips) == 0 {
		return "", &ResolutionError{Direction: "forward", Query: host, Err: fmt.Errorf("no A records")}
	}
	return ips[0].String(), nil
}

// DNSResolver queries one DNS server directly instead of the system resolver.
type DNSResolver struct {
	server string
	client *dns.Client
}

// NewDNSResolver returns a resolver for server ("host" or "host:port", port 53 by default).
func NewDNSResolver(server string, timeout time.Duration) *DNSResolver {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	c := new(dns.Client)
	c.Net = "udp"
	if timeout > 0 {
		c.Timeout = timeout
	}
	return &DNSResolver{server: server, client: c}
}

func (d *DNSResolver) ReverseLookup(ctx context.Context, ip string) (string, error) {
	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return "", &ResolutionError{Direction: "reverse", Query: ip, Err: err}
	}
	in, err := d.exchange(ctx, arpa, dns.TypePTR)
	if err != nil {
		return "", &ResolutionError{Direction: "reverse", Query: ip, Err: err}
	}
	for _, rr := range in.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, "."), nil
		}
	}
	return "", &ResolutionError{Direction: "reverse", Query: ip, Err: fmt.Errorf("no PTR records")}
}

func (d *DNSResolver) ForwardLookup(ctx context.Context, host string) (string, error) {
	in, err := d.exchange(ctx, dns.Fqdn(host), dns.TypeA)
	if err != nil {
		return "", &ResolutionError{Direction: "forward", Query: host, Err: err}
	}
	for _, rr := range in.Answer {
		if a, ok := rr.(*dns.A); ok {
			return a.A.String(), nil
		}
	}
	return "", &ResolutionError{Direction: "forward", Query: host, Err: fmt.Errorf("no A records")}
}

func (d *DNSResolver) exchange(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	m := new(dns.Msg)
	m.SetQuestion(name, qtype)

	in, _, err := d.client.ExchangeContext(ctx, m, d.server)
	if err != nil {
		return nil, err
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("server %s answered %s", d.server, dns.RcodeToString[in.Rcode])
	}
	return in, nil
}
