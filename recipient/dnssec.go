package recipient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const (
	defaultUpstream = "8.8.8.8:53"
	dnssecTimeout   = 10 * time.Second
	edns0BufSize    = 4096
)

// DNSSECResolver queries a validating recursive resolver and accepts only
// answers with the AD (Authenticated Data) flag.
type DNSSECResolver struct {
	Upstream string
	Timeout  time.Duration
}

var _ TXTLookup = (*DNSSECResolver)(nil)

// NewDNSSECResolver returns a resolver for upstream, "8.8.8.8:53" if empty.
func NewDNSSECResolver(upstream string) *DNSSECResolver {
	if upstream == "" {
		upstream = defaultUpstream
	}
	return &DNSSECResolver{Upstream: upstream, Timeout: dnssecTimeout}
}

func (r *DNSSECResolver) query(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true
	msg.SetEdns0(edns0BufSize, true)

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = dnssecTimeout
	}
	client := &dns.Client{Timeout: timeout}
	resp, _, err := client.ExchangeContext(ctx, msg, r.Upstream)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s %s: %w",
			ErrDNSLookupFailed, name, dns.TypeToString[qtype], err)
	}
	if resp.Rcode == dns.RcodeNameError {
		return nil, fmt.Errorf("%w: %s does not exist", ErrNoRecord, name)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("%w: query %s %s: rcode %s",
			ErrDNSLookupFailed, name, dns.TypeToString[qtype], dns.RcodeToString[resp.Rcode])
	}
	if !resp.AuthenticatedData {
		return nil, fmt.Errorf("%w: AD flag not set for %s %s",
			ErrDNSSECValidationFailed, name, dns.TypeToString[qtype])
	}
	return resp, nil
}

// LookupTXT returns the TXT strings of name, each record's chunks joined.
func (r *DNSSECResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	resp, err := r.query(ctx, name, dns.TypeTXT)
	if err != nil {
		return nil, err
	}
	var txts []string
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			txts = append(txts, strings.Join(txt.Txt, ""))
		}
	}
	if len(txts) == 0 {
		return nil, fmt.Errorf("%w: no TXT records for %s", ErrNoRecord, name)
	}
	return txts, nil
}
