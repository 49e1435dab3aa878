// Package recipient resolves bucket destinations to public key hashes.
//
// A destination is written either as a base58 P2PKH address or as
// "dns:<domain>", in which case the domain's _sbe TXT record supplies the
// address ("sbe=<address>"). DNS answers must carry the DNSSEC AD flag.
package recipient

import (
	"context"
	"fmt"
	"strings"

	"github.com/bsv-blockchain/go-sdk/script"
)

const (
	// DNSPrefix marks a destination resolved through DNS.
	DNSPrefix = "dns:"

	// TXTLabel is prepended to the domain for the TXT query.
	TXTLabel = "_sbe."

	// TXTPrefix starts the record value.
	TXTPrefix = "sbe="
)

// Destination is a resolved payee.
type Destination struct {
	Source  string // as configured
	Address string
	PKH     []byte
}

// Resolver turns a configured destination into a Destination.
type Resolver interface {
	Resolve(ctx context.Context, dest string) (*Destination, error)
}

// TXTLookup performs TXT queries.
type TXTLookup interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// ParseAddress decodes a base58 P2PKH address.
func ParseAddress(addr string) (*Destination, error) {
	addr = strings.TrimSpace(addr)
	a, err := script.NewAddressFromString(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidDestination, addr, err)
	}
	pkh := []byte(a.PublicKeyHash)
	if len(pkh) != 20 {
		return nil, fmt.Errorf("%w: %q has %d-byte hash", ErrInvalidDestination, addr, len(pkh))
	}
	return &Destination{Source: addr, Address: a.AddressString, PKH: pkh}, nil
}

// DNSResolver resolves plain addresses locally and dns: destinations through
// a TXT lookup.
type DNSResolver struct {
	TXT TXTLookup
}

var _ Resolver = (*DNSResolver)(nil)

// NewDNSResolver returns a resolver backed by a DNSSEC-validating upstream.
func NewDNSResolver(upstream string) *DNSResolver {
	return &DNSResolver{TXT: NewDNSSECResolver(upstream)}
}

// Resolve implements Resolver.
func (r *DNSResolver) Resolve(ctx context.Context, dest string) (*Destination, error) {
	dest = strings.TrimSpace(dest)
	if dest == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidDestination)
	}
	if !strings.HasPrefix(dest, DNSPrefix) {
		return ParseAddress(dest)
	}

	domain := strings.TrimSuffix(strings.TrimPrefix(dest, DNSPrefix), ".")
	if domain == "" || strings.ContainsAny(domain, " /:") {
		return nil, fmt.Errorf("%w: bad domain in %q", ErrInvalidDestination, dest)
	}
	if r.TXT == nil {
		return nil, fmt.Errorf("%w: no TXT resolver for %s", ErrDNSLookupFailed, domain)
	}

	name := TXTLabel + domain
	txts, err := r.TXT.LookupTXT(ctx, name)
	if err != nil {
		return nil, err
	}
	for _, txt := range txts {
		txt = strings.TrimSpace(txt)
		if !strings.HasPrefix(txt, TXTPrefix) {
			continue
		}
		d, err := ParseAddress(strings.TrimPrefix(txt, TXTPrefix))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		d.Source = dest
		return d, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoRecord, name)
}

// StaticResolver maps destinations to addresses without network access.
// Destinations absent from the map are parsed as addresses.
type StaticResolver map[string]string

var _ Resolver = StaticResolver(nil)

// Resolve implements Resolver.
func (s StaticResolver) Resolve(_ context.Context, dest string) (*Destination, error) {
	addr, ok := s[dest]
	if !ok {
		addr = dest
	}
	d, err := ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	d.Source = dest
	return d, nil
}

// ResolveAll resolves each destination in order.
func ResolveAll(ctx context.Context, r Resolver, dests []string) ([]*Destination, error) {
	out := make([]*Destination, len(dests))
	for i, dest := range dests {
		d, err := r.Resolve(ctx, dest)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}
