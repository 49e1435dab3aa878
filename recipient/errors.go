package recipient

import "errors"

var (
	// ErrInvalidDestination indicates a destination is neither an address nor a dns: name.
	ErrInvalidDestination = errors.New("recipient: invalid destination")

	// ErrDNSLookupFailed indicates the DNS query failed.
	ErrDNSLookupFailed = errors.New("recipient: DNS lookup failed")

	// ErrDNSSECValidationFailed indicates the answer was not DNSSEC-authenticated.
	ErrDNSSECValidationFailed = errors.New("recipient: DNSSEC validation failed")

	// ErrNoRecord indicates the domain publishes no sbe= TXT record.
	ErrNoRecord = errors.New("recipient: no sbe record")
)
