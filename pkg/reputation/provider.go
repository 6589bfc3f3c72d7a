package reputation

import (
	"context"
	"errors"
)

// Fixed per-source trust weights. These are scoring policy, matched to how
// much each class of evidence has historically been worth.
const (
	WeightCurated        = 0.9
	WeightStructural     = 0.8
	WeightCommunity      = 0.7
	WeightGenericPattern = 0.6
)

// Capability is a bit set of the lookups a provider supports.
type Capability uint8

const (
	CapDomain Capability = 1 << iota
	CapURL
	CapIP
)

// Has reports whether the set contains cap.
func (c Capability) Has(cap Capability) bool { return c&cap != 0 }

// ErrUnsupported is returned by a provider asked for a lookup outside its
// declared capability set. The aggregator filters by capability first, so
// seeing this error means a wiring bug.
var ErrUnsupported = errors.New("reputation: lookup not supported by provider")

// Provider is one source of opinion about a target. A nil entry with a nil
// error means the provider has no opinion; that is not a failure.
type Provider interface {
	Name() string
	Weight() float64
	Capabilities() Capability
	LookupDomain(ctx context.Context, domain string) (*Entry, error)
	LookupURL(ctx context.Context, rawURL string) (*Entry, error)
	LookupIP(ctx context.Context, ip string) (*Entry, error)
}

// lookupFor dispatches to the provider method matching the target kind.
func lookupFor(ctx context.Context, p Provider, t Target) (*Entry, error) {
	switch t.Kind {
	case KindDomain:
		return p.LookupDomain(ctx, t.Raw)
	case KindURL:
		return p.LookupURL(ctx, t.Raw)
	case KindIP:
		return p.LookupIP(ctx, t.Raw)
	default:
		return nil, ErrUnsupported
	}
}

// capabilityFor maps a target kind to the capability bit it requires.
func capabilityFor(kind TargetKind) Capability {
	switch kind {
	case KindDomain:
		return CapDomain
	case KindURL:
		return CapURL
	case KindIP:
		return CapIP
	default:
		return 0
	}
}
