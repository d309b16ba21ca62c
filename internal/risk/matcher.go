package risk

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/lvonguyen/threatpulse/internal/telemetry"
)

// MatchMode selects how a Matcher decides that an address is internal.
type MatchMode string

const (
	// MatchPrefix compares the address text against a literal prefix.
	MatchPrefix MatchMode = "prefix"
	// MatchCIDR tests containment in a list of networks.
	MatchCIDR MatchMode = "cidr"
)

// DefaultInternalPrefix is the literal prefix used by the default matcher.
const DefaultInternalPrefix = "192.168."

// ErrNoNetworks is returned when a CIDR matcher is built without networks.
var ErrNoNetworks = errors.New("cidr matcher requires at least one network")

// Matcher decides whether an address belongs to the monitored internal
// network. The zero value matches nothing.
type Matcher struct {
	mode     MatchMode
	prefix   string
	networks []netip.Prefix
}

// DefaultMatcher returns the literal "192.168." prefix matcher.
func DefaultMatcher() Matcher {
	return NewPrefixMatcher(DefaultInternalPrefix)
}

// NewPrefixMatcher matches addresses whose text starts with prefix.
func NewPrefixMatcher(prefix string) Matcher {
	return Matcher{mode: MatchPrefix, prefix: prefix}
}

// NewCIDRMatcher matches addresses contained in any of the given networks.
func NewCIDRMatcher(cidrs []string) (Matcher, error) {
	if len(cidrs) == 0 {
		return Matcher{}, ErrNoNetworks
	}
	networks := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(strings.TrimSpace(c))
		if err != nil {
			return Matcher{}, fmt.Errorf("parse internal network %q: %w", c, err)
		}
		networks = append(networks, p.Masked())
	}
	return Matcher{mode: MatchCIDR, networks: networks}, nil
}

// NewMatcher builds a matcher from its configured mode.
func NewMatcher(mode MatchMode, prefix string, cidrs []string) (Matcher, error) {
	switch mode {
	case "", MatchPrefix:
		if prefix == "" {
			prefix = DefaultInternalPrefix
		}
		return NewPrefixMatcher(prefix), nil
	case MatchCIDR:
		return NewCIDRMatcher(cidrs)
	default:
		return Matcher{}, fmt.Errorf("unknown internal match mode %q", mode)
	}
}

// Mode returns the matching mode.
func (m Matcher) Mode() MatchMode { return m.mode }

// IsInternal reports whether ip is internal. A "/len" suffix is ignored.
func (m Matcher) IsInternal(ip string) bool {
	host := StripMask(ip)
	if host == "" {
		return false
	}

	switch m.mode {
	case MatchPrefix:
		return strings.HasPrefix(host, m.prefix)
	case MatchCIDR:
		addr, err := netip.ParseAddr(host)
		if err != nil {
			return false
		}
		addr = addr.Unmap()
		for _, n := range m.networks {
			if n.Contains(addr) {
				return true
			}
		}
	}
	return false
}

// InternalHost returns the event's internal address, checking the source
// first and then the destination.
func (m Matcher) InternalHost(ev *telemetry.Event) (string, bool) {
	if m.IsInternal(ev.SourceIP) {
		return StripMask(ev.SourceIP), true
	}
	if m.IsInternal(ev.DestinationIP) {
		return StripMask(ev.DestinationIP), true
	}
	return "", false
}

// StripMask drops a trailing "/len" from an address.
func StripMask(ip string) string {
	host, _, _ := strings.Cut(strings.TrimSpace(ip), "/")
	return host
}
