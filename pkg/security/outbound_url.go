// Package security checks the provider endpoints that requests carrying API
// keys are sent to.
package security

import (
	"net/netip"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

var ErrUnsafeEndpoint = errors.New("unsafe provider endpoint")

// EndpointPolicy says which endpoints a provider may be pointed at.
type EndpointPolicy struct {
	// AllowHTTP permits plain http. https is always allowed.
	AllowHTTP bool
	// AllowLocal permits localhost, .local names and loopback, private or
	// link-local addresses.
	AllowLocal bool
}

// ValidateEndpoint rejects endpoints outside policy. IP literals are checked
// without DNS lookups; host names are only checked for local suffixes.
func ValidateEndpoint(rawURL string, policy EndpointPolicy) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrapf(ErrUnsafeEndpoint, "%q: %v", rawURL, err)
	}
	unsafe := func(format string, args ...interface{}) error {
		return errors.Wrapf(ErrUnsafeEndpoint, "%s: "+format, append([]interface{}{rawURL}, args...)...)
	}

	switch u.Scheme {
	case "https":
	case "http":
		if !policy.AllowHTTP {
			return unsafe("plain http is not allowed")
		}
	default:
		return unsafe("unsupported scheme %q", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return unsafe("missing host")
	}
	if !policy.AllowLocal && isLocalName(host) {
		return unsafe("local host %q is not allowed", host)
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}
	if addr.Zone() != "" && !policy.AllowLocal {
		return unsafe("zoned address %q is not allowed", host)
	}
	addr = addr.Unmap()
	if addr.IsUnspecified() || addr.IsMulticast() {
		return unsafe("address %q is not allowed", host)
	}
	if !policy.AllowLocal && (addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast()) {
		return unsafe("local address %q is not allowed", host)
	}
	return nil
}

func isLocalName(host string) bool {
	return host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local")
}
