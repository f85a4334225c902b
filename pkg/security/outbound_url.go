package security

import (
	"net/netip"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

var ErrUnsafeURL = errors.New("unsafe URL")

// OutboundURLOptions configures validation of the verification service URL.
type OutboundURLOptions struct {
	// AllowHTTP permits plain HTTP URLs. HTTPS is always allowed.
	AllowHTTP bool
	// AllowLocalNetworks permits loopback, private and link-local targets.
	AllowLocalNetworks bool
}

// ValidateOutboundURL checks that claims are only sent to an acceptable
// endpoint. IP literals are checked without DNS lookups.
func ValidateOutboundURL(rawURL string, opts OutboundURLOptions) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrap(ErrUnsafeURL, err.Error())
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		if !opts.AllowHTTP {
			return errors.Wrap(ErrUnsafeURL, "http scheme is not allowed")
		}
	default:
		return errors.Wrapf(ErrUnsafeURL, "unsupported URL scheme %q", parsed.Scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return errors.Wrap(ErrUnsafeURL, "URL host is required")
	}
	if parsed.User != nil {
		return errors.Wrap(ErrUnsafeURL, "credentials in URL are not allowed")
	}

	if !opts.AllowLocalNetworks && isLocalHostname(host) {
		return errors.Wrapf(ErrUnsafeURL, "local hostname %q is not allowed", host)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if addr.Zone() != "" && !opts.AllowLocalNetworks {
			return errors.Wrapf(ErrUnsafeURL, "zoned IP address %q is not allowed", host)
		}
		addr = addr.Unmap()

		if addr.IsUnspecified() || addr.IsMulticast() {
			return errors.Wrapf(ErrUnsafeURL, "disallowed IP address %q", host)
		}

		if !opts.AllowLocalNetworks && isLocalAddr(addr) {
			return errors.Wrapf(ErrUnsafeURL, "local network IP %q is not allowed", host)
		}
	}

	return nil
}

func isLocalHostname(host string) bool {
	return host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local")
}

func isLocalAddr(addr netip.Addr) bool {
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast()
}

// SafeLinkURL returns the normalized URL of a source link if it may be shown
// as a clickable link, that is an absolute http or https URL with a host.
// Anything else, javascript: and data: URLs included, yields false.
func SafeLinkURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	if parsed.Hostname() == "" || parsed.User != nil {
		return "", false
	}
	parsed.Scheme = scheme
	return parsed.String(), true
}
