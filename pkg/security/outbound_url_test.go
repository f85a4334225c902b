package security

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestValidateOutboundURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		opts    OutboundURLOptions
		wantErr bool
	}{
		{name: "https public host", url: "https://verify.example.com"},
		{name: "http rejected by default", url: "http://verify.example.com", wantErr: true},
		{name: "http allowed", url: "http://13.60.241.86:5000", opts: OutboundURLOptions{AllowHTTP: true}},
		{name: "ftp scheme", url: "ftp://example.com", wantErr: true},
		{name: "missing host", url: "https:///path", wantErr: true},
		{name: "credentials", url: "https://user:pw@example.com", wantErr: true},
		{name: "localhost", url: "https://localhost:5000", wantErr: true},
		{name: "localhost allowed", url: "http://localhost:5000", opts: OutboundURLOptions{AllowHTTP: true, AllowLocalNetworks: true}},
		{name: "private ip", url: "https://10.0.0.4", wantErr: true},
		{name: "mapped loopback", url: "https://[::ffff:127.0.0.1]", wantErr: true},
		{name: "unspecified always rejected", url: "https://0.0.0.0", opts: OutboundURLOptions{AllowLocalNetworks: true}, wantErr: true},
		{name: "zoned ipv6 rejected", url: "https://[fe80::1%25eth0]/", wantErr: true},
		{name: "zoned ipv6 with local networks", url: "https://[fe80::1%25eth0]/", opts: OutboundURLOptions{AllowLocalNetworks: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOutboundURL(tt.url, tt.opts)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrUnsafeURL), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSafeLinkURL(t *testing.T) {
	link, ok := SafeLinkURL("  HTTPS://www.nasa.gov/sky ")
	assert.True(t, ok)
	assert.Equal(t, "https://www.nasa.gov/sky", link)

	for _, raw := range []string{"", "javascript:alert(1)", "data:text/html,hi", "/relative", "nasa.gov", "https://user@evil.com"} {
		_, ok := SafeLinkURL(raw)
		assert.False(t, ok, raw)
	}
}
