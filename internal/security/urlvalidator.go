package security

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var (
	ErrPrivateIP     = errors.New("URL resolves to private IP address")
	ErrUntrustedHost = errors.New("URL host is not trusted")
	ErrInvalidScheme = errors.New("only HTTPS URLs are allowed")
)

// DefaultImageHosts are the hosts Gemini and Google storage serve generated
// or uploaded images from.
var DefaultImageHosts = []string{
	"generativelanguage.googleapis.com",
	"storage.googleapis.com",
	"googleusercontent.com",
}

// URLValidator guards remote image handles against SSRF before they are
// fetched.
type URLValidator struct {
	// Strict limits fetches to AllowedHosts and their subdomains.
	Strict       bool
	AllowedHosts []string
	// LookupIP is swapped out by tests; it defaults to net.LookupIP.
	LookupIP func(host string) ([]net.IP, error)
}

func NewURLValidator(strict bool) *URLValidator {
	return &URLValidator{
		Strict:       strict,
		AllowedHosts: DefaultImageHosts,
		LookupIP:     net.LookupIP,
	}
}

func (v *URLValidator) Validate(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "https" {
		return ErrInvalidScheme
	}

	host := parsed.Hostname()
	if v.Strict && !v.isAllowedHost(host) {
		return fmt.Errorf("%w: %s", ErrUntrustedHost, host)
	}

	return v.validateHostIP(host)
}

func (v *URLValidator) isAllowedHost(host string) bool {
	host = strings.ToLower(host)
	for _, allowed := range v.AllowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func (v *URLValidator) validateHostIP(host string) error {
	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrPrivateIP
		}
		return nil
	}

	lookup := v.LookupIP
	if lookup == nil {
		lookup = net.LookupIP
	}
	ips, err := lookup(host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}

	for _, ip := range ips {
		if isPrivateIP(ip) {
			return ErrPrivateIP
		}
	}
	return nil
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() || ip.IsUnspecified() || ip.IsMulticast() {
		return true
	}

	ip4 := ip.To4()
	if ip4 == nil {
		return false
	}
	for _, block := range reservedIPv4 {
		if block.Contains(ip4) {
			return true
		}
	}
	return false
}

var reservedIPv4 = mustParseCIDRs(
	"0.0.0.0/8",
	"100.64.0.0/10", // CGNAT
	"192.0.0.0/24",
	"192.0.2.0/24",    // TEST-NET-1
	"198.51.100.0/24", // TEST-NET-2
	"203.0.113.0/24",  // TEST-NET-3
	"240.0.0.0/4",
)

func mustParseCIDRs(blocks ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(blocks))
	for _, b := range blocks {
		_, n, err := net.ParseCIDR(b)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}
