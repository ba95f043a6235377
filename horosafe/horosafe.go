// Package horosafe holds the input guards used at seltrust's edges: admin
// token strength, peer URL checks for remote routes, request identifiers,
// shop domains and bounded body reads.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MinSecretLen is the minimum length of an admin token before hashing.
const MinSecretLen = 32

// MaxRequestBody caps capture uploads and admin requests (1 MiB).
const MaxRequestBody int64 = 1 << 20

// ErrSecretTooShort is returned when a secret does not meet MinSecretLen.
var ErrSecretTooShort = fmt.Errorf("horosafe: secret must be at least %d bytes", MinSecretLen)

// ErrSSRF is returned when a URL targets a private/loopback address.
var ErrSSRF = errors.New("horosafe: URL targets a private or loopback address")

// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
var ErrUnsafeScheme = errors.New("horosafe: only http and https schemes are allowed")

// ValidateSecret checks that secret is at least MinSecretLen bytes.
func ValidateSecret(secret []byte) error {
	if len(secret) < MinSecretLen {
		return ErrSecretTooShort
	}
	return nil
}

// ValidateURL checks that rawURL uses http/https, has a hostname, and does
// not resolve to a private or loopback IP (SSRF prevention).
// DNS resolution is performed to catch rebinding via internal hostnames.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("horosafe: URL has no host")
	}

	// Check literal IP first.
	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrSSRF
		}
		return nil
	}

	// Resolve hostname and check all addresses.
	addrs, err := net.LookupHost(host)
	if err != nil {
		// Unresolvable hosts fail later at dial time.
		return nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && isPrivateIP(ip) {
			return ErrSSRF
		}
	}
	return nil
}

// MaxDomainLen bounds a domain key in characters: a 253-character host plus
// a port.
const MaxDomainLen = 259

// ValidateDomain accepts a shop domain as given by a client: letters and
// digits of any script (so IDN hosts like "żabka.pl" stay as typed), hyphen,
// underscore, dot, and the colon and brackets of a host:port or IPv6 key.
// Surrounding whitespace is tolerated; a blank value is not.
func ValidateDomain(s string) error {
	d := strings.TrimSpace(s)
	if d == "" {
		return fmt.Errorf("horosafe: domain must not be empty")
	}
	if utf8.RuneCountInString(d) > MaxDomainLen {
		return fmt.Errorf("horosafe: domain too long (max %d)", MaxDomainLen)
	}
	if !utf8.ValidString(d) {
		return fmt.Errorf("horosafe: domain is not valid UTF-8")
	}
	for _, r := range d {
		if !isDomainChar(r) {
			return fmt.Errorf("horosafe: invalid character %q in domain", r)
		}
	}
	return nil
}

// ValidateIdentifier accepts ids taken from URL path segments:
// alphanumerics, underscore, hyphen and dot, at most 256 bytes.
func ValidateIdentifier(s string) error {
	if s == "" {
		return fmt.Errorf("horosafe: identifier must not be empty")
	}
	if len(s) > 256 {
		return fmt.Errorf("horosafe: identifier too long (max 256)")
	}
	for _, r := range s {
		if !isIdentChar(r) {
			return fmt.Errorf("horosafe: invalid character %q in identifier", r)
		}
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r and fails beyond that.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	lr := io.LimitReader(r, maxBytes+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("horosafe: response exceeds %d bytes", maxBytes)
	}
	return data, nil
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}

func isDomainChar(r rune) bool {
	switch r {
	case '-', '_', '.', ':', '[', ']':
		return true
	}
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}
