// Package domainkey canonicalises hostnames so that every spelling of a shop
// lands in the same statistical bucket.
//
//	domainkey.Normalize("  WWW.Ikea.PL ") // "ikea.pl"
//
// No validation is performed: the result may be empty or not a real host.
// Callers decide whether an empty key is acceptable.
package domainkey

import "strings"

const wwwPrefix = "www."

// Normalize trims surrounding whitespace, lowercases and strips a single
// leading "www." prefix. It is idempotent.
func Normalize(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, wwwPrefix)
	return d
}

// Variants returns the keys a lookup must match for domain: the canonical
// form and its "www."-prefixed twin. Rows written before normalisation was
// enforced may carry either. Returns nil for a blank domain.
func Variants(domain string) []string {
	d := Normalize(domain)
	if d == "" {
		return nil
	}
	return []string{d, wwwPrefix + d}
}
