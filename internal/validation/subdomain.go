package validation

import "regexp"

// Subdomain rules (single DNS label, RFC 1123):
// - Lowercase only.
// - Start and end with [a-z0-9].
// - Middle chars may include [a-z0-9-].
// - Length 1..63.
// - No dots: the label hangs directly off the base domain, and it also names
//   the htpasswd file on disk, so separators and path chars are out.
//
// Examples valid: pelis, nube, media-2, a, 0x9.
// Examples invalid: -lead, trail-, con.punto, MAYUS, "con espacio", "", 64+ chars.
var subdomainRe = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?$`)

// ValidSubdomain returns true if the provided label matches the allowed pattern.
func ValidSubdomain(label string) bool {
	return subdomainRe.MatchString(label)
}
