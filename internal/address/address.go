// Package address provides phone-number normalization for WhatsApp lookups.
//
// The boundary rule: a raw string is valid iff, after stripping parentheses,
// hyphens and whitespace, it matches an optional leading plus followed by
// 8-18 digits. Anything else is rejected whole with domain.ErrInvalidAddress.
package address

import (
	"regexp"
	"strings"

	"github.com/avelichko/walink/internal/domain"
)

const jidServer = "@s.whatsapp.net"

var (
	addressPattern = regexp.MustCompile(`^\+?\d{8,18}$`)
	// Pairing phones tolerate a slightly wider digit range than lookup
	// addresses (country code required, 7-20 digits).
	phonePattern = regexp.MustCompile(`^\+?\d{7,20}$`)
	stripPattern = regexp.MustCompile(`[()\-\s]`)
)

// Normalize strips separators from raw and validates the result.
func Normalize(raw string) (string, error) {
	s := stripPattern.ReplaceAllString(strings.TrimSpace(raw), "")
	if !addressPattern.MatchString(s) {
		return "", domain.ErrInvalidAddress
	}
	return s, nil
}

// NormalizePhone validates a pairing destination phone number. The returned
// value keeps the leading plus if present; use Digits before handing it to
// the pairing-code request.
func NormalizePhone(raw string) (string, error) {
	s := stripPattern.ReplaceAllString(strings.TrimSpace(raw), "")
	if !phonePattern.MatchString(s) {
		return "", domain.ErrInvalidPhone
	}
	return s, nil
}

// Digits removes everything but digits from a normalized number.
func Digits(n string) string {
	return strings.TrimPrefix(n, "+")
}

// ToJID converts a normalized address into the wire identifier used by the
// messaging network.
func ToJID(n string) string {
	return Digits(n) + jidServer
}
