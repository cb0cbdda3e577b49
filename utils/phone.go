// Package utils provides utility functions for the application.
package utils

import (
	"errors"
	"strings"
)

// ErrInvalidPhoneNumber is returned when a phone number cannot be normalized
var ErrInvalidPhoneNumber = errors.New("invalid phone number")

// NormalizePhone canonicalizes a phone number to +<country><national> form.
// External systems send numbers in every imaginable shape; dedup and DNC
// lookups only work when both sides agree on one format.
//
// Rules:
//   - strip spaces, dashes, dots, parentheses
//   - "00" international prefix becomes "+"
//   - bare 10-digit numbers are assumed NANP and get "+1"
//   - 11-digit numbers starting with "1" get "+"
//   - anything shorter than 8 or longer than 15 digits is rejected
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+':
			if b.Len() == 0 {
				b.WriteRune(r)
			}
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
			// separators, drop
		default:
			return "", ErrInvalidPhoneNumber
		}
	}
	s := b.String()
	if s == "" {
		return "", ErrInvalidPhoneNumber
	}

	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	}

	digits := strings.TrimPrefix(s, "+")
	if len(digits) < 8 || len(digits) > 15 {
		return "", ErrInvalidPhoneNumber
	}

	if !strings.HasPrefix(s, "+") {
		switch {
		case len(digits) == 10:
			s = "+1" + digits
		case len(digits) == 11 && digits[0] == '1':
			s = "+" + digits
		default:
			s = "+" + digits
		}
	}
	return s, nil
}

// MustNormalizePhone is a test helper; it panics on invalid input.
func MustNormalizePhone(raw string) string {
	p, err := NormalizePhone(raw)
	if err != nil {
		panic(err)
	}
	return p
}
