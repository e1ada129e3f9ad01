// Package cpf validates Brazilian CPF tax ids locally, so invalid ids are
// rejected before any gateway round-trip.
package cpf

import "strings"

// Normalize strips the usual CPF punctuation (dots, dashes, spaces).
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '.', '-', ' ':
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Valid reports whether s is a valid CPF: exactly 11 digits, not all equal,
// with both check digits matching the weighted mod-11 checksum.
func Valid(s string) bool {
	if len(s) != 11 {
		return false
	}
	digits := make([]int, 11)
	allEqual := true
	for i := range 11 {
		c := s[i]
		if c < '0' || c > '9' {
			return false
		}
		digits[i] = int(c - '0')
		if digits[i] != digits[0] {
			allEqual = false
		}
	}
	if allEqual {
		return false
	}

	if checkDigit(digits, 9) != digits[9] {
		return false
	}
	return checkDigit(digits, 10) == digits[10]
}

// checkDigit computes the verification digit over the first n digits, with
// weights n+1 down to 2.
func checkDigit(digits []int, n int) int {
	sum := 0
	for i := range n {
		sum += digits[i] * (n + 1 - i)
	}
	return sum * 10 % 11 % 10
}
