// Package cnpj normalizes Brazilian company identifiers (CNPJ) into their
// canonical 14-digit form and the 8-digit basic root shared by all branches.
package cnpj

import (
	"database/sql"
	"strings"
)

const (
	// Width is the number of digits in a canonical CNPJ.
	Width = 14
	// BasicWidth is the number of digits in the entity root.
	BasicWidth = 8

	orderWidth = 4
	dvWidth    = 2
)

// Normalize strips every non-digit character from raw and left-pads the
// remainder with zeros to 14 digits. Input without any digit yields "".
// When more than 14 digits remain, the leftmost 14 are kept.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(Width)
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c < '0' || c > '9' {
			continue
		}
		if b.Len() == Width {
			break
		}
		b.WriteByte(c)
	}
	if b.Len() == 0 {
		return ""
	}
	return padLeft(b.String(), Width)
}

// NormalizeNull is Normalize for nullable columns. NULL yields "".
func NormalizeNull(v sql.NullString) string {
	if !v.Valid {
		return ""
	}
	return Normalize(v.String)
}

// Basic returns the 8-digit entity root of a normalized identifier, or ""
// when the input is too short to carry one.
func Basic(normalized string) string {
	if len(normalized) < BasicWidth {
		return ""
	}
	return normalized[:BasicWidth]
}

// Full composes the registry key from its basic, order and check-digit parts.
// Each part is zero-padded to its width; missing parts become zeros.
func Full(basic, order, dv string) string {
	return padLeft(strings.TrimSpace(basic), BasicWidth) +
		padLeft(strings.TrimSpace(order), orderWidth) +
		padLeft(strings.TrimSpace(dv), dvWidth)
}

// Valid reports whether a normalized identifier carries correct mod-11
// check digits. Sequences of a single repeated digit are rejected.
func Valid(normalized string) bool {
	if len(normalized) != Width {
		return false
	}
	same := true
	for i := 0; i < Width; i++ {
		if normalized[i] < '0' || normalized[i] > '9' {
			return false
		}
		if normalized[i] != normalized[0] {
			same = false
		}
	}
	if same {
		return false
	}

	first := checkDigit(normalized[:12], []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2})
	second := checkDigit(normalized[:13], []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2})
	return normalized[12] == first && normalized[13] == second
}

func checkDigit(digits string, weights []int) byte {
	sum := 0
	for i := range weights {
		sum += int(digits[i]-'0') * weights[i]
	}
	r := sum % 11
	if r < 2 {
		return '0'
	}
	return byte('0' + 11 - r)
}

func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
