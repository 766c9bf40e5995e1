package tlv

import (
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

// ParseHex joins parts and decodes them as hex. Whitespace and ':'
// separators are dropped, so "00 A4 04 00" and "AA:BB" are both accepted.
func ParseHex(parts ...string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		if r == ':' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, strings.Join(parts, ""))

	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", clean, err)
	}
	return data, nil
}

// Hex is ParseHex for literals. It panics on bad input.
func Hex(parts ...string) []byte {
	data, err := ParseHex(parts...)
	if err != nil {
		panic(err)
	}
	return data
}
