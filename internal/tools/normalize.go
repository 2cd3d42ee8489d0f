package tools

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// NormalizeHex strips the separators people paste along with hex dumps
// ("0x" prefixes, spaces, ':' and '-') and lower-cases the result.
// Examples:
//   - "05 12 FC 53" -> "0512fc53"
//   - "0x0512FC53"  -> "0512fc53"
//   - "05:12:fc:53" -> "0512fc53"
func NormalizeHex(in string) string {
	m := strings.ToLower(strings.TrimSpace(in))
	m = strings.ReplaceAll(m, "0x", "")
	var b strings.Builder
	for _, r := range m {
		switch r {
		case ' ', '\t', '\n', ':', '-':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ParseHex decodes a hex dump in any of the forms NormalizeHex accepts.
func ParseHex(in string) ([]byte, error) {
	s := NormalizeHex(in)
	if s == "" {
		return nil, fmt.Errorf("empty hex input")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex input %q: %w", in, err)
	}
	return b, nil
}
