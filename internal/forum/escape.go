package forum

import (
	"strconv"
	"strings"
)

// EscapeNonASCII rewrites every code point above 127 as a numeric character
// reference. The forum API mangles raw multi-byte text in post bodies.
func EscapeNonASCII(text string) string {
	var builder strings.Builder
	builder.Grow(len(text))
	for _, r := range text {
		if r > 127 {
			builder.WriteString("&#")
			builder.WriteString(strconv.Itoa(int(r)))
			builder.WriteByte(';')
			continue
		}
		builder.WriteRune(r)
	}
	return builder.String()
}
