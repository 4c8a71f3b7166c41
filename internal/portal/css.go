package portal

import (
	"fmt"
	"strings"
)

// CSSEscape escapes s for use as a CSS identifier, following CSS.escape().
// Row classes like grid_row_pr_2024-05-06 are safe as is; a bare date is not.
func CSSEscape(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == 0:
			b.WriteRune('\uFFFD')
		case r >= 0x01 && r <= 0x1f, r == 0x7f,
			i == 0 && r >= '0' && r <= '9',
			i == 1 && r >= '0' && r <= '9' && runes[0] == '-':
			fmt.Fprintf(&b, "\\%x ", r)
		case i == 0 && r == '-' && len(runes) == 1:
			b.WriteString(`\-`)
		case r >= 0x80, r == '-', r == '_',
			r >= '0' && r <= '9', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
			b.WriteRune(r)
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}
