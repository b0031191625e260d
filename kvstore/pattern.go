package kvstore

import "strings"

// globToLike translates a '*' glob into a LIKE pattern. LIKE's own wildcards
// and the escape character are escaped so that every byte other than '*'
// matches literally.
func globToLike(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern))
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			b.WriteByte('%')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
