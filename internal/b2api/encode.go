package b2api

import "strings"

const upperhex = "0123456789ABCDEF"

// EncodePath percent-encodes every "/"-separated segment of p on its own and
// joins them back with literal separators. Empty segments are kept.
func EncodePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = EncodeSegment(s)
	}
	return strings.Join(segs, "/")
}

// EncodeSegment escapes everything except A-Z a-z 0-9 and - _ . ! ~ * ' ( ),
// the same set a browser's encodeURIComponent leaves alone.
func EncodeSegment(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if !unreserved(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
