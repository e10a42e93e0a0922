package dropbox

import (
	"regexp"
	"strings"
)

var repeatedSlashes = regexp.MustCompile(`/+`)

// FormatPath normalizes a Dropbox path: repeated slashes collapse, a
// leading slash is added, and a trailing slash is removed (so "/" becomes
// the empty root path). With escape set, every byte outside
// [A-Za-z0-9-._~/] is percent-encoded for use in a URL path.
func FormatPath(path string, escape bool) string {
	p := repeatedSlashes.ReplaceAllString(path, "/")

	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	p = strings.TrimSuffix(p, "/")

	if escape {
		return escapePath(p)
	}

	return p
}

func escapePath(p string) string {
	const hex = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(p))

	for i := 0; i < len(p); i++ {
		c := p[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}

		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}

	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~', c == '/':
		return true
	default:
		return false
	}
}
