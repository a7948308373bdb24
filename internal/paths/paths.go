// Package paths canonicalizes tracked page paths and classifies article pages.
package paths

import (
	"net/url"
	"regexp"
	"strings"
)

// parseBase resolves relative inputs such as "post/abc" or "?q=1".
var parseBase = &url.URL{Scheme: "http", Host: "error.local", Path: "/"}

var articlePathPattern = regexp.MustCompile(`^/posts?/[A-Za-z0-9_-]+$`)

// Normalize turns a raw page path into its canonical key.
// Input is cleaned the way browsers clean URLs: control characters and spaces
// at either end are trimmed, tabs and newlines are removed and backslashes
// count as slashes. The result always starts with "/", and every path except
// the root has its trailing slashes removed. The path keeps its
// percent-encoded form, query and fragment are dropped. A "scheme:rest" input
// without a host keeps rest as its path. Unparseable input is kept as-is and
// only gets the slash treatment.
func Normalize(raw string) string {
	cleaned := clean(raw)
	if cleaned == "" {
		return "/"
	}

	p := cleaned
	if ref, err := url.Parse(cleaned); err == nil {
		if ref.Opaque != "" {
			p = ref.Opaque
		} else {
			p = parseBase.ResolveReference(ref).EscapedPath()
		}
	}

	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if p != "/" {
		p = strings.TrimRight(p, "/")
	}
	if p == "" {
		return "/"
	}
	return p
}

var urlNoise = strings.NewReplacer("\t", "", "\n", "", "\r", "", "\\", "/")

func clean(raw string) string {
	trimmed := strings.TrimFunc(raw, func(r rune) bool { return r <= ' ' })
	return urlNoise.Replace(trimmed)
}

// IsArticlePath reports whether path is /post/<slug> or /posts/<slug>, the only
// paths that get their own page counters.
func IsArticlePath(path string) bool {
	return articlePathPattern.MatchString(path)
}
