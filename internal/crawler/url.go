package crawler

import (
	"net/url"
	"strings"
)

const defaultScheme = "https"

// SameDomain reports whether two netlocs share the same top-level and
// second-level labels. An empty netloc on either side matches anything, which
// is how relative links are admitted.
func SameDomain(a, b string) bool {
	if a == "" || b == "" || a == b {
		return true
	}
	la := strings.Split(a, ".")
	lb := strings.Split(b, ".")
	if len(la) < 2 || len(lb) < 2 {
		return false
	}
	return la[len(la)-1] == lb[len(lb)-1] && la[len(la)-2] == lb[len(lb)-2]
}

// BuildURL rebuilds a link from its scheme, netloc and path only, dropping the
// query string and fragment. Missing parts are inherited from the page the
// link was found on.
func BuildURL(page, link *url.URL) string {
	scheme := strings.ToLower(link.Scheme)
	if scheme == "" && page != nil {
		scheme = strings.ToLower(page.Scheme)
	}
	if scheme == "" {
		scheme = defaultScheme
	}
	host := link.Host
	if host == "" && page != nil {
		host = page.Host
	}
	out := url.URL{
		Scheme: scheme,
		Host:   strings.ToLower(host),
		Path:   normalizePath(link.Path),
	}
	return out.String()
}

// IsPDF reports whether a path names a PDF document; a trailing slash is
// ignored.
func IsPDF(path string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimRight(path, "/")), ".pdf")
}

// LooksLikeArticle reports whether the final path segment is slug-like: at
// least three hyphen-separated tokens made only of ASCII letters, digits,
// '-' and '.'.
func LooksLikeArticle(path string) bool {
	segments := strings.Split(strings.TrimRight(path, "/"), "/")
	last := segments[len(segments)-1]
	tokens := strings.Split(last, "-")
	if len(tokens) < 3 {
		return false
	}
	for _, token := range tokens {
		for _, c := range token {
			if !isSlugRune(c) {
				return false
			}
		}
	}
	return true
}

// ParentPath returns every segment but the last, the de-dup key candidate for
// article-like URLs.
func ParentPath(path string) string {
	segments := strings.Split(strings.TrimRight(path, "/"), "/")
	return strings.Join(segments[:len(segments)-1], "/")
}

func isSlugRune(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '.':
		return true
	default:
		return false
	}
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}
