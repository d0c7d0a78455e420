package proxy

import (
	"regexp"
	"strings"
)

// extensionPattern matches a trailing file extension such as ".css" or ".js".
var extensionPattern = regexp.MustCompile(`(?i)\.[a-z0-9]+$`)

// HasExtension reports whether the last path segment has a file extension.
func HasExtension(path string) bool {
	return extensionPattern.MatchString(path)
}

// RewriteCleanURL maps an extensionless path onto an HTML resource:
// "/docs/" becomes "/docs/index.html" and "/about" becomes "/about.html".
// Paths with an extension are returned unchanged.
func RewriteCleanURL(path string) string {
	if path == "" {
		path = "/"
	}
	if HasExtension(path) {
		return path
	}
	if strings.HasSuffix(path, "/") {
		return path + "index.html"
	}
	return path + ".html"
}

// FallbackPaths returns the alternates tried, in order, after path returned
// 404: path without ".html" if it has that suffix, otherwise path with
// ".html" when it has no extension; then "<base>/index.html" when path does
// not end in "/", where base is path without ".html".
func FallbackPaths(path string) []string {
	var out []string
	add := func(p string) {
		if p == "" || p == path {
			return
		}
		for _, existing := range out {
			if existing == p {
				return
			}
		}
		out = append(out, p)
	}

	base := path
	switch {
	case strings.HasSuffix(path, ".html"):
		base = strings.TrimSuffix(path, ".html")
		add(base)
	case !HasExtension(path):
		add(path + ".html")
	}

	// The index alternate hangs off base, so "/about.html" falls back to
	// "/about/index.html" rather than "/about.html/index.html".
	if !strings.HasSuffix(path, "/") && base != "" {
		add(strings.TrimSuffix(base, "/") + "/index.html")
	}
	return out
}
