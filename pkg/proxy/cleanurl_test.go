package proxy

import (
	"reflect"
	"testing"
)

func TestRewriteCleanURL(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/about", "/about.html"},
		{"/docs/", "/docs/index.html"},
		{"/", "/index.html"},
		{"", "/index.html"},
		{"/style.css", "/style.css"},
		{"/page.html", "/page.html"},
		{"/assets/app.JS", "/assets/app.JS"},
		{"/blog/post-1", "/blog/post-1.html"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := RewriteCleanURL(tt.path); got != tt.want {
				t.Errorf("RewriteCleanURL(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestFallbackPaths(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{"/about.html", []string{"/about", "/about/index.html"}},
		{"/about", []string{"/about.html", "/about/index.html"}},
		{"/docs/index.html", []string{"/docs/index", "/docs/index/index.html"}},
		{"/style.css", []string{"/style.css/index.html"}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := FallbackPaths(tt.path)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FallbackPaths(%q) = %v, want %v", tt.path, got, tt.want)
			}
			for _, p := range got {
				if p == tt.path {
					t.Errorf("FallbackPaths(%q) contains the original path", tt.path)
				}
			}
		})
	}
}

func TestHasExtension(t *testing.T) {
	tests := map[string]bool{
		"/app.js":      true,
		"/a/b/c.woff2": true,
		"/about":       false,
		"/docs/":       false,
		"/v1.2/users":  false,
	}
	for path, want := range tests {
		if got := HasExtension(path); got != want {
			t.Errorf("HasExtension(%q) = %v, want %v", path, got, want)
		}
	}
}
