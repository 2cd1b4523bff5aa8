package orchestrator

import "testing"

func TestPathScopeAllowsEverythingWhenUnconfigured(t *testing.T) {
	s := newPathScope(nil)
	if !s.allowed("/anything/goes") {
		t.Fatal("expected unconfigured scope to allow all paths")
	}
}

func TestPathScopeMatchesConfiguredPrefixes(t *testing.T) {
	s := newPathScope([]string{"/upload/documents", "/upload/images/"})

	cases := map[string]bool{
		"/upload/documents":        true,
		"/upload/documents/a.pdf":  true,
		"/upload/images/photo.png": true,
		"/upload/videos/a.mp4":     false,
		"/other":                   false,
	}
	for p, want := range cases {
		if got := s.allowed(p); got != want {
			t.Errorf("allowed(%q) = %v, want %v", p, got, want)
		}
	}
}

func TestPathScopeDedupesAndSortsLongestFirst(t *testing.T) {
	s := newPathScope([]string{"/upload", "/upload", "/upload/documents"})
	if len(s.prefixes) != 2 {
		t.Fatalf("prefixes = %v, want 2 deduped entries", s.prefixes)
	}
	if s.prefixes[0] != "/upload/documents" {
		t.Fatalf("prefixes[0] = %q, want longest prefix first", s.prefixes[0])
	}
}
