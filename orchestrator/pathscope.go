package orchestrator

import (
	"path"
	"sort"
	"strings"
)

// pathScope validates inbound request paths against a configured
// allow-list of prefixes before the orchestrator ever touches the
// backend URL, generalizing gobeaver-filekit's MountManager longest-
// prefix matching (mount.go's normalizeMountPath + sortedPaths) from
// virtual filesystem namespacing to upload-route scoping. An empty
// scope allows every path, matching the "allow all" default the rest
// of avgate's allow-lists use when unconfigured.
type pathScope struct {
	prefixes []string
}

func newPathScope(raw []string) *pathScope {
	seen := make(map[string]struct{}, len(raw))
	var prefixes []string
	for _, p := range raw {
		np := normalizeScopePath(p)
		if np == "" {
			continue
		}
		if _, ok := seen[np]; ok {
			continue
		}
		seen[np] = struct{}{}
		prefixes = append(prefixes, np)
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	return &pathScope{prefixes: prefixes}
}

// allowed reports whether requestPath falls under one of the configured
// prefixes. No prefixes configured means every path is in scope.
func (s *pathScope) allowed(requestPath string) bool {
	if len(s.prefixes) == 0 {
		return true
	}
	np := normalizeScopePath(requestPath)
	for _, prefix := range s.prefixes {
		if np == prefix || strings.HasPrefix(np, prefix+"/") {
			return true
		}
	}
	return false
}

func normalizeScopePath(p string) string {
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = path.Clean(p)
	if p != "/" {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}
