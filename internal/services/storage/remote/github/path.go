package github

import (
	"strings"

	apperrors "github.com/louisbranch/tierstore/internal/platform/errors"
)

// NormalizePath canonicalizes a repository path: surrounding space trimmed,
// backslashes turned into slashes, leading "./" and "/" removed, repeated
// slashes collapsed and a trailing slash dropped. An empty result is an
// INVALID_ARGUMENT error naming param.
func NormalizePath(p, param string) (string, error) {
	p = cleanPath(p)
	if p == "" {
		return "", apperrors.InvalidArgument(param)
	}
	return p, nil
}

func cleanPath(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), `\`, "/")
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	for {
		switch {
		case strings.HasPrefix(p, "./"):
			p = p[2:]
		case strings.HasPrefix(p, "/"):
			p = p[1:]
		default:
			return strings.TrimSuffix(p, "/")
		}
	}
}
