package data

import (
	"fmt"
	gopath "path"
	"strings"
)

// Normalize resolves a possibly relative or traversal-bearing path against
// base into a clean absolute path. Base must itself be absolute; when path
// is already absolute, base is ignored. The result never contains "." or
// ".." segments and carries no trailing slash except for the root itself.
//
// Normalization alone does not guarantee containment; ".." segments that
// climb past the root collapse onto "/" by path.Clean semantics, which the
// policy layer detects by comparing segment counts before and after.
func Normalize(base, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("%w: NUL byte in path", ErrInvalidPath)
	}

	if !strings.HasPrefix(path, "/") {
		if base == "" {
			base = "/"
		}
		path = gopath.Join(base, path)
	}

	return gopath.Clean(path), nil
}

// Split breaks an absolute normalized path into its parent directory and
// base name. The root splits into ("/", "").
func Split(path string) (parent, name string) {
	if path == "/" || path == "" {
		return "/", ""
	}
	parent, name = gopath.Split(strings.TrimSuffix(path, "/"))
	if parent != "/" {
		parent = strings.TrimSuffix(parent, "/")
	}
	if parent == "" {
		parent = "/"
	}
	return parent, name
}

// Join joins a parent path and child name into an absolute path.
func Join(parent, name string) string {
	if name == "" {
		return parent
	}
	return gopath.Join(parent, name)
}

// Depth returns the number of path segments below the root.
// Depth("/") == 0, Depth("/a/b") == 2.
func Depth(path string) int {
	if path == "/" || path == "" {
		return 0
	}
	return strings.Count(strings.TrimSuffix(path, "/"), "/")
}

// IsRoot reports whether path is the filesystem root.
func IsRoot(path string) bool {
	return path == "/"
}

// HasPathPrefix reports whether path lies at or below prefix.
// Both paths must be normalized; unlike strings.HasPrefix this does not
// treat "/foobar" as a child of "/foo".
func HasPathPrefix(path, prefix string) bool {
	if prefix == "/" || prefix == "" {
		return true
	}
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}
