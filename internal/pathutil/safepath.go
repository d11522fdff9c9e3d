// Package pathutil validates user-influenced path and object key fragments.
package pathutil

import "strings"

// HasDotSegments reports whether any "/"-separated segment of p is "." or ".."
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// IsSafeName reports whether name can be used as a single object key
// segment: non-empty, no separators, no dot segments, printable ASCII.
func IsSafeName(name string) bool {
	if name == "" || len(name) > 255 || HasDotSegments(name) {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= 0x20 || c >= 0x7f || c == '/' || c == '\\' {
			return false
		}
	}
	return true
}
