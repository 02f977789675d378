package types

import (
	"strings"
)

// ValidatePodName checks the DNS-label rules for pod names: 1-63 chars,
// lowercase alphanumerics with internal hyphens.
func ValidatePodName(name string) bool {
	if len(name) == 0 || len(name) > 63 {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-':
			if i == 0 || i == len(name)-1 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// ValidateStreamSegment checks a single stream path segment:
// [A-Za-z0-9_.-]+, never "." or "..".
func ValidateStreamSegment(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return validNameChars(name)
}

// ValidateRecordName checks a record name: non-empty, at most 256 chars,
// may contain dots but not begin or end with one.
func ValidateRecordName(name string) bool {
	if name == "" || len(name) > 256 {
		return false
	}
	if name[0] == '.' || name[len(name)-1] == '.' {
		return false
	}
	return validNameChars(name)
}

func validNameChars(name string) bool {
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '_' || c == '.' || c == '-':
		default:
			return false
		}
	}
	return true
}

// IsSystemPath reports whether a stream path is under the .config root
func IsSystemPath(path string) bool {
	p := strings.TrimPrefix(path, "/")
	return p == ".config" || strings.HasPrefix(p, ".config/")
}

// SplitPath splits a /-separated stream path into its segments
func SplitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// JoinPath joins segments into a canonical stream path starting with "/"
func JoinPath(segments []string) string {
	return "/" + strings.Join(segments, "/")
}
