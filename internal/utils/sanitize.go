package utils

// SanitizeName replaces every character outside the StackSet-safe set with the
// replacement rune. The safe set is [A-Za-z0-9._-], plus space when spaceAllowed
// is set. The transform is idempotent as long as the replacement rune is itself
// in the safe set.
func SanitizeName(name string, spaceAllowed bool, replacement rune) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if isSafe(r) || (spaceAllowed && r == ' ') {
			out = append(out, r)
			continue
		}
		out = append(out, replacement)
	}
	return string(out)
}

// TrimLength truncates s to at most limit bytes. CloudFormation StackSet names
// cap at 128 characters; Service Catalog products at 8191.
func TrimLength(s string, limit int) string {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}

func isSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '.' || r == '_' || r == '-':
		return true
	}
	return false
}
