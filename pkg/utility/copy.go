// Package utility provides nilness-preserving copy and equality helpers for
// the string slices and maps the build core hands across boundaries:
// operation command lines, environment maps, and metadata deltas.
package utility

// CopyStringSlice creates a copy of a string slice, e.g. an exec operation's
// command line before it crosses into a runner. It preserves nil/non-nil
// characteristics for empty slices.
func CopyStringSlice(s []string) []string {
	// If the slice is nil, then preserve its nilness. For zero-length,
	// non-nil slices, we still allocate on the heap to preserve non-nilness.
	if s == nil {
		return nil
	}

	// Make a copy.
	result := make([]string, len(s))
	copy(result, s)

	// Done.
	return result
}

// CopyStringMap creates a copy of a string map, e.g. an execution context's
// environment before it crosses into a runner. It preserves nil/non-nil
// characteristics for empty maps.
func CopyStringMap(m map[string]string) map[string]string {
	// If the map is nil, then preserve its nilness. For zero-length, non-nil
	// maps, we still allocate on the heap to preserve non-nilness.
	if m == nil {
		return nil
	}

	// Make a copy.
	result := make(map[string]string, len(m))
	for k, v := range m {
		result[k] = v
	}

	// Done.
	return result
}
