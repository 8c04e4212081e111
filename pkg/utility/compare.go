package utility

// StringSlicesEqual determines whether or not two string slices are equal.
// Nil and zero-length slices are considered equal.
func StringSlicesEqual(first, second []string) bool {
	// Check lengths.
	if len(first) != len(second) {
		return false
	}

	// Compare elements.
	for i, f := range first {
		if second[i] != f {
			return false
		}
	}

	// Done.
	return true
}

// StringMapsEqual determines whether or not two string maps are equal. Nil
// and zero-length maps are considered equal.
func StringMapsEqual(first, second map[string]string) bool {
	// Check lengths.
	if len(first) != len(second) {
		return false
	}

	// Compare entries.
	for k, f := range first {
		if s, ok := second[k]; !ok || s != f {
			return false
		}
	}

	// Done.
	return true
}
