// Package util holds small slice helpers shared by the relay packages.
package util

// CloneSlice clones slice with cloneSize.
// This function will use src length as the clone size if cloneSize is 0.
func CloneSlice[T any](src []T, cloneSize int) []T {
	if cloneSize == 0 {
		cloneSize = len(src)
	}
	clone := make([]T, cloneSize)
	copy(clone, src)

	return clone
}

// Concat joins chunks into one newly allocated slice, preserving their order.
// It returns nil when the total length is zero.
func Concat[T any](chunks [][]T) []T {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	if total == 0 {
		return nil
	}

	out := make([]T, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}

	return out
}
