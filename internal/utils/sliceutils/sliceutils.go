package sliceutils

import "slices"

// DeleteElement deletes the first element in the slice that equals the given
// value.
func DeleteElement[T comparable](slice []T, element T) []T {
	if i := slices.Index(slice, element); i >= 0 {
		return slices.Delete(slice, i, i+1)
	}
	return slice
}

// Map returns a new slice with f applied to every element.
func Map[T, U any](slice []T, f func(T) U) []U {
	result := make([]U, 0, len(slice))
	for _, v := range slice {
		result = append(result, f(v))
	}
	return result
}
