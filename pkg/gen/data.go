package gen

// Delete the first occurrence of elem from the slice, returning the modified slice.
// If elem is not found, the slice is returned unchanged.
func DeleteFirst[T comparable](slice []T, elem T) []T {
	for i, v := range slice {
		if v == elem {
			return append(slice[:i], slice[i+1:]...)
		}
	}
	return slice
}

// Delete element i by swapping the last element into its place.
// This does not preserve order, but it is O(1).
func DeleteFromSliceUnordered[T any](slice []T, i int) []T {
	slice[i] = slice[len(slice)-1]
	return slice[:len(slice)-1]
}
