// Package gen contains a few generic helpers that the standard library does not quite cover
package gen

import "cmp"

// Clamp v to the inclusive range [lo, hi]
func Clamp[T cmp.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// DrainChannelIntoSlice reads from a channel until it is empty, and returns all items in a slice.
// It never blocks.
func DrainChannelIntoSlice[T any](ch <-chan T) []T {
	slice := make([]T, 0, len(ch)) // optimize for the common case where we're the only reader
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return slice
			}
			slice = append(slice, v)
		default:
			return slice
		}
	}
}
