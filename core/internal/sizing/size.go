// Package sizing provides safe size arithmetic and conversions to prevent overflow.
package sizing

import "math"

// ToInt64 converts a uint64 to int64, returning overflowErr if it doesn't fit.
func ToInt64(size uint64, overflowErr error) (int64, error) {
	if size > uint64(math.MaxInt64) {
		return 0, overflowErr
	}
	return int64(size), nil
}

// ToUint64 converts a non-negative int64 to uint64, returning overflowErr
// for negative values.
func ToUint64(n int64, overflowErr error) (uint64, error) {
	if n < 0 {
		return 0, overflowErr
	}
	return uint64(n), nil
}

// Fits32 reports whether every value fits an unsigned 32-bit field.
func Fits32(values ...uint64) bool {
	for _, v := range values {
		if v > math.MaxUint32 {
			return false
		}
	}
	return true
}

// AddUint64 adds two uint64 values, returning (result, false) on overflow.
func AddUint64(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}
