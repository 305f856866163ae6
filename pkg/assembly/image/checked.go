package image

import "golang.org/x/exp/constraints"

// CheckedAdd returns a+b and whether the sum fit in T.
func CheckedAdd[T constraints.Unsigned](a, b T) (T, bool) {
	s := a + b
	return s, s >= a
}
