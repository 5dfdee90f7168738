// Package aggregate provides small generic helpers over slices: sums,
// partitions and groupings keyed by a caller-supplied function.
package aggregate

// Number is any type that can be summed.
type Number interface {
	~int | ~int32 | ~int64 | ~float32 | ~float64
}

// Sum adds up xs.
func Sum[N Number](xs []N) N {
	var total N
	for _, x := range xs {
		total += x
	}
	return total
}

// SumBy adds up f(x) for every element.
func SumBy[T any, N Number](xs []T, f func(T) N) N {
	var total N
	for _, x := range xs {
		total += f(x)
	}
	return total
}

// Partition splits xs into the elements matching pred and the rest,
// preserving order in both.
func Partition[T any](xs []T, pred func(T) bool) (matched, rest []T) {
	for _, x := range xs {
		if pred(x) {
			matched = append(matched, x)
		} else {
			rest = append(rest, x)
		}
	}
	return matched, rest
}

// GroupBy buckets xs by key, preserving order within each bucket.
func GroupBy[T any, K comparable](xs []T, key func(T) K) map[K][]T {
	groups := make(map[K][]T)
	for _, x := range xs {
		k := key(x)
		groups[k] = append(groups[k], x)
	}
	return groups
}

// Uniq returns the distinct keys of xs in first-seen order.
func Uniq[T any, K comparable](xs []T, key func(T) K) []K {
	seen := make(map[K]struct{}, len(xs))
	var out []K
	for _, x := range xs {
		k := key(x)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// Last returns the final element and whether there was one.
func Last[T any](xs []T) (T, bool) {
	var zero T
	if len(xs) == 0 {
		return zero, false
	}
	return xs[len(xs)-1], true
}
