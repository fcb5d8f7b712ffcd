package pagination

// Identifiable is implemented by items with a stable identity.
type Identifiable[K comparable] interface {
	ID() K
}

// Merge appends the items of incoming whose identity is not already present
// in existing, preserving the order of both. Items of existing are never
// replaced or reordered. Duplicates within incoming are kept unless they
// collide with existing.
//
// If maxCount > 0 and the merged list is longer, only the last maxCount
// items are kept. Neither input is modified.
func Merge[T any, K comparable](existing, incoming []T, id func(T) K, maxCount int) []T {
	seen := make(map[K]struct{}, len(existing))
	for _, item := range existing {
		seen[id(item)] = struct{}{}
	}

	merged := make([]T, 0, len(existing)+len(incoming))
	merged = append(merged, existing...)
	for _, item := range incoming {
		if _, dup := seen[id(item)]; dup {
			continue
		}
		merged = append(merged, item)
	}

	if maxCount > 0 && len(merged) > maxCount {
		merged = merged[len(merged)-maxCount:]
	}
	return merged
}

// MergeIdentifiable is Merge for items implementing Identifiable.
func MergeIdentifiable[T Identifiable[K], K comparable](existing, incoming []T, maxCount int) []T {
	return Merge(existing, incoming, func(item T) K { return item.ID() }, maxCount)
}
