package utils

// DeduplicateBy 根据 key 去重, 保留第一次出现的元素, 同时返回被丢弃的元素
func DeduplicateBy[T any](items []T, key func(T) string) (deduplicated, dropped []T) {
	deduplicated = make([]T, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		k := key(item)
		if _, ok := seen[k]; ok {
			dropped = append(dropped, item)
			continue
		}
		seen[k] = struct{}{}
		deduplicated = append(deduplicated, item)
	}
	return deduplicated, dropped
}

// KeySet builds a membership set of the keys of items.
func KeySet[T any](items []T, key func(T) string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[key(item)] = struct{}{}
	}
	return set
}
