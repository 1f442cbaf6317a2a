package writer

// Split cuts items into consecutive batches of at most size records. The
// batches share the backing array of items but are capped so appending to
// one never overwrites the next.
func Split[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(items)
	}
	batches := make([][]T, 0, (len(items)+size-1)/size)
	for i := 0; i < len(items); i += size {
		end := min(i+size, len(items))
		batches = append(batches, items[i:end:end])
	}
	return batches
}
