package testing

// BatchIDs splits single ids slice into several slices of two ids where first one is the first provided
// id e.g. [a, b, c, d] -> [[a,b], [a,c], [a,d]]
func BatchIDs[T any](ids []T) [][]T {
	if len(ids) < 2 {
		return nil
	}

	batches := make([][]T, 0, len(ids)-1)
	for i := 1; i < len(ids); i++ {
		batches = append(batches, []T{ids[0], ids[i]})
	}

	return batches
}
