package testing

// Reverse returns a reversed copy of items
func Reverse[T any](items []T) []T {
	reversed := make([]T, len(items))
	copy(reversed, items)

	for i := len(reversed)/2 - 1; i >= 0; i-- {
		opp := len(reversed) - 1 - i
		reversed[i], reversed[opp] = reversed[opp], reversed[i]
	}

	return reversed
}
