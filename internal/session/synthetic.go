package session

// SyntheticTime returns the last-played time assigned to the track at
// 1-indexed position i of n in a session starting at start and lasting window
// seconds: start + window*i/n, with integer division.
//
// The result depends only on its arguments, so a retry reproduces the value a
// reconcile computed. It is monotonic in i, and t(n) == start+window.
// Positions outside 1..n are clamped.
func SyntheticTime(start, window int64, i, n int) int64 {
	if n <= 0 {
		return start
	}

	if i < 1 {
		i = 1
	}

	if i > n {
		i = n
	}

	return start + window*int64(i)/int64(n)
}
