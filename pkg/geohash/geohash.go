// Package geohash implements the coarse distance estimate used by the
// scheduler's scoring function: a lookup table keyed by the length of
// the common prefix shared by two geohash strings.
package geohash

// distanceByPrefixLen maps a common-prefix length (0-6) to an estimated
// distance in kilometers between the two geohash cells.
var distanceByPrefixLen = [7]float64{
	0: 5000,
	1: 5000,
	2: 1250,
	3: 156,
	4: 39,
	5: 5,
	6: 1.2,
}

// CommonPrefixLen returns the number of leading characters shared by a
// and b, capped at the length of the shorter string.
func CommonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// DistanceKM estimates the distance in kilometers between two geohash
// strings from their common-prefix length. A prefix longer than 6 is
// treated as 6 (full precision).
func DistanceKM(a, b string) float64 {
	n := CommonPrefixLen(a, b)
	if n > 6 {
		n = 6
	}
	return distanceByPrefixLen[n]
}

// Valid reports whether s is a well-formed 6-character lowercase base32
// geohash, per the node-document invariant in the data model.
func Valid(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z' && c != 'a' && c != 'i' && c != 'l' && c != 'o':
			// base32 geohash alphabet excludes a, i, l, o
		case c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}
