package extract

// SequenceRatio measures similarity of two strings in [0,1] as
// 2*M/T, where M is the total length of the longest matching blocks and T the
// combined length. This mirrors the classic sequence-matcher ratio so fuzzy
// thresholds tuned against it carry over.
func SequenceRatio(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	matches := matchingBlockLength([]byte(a), []byte(b))
	return 2.0 * float64(matches) / float64(len(a)+len(b))
}

// matchingBlockLength sums the longest common substring and recurses into the
// unmatched regions on both sides, the way difflib's get_matching_blocks does.
func matchingBlockLength(a, b []byte) int {
	aStart, bStart, size := longestCommonSubstring(a, b)
	if size == 0 {
		return 0
	}
	total := size
	total += matchingBlockLength(a[:aStart], b[:bStart])
	total += matchingBlockLength(a[aStart+size:], b[bStart+size:])
	return total
}

func longestCommonSubstring(a, b []byte) (aStart, bStart, size int) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0, 0
	}
	// lengths[j] holds the common-suffix length ending at a[i-1], b[j-1].
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > size {
					size = cur[j]
					aStart = i - size
					bStart = j - size
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return aStart, bStart, size
}
