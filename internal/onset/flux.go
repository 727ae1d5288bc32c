// SPDX-License-Identifier: MIT
package onset

// RectifiedFlux returns the sum of bin-wise energy increases from prev to
// cur. Decreases are ignored since onsets are energy increases. Both slices
// must have the same length.
func RectifiedFlux(cur, prev []byte) float64 {
	var sum int
	for k := range cur {
		if d := int(cur[k]) - int(prev[k]); d > 0 {
			sum += d
		}
	}
	return float64(sum)
}

// SubBandBounds returns the half-open bin range [lo, hi) of band b when n
// bins are split into count contiguous bands. The last band absorbs the
// remainder bins.
func SubBandBounds(n, count, b int) (lo, hi int) {
	width := n / count
	lo = b * width
	hi = lo + width
	if b == count-1 {
		hi = n
	}
	return lo, hi
}

// subBandFlux writes the rectified flux of each band into dst and returns
// their total, which equals RectifiedFlux over the whole frame.
func subBandFlux(dst []float64, cur, prev []byte) float64 {
	var total float64
	for b := range dst {
		lo, hi := SubBandBounds(len(cur), len(dst), b)
		dst[b] = RectifiedFlux(cur[lo:hi], prev[lo:hi])
		total += dst[b]
	}
	return total
}
