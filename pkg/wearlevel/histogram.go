package wearlevel

// WearBucket counts the good blocks whose erase count is within [Min, Max].
type WearBucket struct {
	Min   uint64 `json:"min"`
	Max   uint64 `json:"max"`
	Count int    `json:"count"`
}

// EraseHistogram buckets the erase counts of the non-Bad blocks into at
// most n ranges of equal width covering [min, max]. It returns nil when no
// good block exists.
func EraseHistogram(blocks []FlashBlock, n int) []WearBucket {
	if n <= 0 {
		n = 10
	}

	var (
		lo, hi uint64
		good   []uint64
	)
	for _, b := range blocks {
		if b.State == StateBad {
			continue
		}
		if len(good) == 0 || b.EraseCount < lo {
			lo = b.EraseCount
		}
		if len(good) == 0 || b.EraseCount > hi {
			hi = b.EraseCount
		}
		good = append(good, b.EraseCount)
	}
	if len(good) == 0 {
		return nil
	}

	span := hi - lo + 1
	width := (span + uint64(n) - 1) / uint64(n)
	n = int((span + width - 1) / width)

	buckets := make([]WearBucket, n)
	for i := range buckets {
		buckets[i].Min = lo + uint64(i)*width
		buckets[i].Max = min(buckets[i].Min+width-1, hi)
	}
	for _, c := range good {
		buckets[(c-lo)/width].Count++
	}
	return buckets
}
