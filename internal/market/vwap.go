package market

// ReferenceVWAP computes the volume-weighted average of typical prices over
// the given bars. Zero-volume bars contribute nothing; an empty or
// zero-volume window yields 0.
func ReferenceVWAP(bars []Bar) float64 {
	var notional, volume float64
	for _, b := range bars {
		if b.Volume <= 0 {
			continue
		}
		notional += TypicalPrice(b) * b.Volume
		volume += b.Volume
	}
	if volume <= 0 {
		return 0
	}
	return notional / volume
}

// Tail returns the last n bars (all bars when fewer are available).
func Tail(bars []Bar, n int) []Bar {
	if n <= 0 || len(bars) == 0 {
		return nil
	}
	if len(bars) <= n {
		return bars
	}
	return bars[len(bars)-n:]
}
