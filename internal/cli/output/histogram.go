package output

import (
	"fmt"
	"io"
	"strings"
)

// Bucket is one bar of a Histogram.
type Bucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// PrintHistogram draws buckets as horizontal bars scaled to width
// characters. Non-empty buckets always get at least one mark.
func PrintHistogram(w io.Writer, buckets []Bucket, width int) error {
	if width <= 0 {
		width = 40
	}

	maxCount, labelWidth := 0, 0
	for _, b := range buckets {
		maxCount = max(maxCount, b.Count)
		labelWidth = max(labelWidth, len(b.Label))
	}

	for _, b := range buckets {
		n := 0
		if maxCount > 0 {
			n = b.Count * width / maxCount
			if n == 0 && b.Count > 0 {
				n = 1
			}
		}
		if _, err := fmt.Fprintf(w, "%-*s  %s %d\n", labelWidth, b.Label, strings.Repeat("#", n), b.Count); err != nil {
			return err
		}
	}
	return nil
}
