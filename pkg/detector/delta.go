package detector

import "strings"

// screenClearRatio is the shrink threshold below which a snapshot is treated
// as a screen clear rather than an in-place edit: fewer than half the
// previous line count means the terminal redrew from scratch.
const screenClearRatio = 0.5

// extractDelta returns the content of newContent that was not present in
// prevContent, comparing line-wise. The heuristics favour the common cases
// of appended output and a single streaming last line (progress bars).
func extractDelta(newContent, prevContent string) string {
	if prevContent == "" {
		return newContent
	}

	newLines := strings.Split(newContent, "\n")
	prevLines := strings.Split(prevContent, "\n")

	// Screen clear: the pane shrank by more than half, so the previous
	// content is gone and everything visible is new.
	if float64(len(newLines)) < screenClearRatio*float64(len(prevLines)) {
		return newContent
	}

	if len(newLines) == len(prevLines) {
		if equalExceptLast(newLines, prevLines) {
			newLast := newLines[len(newLines)-1]
			prevLast := prevLines[len(prevLines)-1]
			if strings.HasPrefix(newLast, prevLast) {
				// Streaming append to the last line: emit only the suffix.
				return newLast[len(prevLast):]
			}
			// Last line rewritten in place.
			return newLast
		}
	}

	// General case: longest equal line prefix, emit from first divergence.
	common := 0
	for common < len(newLines) && common < len(prevLines) && newLines[common] == prevLines[common] {
		common++
	}
	if common < len(newLines) {
		return strings.Join(newLines[common:], "\n")
	}

	// Nothing diverged but the contents differ (e.g. trailing truncation):
	// fall back to the new last line.
	return newLines[len(newLines)-1]
}

// equalExceptLast reports whether a and b agree on every line except
// possibly the last. Both slices must be the same length and non-empty.
func equalExceptLast(a, b []string) bool {
	for i := 0; i < len(a)-1; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
