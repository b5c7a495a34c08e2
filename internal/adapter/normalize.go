package adapter

import "strings"

// stripNoiseLines drops any line containing one of the given provider-noise
// markers, preserving the remaining lines (and any JSON control object
// among them) in original order.
func stripNoiseLines(raw string, markers ...string) string {
	lines := strings.Split(raw, "\n")
	out := lines[:0]
	for _, line := range lines {
		noisy := false
		for _, m := range markers {
			if strings.Contains(line, m) {
				noisy = true
				break
			}
		}
		if !noisy {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
