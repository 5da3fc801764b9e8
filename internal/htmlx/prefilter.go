// Package htmlx is the spec's HtmlExtractor: a three-stage pipeline
// (prefilter, streaming tokenizer, link extraction) that sits in the hot
// path of the fetch pipeline. Per spec §9 Design Notes, the core tokenizer
// is hand-rolled — no DOM library (goquery, x/net/html) sits on this path,
// only a bounded byte-driven state machine.
package htmlx

import "bytes"

const (
	prefilterScanWindow = 1024
	doctypeScanWindow   = 4096
	qualityScanWindow   = 64 * 1024
	minContentSize      = 512
	maxContentSize       = 5 * 1024 * 1024
	minAlnumFloor        = 200
	noiseSafetyRail      = 0.70
)

// IsHTML is spec §4.6 Stage 1's cheap admissibility check: scan the first
// ~1 KiB for any '<' byte.
func IsHTML(data []byte) bool {
	window := data
	if len(window) > prefilterScanWindow {
		window = window[:prefilterScanWindow]
	}
	return bytes.IndexByte(window, '<') >= 0
}

// IsQuality is spec §4.6 Stage 1's size/shape gate.
func IsQuality(data []byte) bool {
	if len(data) < minContentSize || len(data) > maxContentSize {
		return false
	}

	head := data
	if len(head) > doctypeScanWindow {
		head = head[:doctypeScanWindow]
	}
	if !containsFoldASCII(head, []byte("<!doctype")) && !containsFoldASCII(head, []byte("<html")) {
		return false
	}

	window := data
	if len(window) > qualityScanWindow {
		window = window[:qualityScanWindow]
	}
	if countAlnumOutsideTags(window) <= minAlnumFloor {
		return false
	}
	return true
}

func containsFoldASCII(haystack, needle []byte) bool {
	return bytes.Contains(bytes.ToLower(haystack), bytes.ToLower(needle))
}

func countAlnumOutsideTags(data []byte) int {
	count := 0
	inTag := false
	for _, b := range data {
		switch {
		case b == '<':
			inTag = true
		case b == '>':
			inTag = false
		case !inTag && isAlnum(b):
			count++
		}
	}
	return count
}

func isAlnum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

var noiseSpans = []struct {
	open  []byte
	close []byte
}{
	{[]byte("<script"), []byte("</script>")},
	{[]byte("<style"), []byte("</style>")},
	{[]byte("<!--"), []byte("-->")},
	{[]byte("<noscript"), []byte("</noscript>")},
}

// FilterNoise removes <script>, <style>, HTML comment, and <noscript>
// spans with a single bounded linear scan per span kind (never unbounded
// backtracking). If removal would drop more than 70% of the input, the
// original input is returned unfiltered as a safety rail against
// pathological/adversarial markup.
func FilterNoise(data []byte) []byte {
	out := data
	for _, span := range noiseSpans {
		out = stripSpans(out, span.open, span.close)
	}
	if len(out) < len(data)*3/10 {
		// Safety rail: stripped more than ~70%, assume the heuristic
		// mismatched unusual markup and keep the original bytes.
		return data
	}
	return out
}

func stripSpans(data []byte, open, close []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(data))

	pos := 0
	lower := bytes.ToLower(data)
	for pos < len(data) {
		start := bytes.Index(lower[pos:], open)
		if start < 0 {
			buf.Write(data[pos:])
			break
		}
		start += pos
		buf.Write(data[pos:start])

		end := bytes.Index(lower[start:], close)
		if end < 0 {
			// Unterminated span: drop to EOF rather than emitting a
			// truncated tag, mirroring the tokenizer's own
			// close-at-EOF resilience rule.
			break
		}
		pos = start + end + len(close)
	}
	return buf.Bytes()
}
