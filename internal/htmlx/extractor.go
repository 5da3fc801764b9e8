package htmlx

import "net/url"

// Result is HtmlExtractor's output for one fetched body: whether it
// looked like HTML at all, whether it passed the quality gate, and its
// outbound links (only populated when quality passed, per spec §4.7:
// non-HTML/low-quality responses skip link extraction).
type Result struct {
	IsHTML    bool
	IsQuality bool
	Links     []string
}

// Extract runs the full three-stage pipeline (spec §4.6) over a fetched
// response body.
func Extract(body []byte, base url.URL) Result {
	if !IsHTML(body) {
		return Result{}
	}

	filtered := FilterNoise(body)
	quality := IsQuality(filtered)
	if !quality {
		return Result{IsHTML: true, IsQuality: false}
	}

	return Result{
		IsHTML:    true,
		IsQuality: true,
		Links:     ExtractLinks(filtered, base),
	}
}
