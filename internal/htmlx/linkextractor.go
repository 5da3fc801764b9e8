package htmlx

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/corewalker/crawler/pkg/urlutil"
)

const maxLinkLen = 2048

// linkCollector is the spec §4.6 Stage 3 TokenHandler: it watches for
// anchor tags, captures their href attribute, and resolves the value
// against base on the anchor's close.
type linkCollector struct {
	base        url.URL
	links       []string
	insideAnchor bool
	pendingHref  string
	haveHref     bool
}

func newLinkCollector(base url.URL) *linkCollector {
	return &linkCollector{base: base}
}

func (c *linkCollector) OnTagOpen(name []byte, isClosing bool) {
	if isClosing {
		return
	}
	if bytes.EqualFold(name, []byte("a")) {
		c.insideAnchor = true
		c.haveHref = false
		c.pendingHref = ""
	}
}

func (c *linkCollector) OnAttribute(name, value []byte) {
	if c.insideAnchor && bytes.EqualFold(name, []byte("href")) {
		c.pendingHref = string(value)
		c.haveHref = true
	}
}

func (c *linkCollector) OnTagClose(name []byte, selfClosing bool) {
	if !bytes.EqualFold(name, []byte("a")) {
		return
	}
	if c.haveHref {
		c.resolveAndCollect(c.pendingHref)
	}
	c.insideAnchor = false
	c.haveHref = false
	c.pendingHref = ""
}

func (c *linkCollector) resolveAndCollect(href string) {
	href = strings.TrimSpace(href)
	if href == "" || href == "#" || strings.HasPrefix(href, "#") {
		return
	}
	if len(href) > maxLinkLen {
		return
	}

	resolved, err := urlutil.Resolve(c.base, href)
	if err != nil {
		return
	}
	out := resolved.String()
	if len(out) > maxLinkLen {
		return
	}
	c.links = append(c.links, out)
}

// ExtractLinks runs the tokenizer over data and returns every absolute
// outbound link found, resolved against base. Deduplication is
// deliberately not performed here (spec §4.6: "the Frontier and
// MetadataStore handle identity").
func ExtractLinks(data []byte, base url.URL) []string {
	collector := newLinkCollector(base)
	Tokenize(data, collector)
	return collector.links
}
