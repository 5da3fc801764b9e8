// Package robots is the spec's RobotsCache: per-origin robots.txt
// fetch/parse/cache, exposing allow-checks, crawl-delay, and discovered
// sitemaps. It wraps github.com/temoto/robotstxt for the actual rule
// matching (§4.4).
package robots

import (
	"net/http"
	"time"
)

// AllowDecision is the spec's {Allow, Deny, Unknown} tri-state. Unknown
// means "a fetch is in flight or hasn't happened yet" and callers must
// treat it as "do not crawl yet", never as Allow.
type AllowDecision int

const (
	Allow AllowDecision = iota
	Deny
	Unknown
)

func (d AllowDecision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "unknown"
	}
}

// DecisionReason supplements the bare AllowDecision with why, for
// observability (teacher's robots.DecisionReason concept, generalized).
type DecisionReason int

const (
	ReasonPending DecisionReason = iota
	ReasonAllowedByRobots
	ReasonDisallowedByRobots
	ReasonUserAgentNotMatched
	ReasonEmptyRuleSet
	ReasonNoMatchingRules
	ReasonFetchFailedAllowAll
)

func (r DecisionReason) String() string {
	switch r {
	case ReasonAllowedByRobots:
		return "allowed_by_robots"
	case ReasonDisallowedByRobots:
		return "disallowed_by_robots"
	case ReasonUserAgentNotMatched:
		return "user_agent_not_matched"
	case ReasonEmptyRuleSet:
		return "empty_rule_set"
	case ReasonNoMatchingRules:
		return "no_matching_rules"
	case ReasonFetchFailedAllowAll:
		return "fetch_failed_allow_all"
	default:
		return "pending"
	}
}

// Decision is the full result of IsAllowed: the spec-required Allow/Deny/
// Unknown verdict plus the supplemented reason.
type Decision struct {
	Allow  AllowDecision
	Reason DecisionReason
}

// SitemapHint is a sitemap URL discovered in a robots.txt file, with the
// priority boost SitemapIngestor should apply (spec §4.4, §4.9).
type SitemapHint struct {
	URL      string
	Priority float64
}

// HTTPDoer is the minimal "HTTP downloader" abstraction (spec §9 Design
// Notes: break cycles with interface abstractions). *http.Client satisfies
// it directly; tests substitute a fake.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

const (
	defaultTTL         = 24 * time.Hour
	defaultFetchTimeout = 10 * time.Second
)
