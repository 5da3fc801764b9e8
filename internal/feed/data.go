// Package feed is the spec's FeedIngestor (§4.10): polls configured
// RSS/Atom feeds on a schedule and routes fresh article URLs into the
// Frontier at elevated priority. Parsing is done via
// github.com/mmcdole/gofeed, grounded on its only other usage in the
// retrieved pack (hoanghai1803-apricot's feed fetcher).
package feed

import "time"

const (
	defaultPollInterval = 10 * time.Minute
	maxConsecutiveFailures = 5
	maxBackoffInterval     = 60 * time.Minute
	freshnessWindow        = 48 * time.Hour
	discoveredPriority     = 0.8
	fetchTimeout           = 20 * time.Second
)

// state is the per-feed schedule described in spec §4.10.
type state struct {
	url                 string
	pollInterval        time.Duration
	consecutiveFailures int
	nextPoll            time.Time
	enabled             bool
}

func newState(url string, pollInterval time.Duration) *state {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &state{url: url, pollInterval: pollInterval, enabled: true}
}

func (s *state) due(now time.Time) bool {
	return s.enabled && (s.nextPoll.IsZero() || !now.Before(s.nextPoll))
}

func (s *state) recordSuccess(now time.Time) {
	s.consecutiveFailures = 0
	s.nextPoll = now.Add(s.pollInterval)
}

// recordFailure applies interval * 2^failures, capped at 60 minutes
// (spec §4.10 verbatim).
func (s *state) recordFailure(now time.Time) {
	if s.consecutiveFailures < maxConsecutiveFailures {
		s.consecutiveFailures++
	}
	backoff := s.pollInterval * time.Duration(int64(1)<<uint(s.consecutiveFailures))
	if backoff > maxBackoffInterval {
		backoff = maxBackoffInterval
	}
	s.nextPoll = now.Add(backoff)
}
