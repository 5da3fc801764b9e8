package fetchengine

import (
	"net"
	"net/http"
	"time"

	"github.com/PuerkitoBio/rehttp"
)

// newClient builds the shared *http.Client every worker's goroutines fetch
// through: a rehttp-wrapped transport for transport-level temporary-error
// retries (grounded on codepr-webcrawler's fetcher.New), redirect capping,
// and the per-request timeout from spec §4.7.
func newClient(connectTimeout, totalTimeout time.Duration, maxRedirects int) *http.Client {
	base := &http.Transport{
		DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
		ForceAttemptHTTP2:   true,
		DisableCompression:  false,
		MaxIdleConnsPerHost: 64,
	}
	transport := rehttp.NewTransport(
		base,
		rehttp.RetryAll(rehttp.RetryMaxRetries(2), rehttp.RetryTemporaryErr()),
		rehttp.ExpJitterDelay(200*time.Millisecond, 2*time.Second),
	)
	return &http.Client{
		Timeout:   totalTimeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}
