package robots

import (
	"fmt"

	"github.com/corewalker/crawler/pkg/failure"
)

type Error struct {
	Op  string
	Err error
}

func newRobotsError(err error, op string) *Error {
	return &Error{Op: op, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("robots: %s: %s", e.Op, e.Err.Error())
}

func (e *Error) Unwrap() error { return e.Err }

// Severity is always Recoverable: a robots.txt fetch failure degrades to
// "allow all", it never aborts the crawl (spec §4.4).
func (e *Error) Severity() failure.Severity { return failure.SeverityRecoverable }

var _ failure.ClassifiedError = (*Error)(nil)
