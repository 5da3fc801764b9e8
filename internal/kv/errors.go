package kv

import (
	"fmt"

	"github.com/corewalker/crawler/pkg/failure"
)

type Error struct {
	Op  string
	Err error
}

func newKVError(err error, op string) *Error {
	return &Error{Op: op, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("kv: %s: %s", e.Op, e.Err.Error())
}

func (e *Error) Unwrap() error { return e.Err }

// Severity is always Recoverable: a single failed KV write never aborts
// the crawl, matching spec §4.3's "persistence failures are logged;
// in-memory state continues" failure semantics.
func (e *Error) Severity() failure.Severity { return failure.SeverityRecoverable }

var _ failure.ClassifiedError = (*Error)(nil)
