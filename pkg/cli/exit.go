package cli

import (
	"errors"
	"strconv"

	"github.com/memehubx/memedb/pkg/backfill"
)

// ExitError carries the process exit code for main. Err may be nil when the
// outcome was already reported, e.g. through a printed run summary.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return "exit status " + strconv.Itoa(e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode picks the process exit code for an Execute result
func ExitCode(err error) int {
	if err == nil {
		return backfill.ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var cfgErr *backfill.ConfigurationError
	if errors.As(err, &cfgErr) {
		return backfill.ExitConfigError
	}
	return backfill.ExitError
}
