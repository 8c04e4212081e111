// Package must provides small helpers for call sites that must attempt a
// best-effort operation but cannot let its failure propagate: cache writes
// and closing resources are logged-and-swallowed paths. These helpers
// keep that policy consistent and visible at every call site rather than
// re-implemented ad hoc.
package must

import (
	"io"

	"github.com/container-build/buildcore/pkg/logging"
)

// Close closes c, logging but not propagating any error.
func Close(c io.Closer, logger *logging.Logger) {
	if err := c.Close(); err != nil {
		logger.Warnf("unable to close: %s", err.Error())
	}
}

// Succeed logs a failure to complete a best-effort task without propagating
// it. It is used for cache put/evict paths where errors must never break the
// build.
func Succeed(err error, task string, logger *logging.Logger) {
	if err != nil {
		logger.Warnf("unable to complete %s: %s", task, err.Error())
	}
}
