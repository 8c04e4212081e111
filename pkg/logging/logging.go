// Package logging provides the nil-safe, hierarchical loggers used throughout
// the build core (cache, scheduler executors, must helpers).
package logging

import (
	"log"
	"os"
)

func init() {
	// Set the global logger to use standard output.
	log.SetOutput(os.Stdout)
}
