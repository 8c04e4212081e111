package logging

// Level represents a log verbosity level. Levels are ordered and comparable
// by value: a logger emits a message only if its own level is at or above
// the message's level, so LevelWarn admits errors and warnings but silences
// informational and debug output.
type Level uint

const (
	// LevelDisabled indicates that logging is completely disabled.
	LevelDisabled Level = iota
	// LevelError indicates that only errors are logged, e.g. operation
	// executor failures.
	LevelError
	// LevelWarn indicates that errors and warnings are logged, including the
	// swallowed-error paths (cache writes and evictions).
	LevelWarn
	// LevelInfo indicates that basic build progress is logged in addition to
	// all errors and warnings.
	LevelInfo
	// LevelDebug indicates that detailed execution information (base image
	// loads, copied sources) is logged as well.
	LevelDebug
	// LevelTrace indicates that low-level execution information is logged in
	// addition to all other output.
	LevelTrace
)

// NameToLevel converts a string-based representation of a log level (as used
// by the BUILDCORE_LOG_LEVEL environment variable) to the appropriate Level
// value. It returns a boolean indicating whether or not the conversion was
// valid. If the name is invalid, LevelDisabled is returned.
func NameToLevel(name string) (Level, bool) {
	switch name {
	case "disabled":
		return LevelDisabled, true
	case "error":
		return LevelError, true
	case "warn":
		return LevelWarn, true
	case "info":
		return LevelInfo, true
	case "debug":
		return LevelDebug, true
	case "trace":
		return LevelTrace, true
	default:
		return LevelDisabled, false
	}
}

// String provides a human-readable representation of a log level.
func (l Level) String() string {
	switch l {
	case LevelDisabled:
		return "disabled"
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	case LevelTrace:
		return "trace"
	default:
		return "unknown"
	}
}
