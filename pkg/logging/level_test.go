package logging

import (
	"io/ioutil"
	"testing"
)

func TestNameToLevel(t *testing.T) {
	testCases := []struct {
		name     string
		expected Level
		ok       bool
	}{
		{"disabled", LevelDisabled, true},
		{"error", LevelError, true},
		{"warn", LevelWarn, true},
		{"info", LevelInfo, true},
		{"debug", LevelDebug, true},
		{"trace", LevelTrace, true},
		{"", LevelDisabled, false},
		{"verbose", LevelDisabled, false},
	}
	for _, testCase := range testCases {
		level, ok := NameToLevel(testCase.name)
		if ok != testCase.ok || level != testCase.expected {
			t.Errorf("NameToLevel(%q) = (%v, %t), expected (%v, %t)",
				testCase.name, level, ok, testCase.expected, testCase.ok)
		}
	}
}

func TestLevelOrdering(t *testing.T) {
	if !(LevelDisabled < LevelError && LevelError < LevelWarn &&
		LevelWarn < LevelInfo && LevelInfo < LevelDebug &&
		LevelDebug < LevelTrace) {
		t.Error("levels are not ordered by increasing verbosity")
	}
}

func TestSubloggerInheritsLevel(t *testing.T) {
	logger := RootLogger.WithLevel(LevelWarn)
	sub := logger.Sublogger("child")
	if sub.Level() != LevelWarn {
		t.Errorf("expected sublogger to inherit level, got %v", sub.Level())
	}
}

func TestWritersDiscardBelowLevel(t *testing.T) {
	logger := RootLogger.WithLevel(LevelWarn)
	if logger.Writer() != ioutil.Discard {
		t.Error("expected Writer to discard below informational level")
	}
	if logger.DebugWriter() != ioutil.Discard {
		t.Error("expected DebugWriter to discard below debug level")
	}

	debug := RootLogger.WithLevel(LevelDebug)
	if debug.Writer() == ioutil.Discard {
		t.Error("expected Writer to emit at debug level")
	}
	if debug.DebugWriter() == ioutil.Discard {
		t.Error("expected DebugWriter to emit at debug level")
	}
}

func TestNilLoggerIsDisabled(t *testing.T) {
	var logger *Logger
	if logger.Level() != LevelDisabled {
		t.Error("expected nil logger to report LevelDisabled")
	}
	if logger.Sublogger("child") != nil {
		t.Error("expected nil logger's sublogger to be nil")
	}
	// None of these may panic.
	logger.Infof("x")
	logger.Debugf("x")
	logger.Warnf("x")
	logger.Errorf("x")
}
