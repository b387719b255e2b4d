package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLoggerLevels(t *testing.T) {
	testCases := []struct {
		level string
		want  zapcore.Level
	}{
		{level: "debug", want: zapcore.DebugLevel},
		{level: "", want: zapcore.InfoLevel},
		{level: "WARNING", want: zapcore.WarnLevel},
		{level: "error", want: zapcore.ErrorLevel},
		{level: "verbose", want: zapcore.InfoLevel},
	}
	for _, testCase := range testCases {
		logger, err := NewLogger(testCase.level, "console")
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", testCase.level, err)
		}
		if !logger.Core().Enabled(testCase.want) {
			t.Fatalf("expected %v enabled for %q", testCase.want, testCase.level)
		}
		if testCase.want > zapcore.DebugLevel && logger.Core().Enabled(testCase.want-1) {
			t.Fatalf("expected %v disabled for %q", testCase.want-1, testCase.level)
		}
	}
}
