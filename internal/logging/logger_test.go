package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLoggerLevels(t *testing.T) {
	cases := []struct {
		level string
		want  zapcore.Level
	}{
		{level: "debug", want: zapcore.DebugLevel},
		{level: "info", want: zapcore.InfoLevel},
		{level: "WARN", want: zapcore.WarnLevel},
		{level: "warning", want: zapcore.WarnLevel},
		{level: "error", want: zapcore.ErrorLevel},
		{level: "", want: zapcore.InfoLevel},
		{level: "bogus", want: zapcore.InfoLevel},
	}
	for _, tc := range cases {
		logger, err := NewLogger(tc.level)
		if err != nil {
			t.Fatalf("level %q: unexpected error %v", tc.level, err)
		}
		if !logger.Core().Enabled(tc.want) {
			t.Fatalf("level %q: expected %v enabled", tc.level, tc.want)
		}
		if tc.want > zapcore.DebugLevel && logger.Core().Enabled(tc.want-1) {
			t.Fatalf("level %q: expected %v disabled", tc.level, tc.want-1)
		}
	}
}
