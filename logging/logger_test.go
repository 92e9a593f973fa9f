package logging

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	workflow "github.com/davidroman0O/stageflow/workflows"
)

var _ workflow.Logger = (*ConsoleLogger)(nil)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{in: "debug", want: LogLevelDebug},
		{in: "", want: LogLevelInfo},
		{in: " INFO ", want: LogLevelInfo},
		{in: "warning", want: LogLevelWarn},
		{in: "error", want: LogLevelError},
		{in: "loud", want: LogLevelInfo, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConsoleLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(LogLevelWarn, &buf)
	l.now = func() time.Time { return time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC) }

	l.Debug("hidden %d", 1)
	l.Info("hidden %d", 2)
	l.Warn("stage %s slow", "intake")
	workflow.WithPrefix(l, "engine").Error("instance %s failed", "w-1")

	assert.Equal(t,
		"09:30:00.000 [WARN ] stage intake slow\n"+
			"09:30:00.000 [ERROR] [engine] instance w-1 failed\n",
		buf.String())
}
