package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	for _, tc := range []struct {
		level string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
		{"WARN", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	} {
		t.Run(tc.level, func(t *testing.T) {
			log, err := New(tc.level)
			require.NoError(t, err)
			assert.True(t, log.Desugar().Core().Enabled(tc.want))
			if tc.want > zapcore.DebugLevel {
				assert.False(t, log.Desugar().Core().Enabled(tc.want-1))
			}
		})
	}
}

func TestNew_Off(t *testing.T) {
	log, err := New("off")
	require.NoError(t, err)
	assert.False(t, log.Desugar().Core().Enabled(zapcore.ErrorLevel))
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New("chatty")
	assert.Error(t, err)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := Nop()
	assert.Same(t, l, OrNop(l))
}
