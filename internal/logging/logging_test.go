package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	for _, format := range []string{FormatJSON, FormatConsole, ""} {
		logger, err := New("warn", format)
		require.NoError(t, err, "format %q", format)
		assert.False(t, logger.Desugar().Core().Enabled(zapcore.InfoLevel))
		assert.True(t, logger.Desugar().Core().Enabled(zapcore.ErrorLevel))
	}
}

func TestNew_Rejects(t *testing.T) {
	_, err := New("loud", FormatJSON)
	assert.Error(t, err)

	_, err = New("info", "xml")
	assert.Error(t, err)
}
