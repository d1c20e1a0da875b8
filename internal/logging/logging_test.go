package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(newLogger(Config{Level: "debug", Format: "json"}, &buf), "extractor")

	logger.Debug().Str("currency_id", "divine").Msg("row parsed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "extractor", entry["component"])
	require.Equal(t, "divine", entry["currency_id"])
	require.Equal(t, "debug", entry["level"])
	require.Contains(t, entry, "time")
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "not-a-level"}, &buf)

	logger.Debug().Msg("hidden")
	require.Zero(t, buf.Len(), "debug 日志不应输出")

	logger.Info().Msg("visible")
	require.NotZero(t, buf.Len())
}
