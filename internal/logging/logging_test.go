package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/logging"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Config{Level: "warn", Format: logging.FormatJSON}, &buf)
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	logger.Warn().Str("run_id", "abc").Msg("visible")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "visible", entry["message"])
	assert.Equal(t, "abc", entry["run_id"])
	assert.Contains(t, entry, "time")
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Config{Level: "debug", Format: logging.FormatText}, &buf)
	require.NoError(t, err)

	logger.Debug().Int("vus", 3).Msg("scaled")

	out := buf.String()
	assert.Contains(t, out, "DEBUG")
	assert.Contains(t, out, "scaled")
	assert.Contains(t, out, "vus=3")
	assert.NotContains(t, out, "\x1b[", "text format has no colour codes")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := logging.New(logging.Config{Level: "loud"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	tests := map[string]logging.Format{
		"":       logging.FormatColourful,
		"color":  logging.FormatColourful,
		"TEXT":   logging.FormatText,
		"json":   logging.FormatJSON,
		"plain":  logging.FormatText,
		"colour": logging.FormatColourful,
	}
	for in, want := range tests {
		got, err := logging.ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := logging.ParseFormat("xml")
	assert.Error(t, err)
}
