package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "debug", Format: FormatJSON, Output: &buf})
	require.NoError(t, err)

	logger.Debug().Str(FieldService, "api").Msg("staging")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "api", entry[FieldService])
	assert.Equal(t, "staging", entry["message"])
}

func TestNewRejectsUnknownFormatAndLevel(t *testing.T) {
	_, err := New(Config{Format: "xml", Output: &bytes.Buffer{}})
	assert.Error(t, err)

	_, err = New(Config{Level: "loud", Output: &bytes.Buffer{}})
	assert.Error(t, err)
}

func TestAutoFormatIsJSONForNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Format: FormatAuto, Output: &buf})
	require.NoError(t, err)
	logger.Info().Msg("hello")
	assert.True(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"DEBUG":   zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"off":     zerolog.Disabled,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	ctx := WithLogger(context.Background(), logger)

	Ctx(ctx).Info().Msg("from context")
	assert.Contains(t, buf.String(), "from context")

	assert.NotNil(t, Ctx(context.Background()))
}
