package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext_CarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	Setup(Config{Level: "debug", Format: "json", Output: &buf})

	ctx := WithRequestID(context.Background(), "abc12345")
	l := FromContext(ctx, "check")
	l.Info().Msg("hello")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "abc12345", line["request_id"])
	assert.Equal(t, "check", line["component"])
	assert.Equal(t, "hello", line["message"])
}

func TestSetup_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	Setup(Config{Level: "loud", Output: &buf})

	l := NewLogger("x")
	l.Debug().Msg("hidden")
	assert.Empty(t, buf.String())

	l.Info().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}
