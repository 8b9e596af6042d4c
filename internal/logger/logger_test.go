package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithOutput_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithOutput("debug", &buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	log.WithField("user_id", "u1").Info("cart session opened")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "cart session opened", line["message"])
	assert.Equal(t, "u1", line["user_id"])
	assert.Equal(t, "info", line["level"])
	assert.Contains(t, line, "ts")
}

func TestNewWithOutput_DefaultLevel(t *testing.T) {
	log, err := NewWithOutput("", &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
}

func TestNewWithOutput_InvalidLevel(t *testing.T) {
	_, err := NewWithOutput("loud", &bytes.Buffer{})
	assert.ErrorContains(t, err, "invalid log level")
}
