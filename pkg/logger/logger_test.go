package logger_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabriellaKhayutin1/smartstorage/pkg/logger"
)

func TestNewJSONLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, err := logger.New(logger.Config{Level: "info", Format: logger.FormatJSON},
		logger.WithOutput(&buf))
	require.NoError(t, err)

	log.Info("server started", "addr", ":8080")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "server started", record["msg"])
	assert.Equal(t, ":8080", record["addr"])
}

func TestNewTextLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, err := logger.New(logger.Config{Level: "debug", Format: logger.FormatText},
		logger.WithOutput(&buf))
	require.NoError(t, err)

	log.Debug("probe")
	assert.Contains(t, buf.String(), "msg=probe")
}

func TestNewRespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, err := logger.New(logger.Config{Level: "warn", Format: logger.FormatJSON},
		logger.WithOutput(&buf))
	require.NoError(t, err)

	log.Info("suppressed")
	assert.Empty(t, buf.String())

	log.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestNewStaticAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, err := logger.New(logger.Config{Format: logger.FormatJSON},
		logger.WithOutput(&buf),
		logger.WithAttr(logger.Error(errors.New("boom"))))
	require.NoError(t, err)

	log.Info("with error attr")
	assert.Contains(t, buf.String(), `"error":"boom"`)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := logger.New(logger.Config{Level: "verbose"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "level"))

	_, err = logger.New(logger.Config{Format: "yaml"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "format"))
}
