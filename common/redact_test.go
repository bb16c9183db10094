package common

import (
	"bytes"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedacted(t *testing.T) {
	secret := Redacted("hunter2")

	assert.Equal(t, "[REDACTED]", secret.String())
	assert.NotContains(t, fmt.Sprintf("%v %s %#v", secret, secret, secret), "hunter2")
	assert.Equal(t, "hunter2", secret.Reveal())

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	log.Info("loaded", "password", secret)
	assert.NotContains(t, buf.String(), "hunter2")
	assert.Contains(t, buf.String(), "[REDACTED]")
}

func TestFieldNames(t *testing.T) {
	fields := FieldNames(map[string]any{"password": "x", "host": "y"})
	assert.Equal(t, []string{"host", "password"}, fields)
}
