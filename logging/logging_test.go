package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetDefaultsWhenUnset(t *testing.T) {
	assert.NotNil(t, Get())
}

func TestSetOverridesLogger(t *testing.T) {
	var buf bytes.Buffer
	custom := slog.New(slog.NewTextHandler(&buf, nil))
	Set(custom)
	defer Set(nil)

	assert.Same(t, custom, Get())

	Get().Info("hello")
	assert.Contains(t, buf.String(), "hello")
}
