package modhost

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithFields(t *testing.T) {
	buf := new(bytes.Buffer)
	base := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	assert.Same(t, Logger(base), WithFields(base))

	logger := WithFields(WithFields(base, "component", "httpd"), "domain", "example.com")
	logger.Info("served", "path", "/")
	assert.Contains(t, buf.String(), "component=httpd domain=example.com path=/")

	buf.Reset()
	logger.Debug("no args")
	assert.Contains(t, buf.String(), "component=httpd domain=example.com")

	buf.Reset()
	logger.Warn("warned")
	logger.Error("failed")
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "level=ERROR")
}
