package log

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, LevelError, ParseLevel(" error "))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}

func TestRedactDependsOnLevel(t *testing.T) {
	t.Cleanup(func() { SetLevel(LevelInfo) })

	SetLevel(LevelInfo)
	assert.Equal(t, "[REDACTED]", Redact("gym at 17:00"))

	SetLevel(LevelDebug)
	assert.Equal(t, "gym at 17:00", Redact("gym at 17:00"))
}

func TestErrorWritesErrKey(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	Error("extraction failed", errors.New("boom"), "chat_id", 42)

	out := buf.String()
	assert.Contains(t, out, "extraction failed")
	assert.Contains(t, out, "err=boom")
	assert.Contains(t, out, "chat_id=42")
}
