package invocation

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestID(t *testing.T) {
	_, ok := ID(context.Background())
	assert.False(t, ok)

	_, ok = ID(WithID(context.Background(), ""))
	assert.False(t, ok)

	id, ok := ID(WithID(context.Background(), "req-7"))
	assert.True(t, ok)
	assert.Equal(t, "req-7", id)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	Logger(context.Background(), base).Info("untagged")
	assert.NotContains(t, buf.String(), "invocation_id")

	buf.Reset()
	Logger(WithID(context.Background(), "req-7"), base).Info("tagged")
	assert.Contains(t, buf.String(), "invocation_id=req-7")
}
