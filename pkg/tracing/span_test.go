package tracing

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageBuildsTree(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "pass", "trace-1")

	_ = Stage(ctx, "fetch", func(ctx context.Context) error { return nil })
	err := Stage(ctx, "enrich", func(ctx context.Context) error {
		return errors.New("section s1 unavailable")
	})
	root.End()

	assert.Error(t, err)
	assert.Equal(t, []string{"fetch", "enrich"}, root.ChildNames())
	assert.Equal(t, "trace-1", root.Children[1].TraceID)
	v, ok := root.Children[1].Attr("error")
	assert.True(t, ok)
	assert.Equal(t, "section s1 unavailable", v)
}

func TestLogOnlyAtDebug(t *testing.T) {
	_, root := StartSpan(context.Background(), "pass", "trace-2")
	root.End()

	var buf bytes.Buffer
	root.Log(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	assert.Empty(t, buf.String())

	root.Log(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	assert.Contains(t, buf.String(), "trace-2")
}

func TestStartChildSpanWithoutParent(t *testing.T) {
	ctx, child := StartChildSpan(context.Background(), "orphan")
	assert.Empty(t, child.TraceID)
	assert.Same(t, child, SpanFromContext(ctx))
}
