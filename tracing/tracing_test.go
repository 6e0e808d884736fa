package tracing

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpansWrittenToFile(t *testing.T) {
	fname := "testdata/span_test.txt"
	_ = os.Remove(fname)

	assert.NoError(t, Init("hitl", "0.0.1", fname))

	ctx, span := StartSpan(context.Background(), "engine.transition", "INTERNAL")
	span.WithAttributes(map[string]string{"request_id": "cr-1"})
	EndSpan(span, nil)

	_, child := StartSpan(ctx, "router.route", "INTERNAL")
	EndSpan(child, errors.New("routing failed"))

	data, err := os.ReadFile(fname)
	assert.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestNilSpanIsSafe(t *testing.T) {
	var span *Span
	assert.Nil(t, span.WithAttributes(map[string]string{"k": "v"}))
	span.SetStatus(errors.New("ignored"))
	EndSpan(span, nil)
}
