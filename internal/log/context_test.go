// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithRequestID(ctx, "req-1")
	ctx = ContextWithClientID(ctx, "client-7")
	ctx = ContextWithJobID(ctx, "job-42")

	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "client-7", ClientIDFromContext(ctx))
	assert.Equal(t, "job-42", JobIDFromContext(ctx))
}

func TestContextMissingValues(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))
	assert.Empty(t, RequestIDFromContext(nil)) //nolint:staticcheck // nil-safety contract
	assert.Empty(t, JobIDFromContext(context.Background()))
}

func TestWithContextAddsCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "test"})

	ctx := ContextWithJobID(ContextWithRequestID(context.Background(), "req-9"), "job-3")
	l := WithComponentFromContext(ctx, "buffer")
	l.Info().Str(FieldEvent, "test.entry").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-9", entry[FieldRequestID])
	assert.Equal(t, "job-3", entry[FieldJobID])
	assert.Equal(t, "buffer", entry[FieldComponent])
	assert.Equal(t, "test.entry", entry[FieldEvent])
}
