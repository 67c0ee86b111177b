package sse

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterFrames(t *testing.T) {
	tests := []struct {
		name     string
		eventIDs bool
		want     string
	}{
		{
			name: "without ids",
			want: "event: confirmed\ndata: {\"id\":\"a\"}\n\n: keepalive\n\n",
		},
		{
			name:     "with ids",
			eventIDs: true,
			want:     "id: 1\nevent: confirmed\ndata: {\"id\":\"a\"}\n\n: keepalive\n\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			w, err := NewWriter(rec, &Config{EventIDs: tt.eventIDs})
			require.NoError(t, err)

			require.NoError(t, w.WriteEvent("confirmed", map[string]string{"id": "a"}))
			require.NoError(t, w.WriteKeepAlive())

			assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.want, rec.Body.String())
		})
	}
}

type countingWriter struct {
	n    atomic.Int32
	fail bool
}

func (c *countingWriter) WriteKeepAlive() error {
	c.n.Add(1)
	if c.fail {
		return errors.New("broken pipe")
	}
	return nil
}

func TestKeepAliveStopsOnWriteError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := &countingWriter{fail: true}

	stopped := KeepAlive(context.Background(), time.Millisecond, w, logger)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("keep-alive did not stop after a failed write")
	}
	assert.Equal(t, int32(1), w.n.Load())
}

func TestKeepAliveStopsOnCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	w := &countingWriter{}

	stopped := KeepAlive(ctx, time.Millisecond, w, logger)
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("keep-alive did not stop after cancel")
	}
}
