// ABOUTME: Tests for the serialized SSE stream writer.
// ABOUTME: Covers frame format, close semantics, and write-failure handling.

package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_WriteCommentAndEvent(t *testing.T) {
	w := &recordingWriter{}
	s := NewStream(w, nil)

	require.NoError(t, s.WriteComment())
	require.NoError(t, s.WriteEvent("endpoint", "/messages?sessionId=abc"))

	assert.Equal(t, ":\n\nevent: endpoint\ndata: /messages?sessionId=abc\n\n", w.String())
}

func TestStream_MultilineDataIsSplit(t *testing.T) {
	w := &recordingWriter{}
	s := NewStream(w, nil)

	require.NoError(t, s.WriteEvent("message", "a\nb"))
	assert.Equal(t, "event: message\ndata: a\ndata: b\n\n", w.String())
}

func TestStream_WriteAfterCloseFails(t *testing.T) {
	w := &recordingWriter{}
	s := NewStream(w, nil)

	s.Close()
	s.Close()

	assert.True(t, s.Closed())
	assert.ErrorIs(t, s.WriteComment(), ErrStreamClosed)
	assert.Equal(t, 0, w.count())

	select {
	case <-s.Done():
	default:
		t.Fatal("Done should be closed after Close")
	}
}

func TestStream_WriteFailureClosesStream(t *testing.T) {
	w := &recordingWriter{fail: true}
	s := NewStream(w, nil)

	err := s.WriteComment()
	require.Error(t, err)
	assert.ErrorIs(t, err, errBrokenPipe)
	assert.True(t, s.Closed())
	assert.ErrorIs(t, s.Err(), errBrokenPipe)

	select {
	case <-s.Done():
	default:
		t.Fatal("Done should fire after a failed write")
	}
}

func TestStream_ConcurrentWritesDoNotInterleave(t *testing.T) {
	w := &recordingWriter{}
	s := NewStream(w, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.WriteEvent("message", `{"x":1}`)
		}()
	}
	wg.Wait()

	frame := "event: message\ndata: {\"x\":1}\n\n"
	assert.Equal(t, 50, w.count())
	assert.Len(t, w.String(), 50*len(frame))
}
