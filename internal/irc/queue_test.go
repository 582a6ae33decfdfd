package irc

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
	at    []time.Time
}

func (r *lineRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, strings.TrimRight(string(p), "\r\n"))
	r.at = append(r.at, time.Now())
	return len(p), nil
}

func (r *lineRecorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func runWriter(t *testing.T, q *OutputQueue, w *lineRecorder, burst int, cooldown time.Duration) {
	t.Helper()
	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- q.writeLoop(stop, w, burst, cooldown, zaptest.NewLogger(t)) }()
	t.Cleanup(func() {
		close(stop)
		require.NoError(t, <-done)
	})
}

func flush(t *testing.T, q *OutputQueue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Flush(ctx))
}

func TestQueuePriorityOrder(t *testing.T) {
	q := NewOutputQueue()
	q.Enqueue([]byte("PRIVMSG Foo :B\r\n"), PriorityDefault)
	q.Enqueue([]byte("QUIT\r\n"), PriorityControl)
	q.Enqueue([]byte("PRIVMSG Foo :A\r\n"), PriorityDefault)
	q.Enqueue([]byte("NICK Bot\r\n"), PriorityElevated)
	q.Enqueue([]byte("PRIVMSG Foo :C\r\n"), PriorityDefault)

	w := &lineRecorder{}
	runWriter(t, q, w, 0, 0)
	flush(t, q)

	assert.Equal(t, []string{
		"QUIT",
		"NICK Bot",
		"PRIVMSG Foo :B",
		"PRIVMSG Foo :A",
		"PRIVMSG Foo :C",
	}, w.Lines())
}

func TestQueueBurstCooldown(t *testing.T) {
	q := NewOutputQueue()
	for i := 0; i < 5; i++ {
		q.Enqueue([]byte("PRIVMSG #chan :x\r\n"), PriorityDefault)
	}

	w := &lineRecorder{}
	cooldown := 60 * time.Millisecond
	runWriter(t, q, w, 2, cooldown)
	flush(t, q)

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.at, 5)
	assert.Less(t, w.at[1].Sub(w.at[0]), cooldown)
	assert.GreaterOrEqual(t, w.at[2].Sub(w.at[1]), cooldown-10*time.Millisecond)
	assert.GreaterOrEqual(t, w.at[4].Sub(w.at[3]), cooldown-10*time.Millisecond)
}

func TestQueueClearReleasesFlush(t *testing.T) {
	q := NewOutputQueue()
	q.Enqueue([]byte("PRIVMSG #chan :a\r\n"), PriorityDefault)
	q.Enqueue([]byte("PRIVMSG #chan :b\r\n"), PriorityDefault)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Flush(ctx), context.DeadlineExceeded)

	assert.Equal(t, 2, q.Clear())
	assert.Equal(t, 0, q.Len())
	flush(t, q)
}
