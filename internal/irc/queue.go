package irc

import (
	"bytes"
	"container/heap"
	"context"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Send priorities. Lower values go out first.
const (
	PriorityControl  = 0
	PriorityElevated = 4
	PriorityDefault  = 5
)

// maxLineLength is the RFC 1459 limit including CRLF.
const maxLineLength = 512

type queued struct {
	priority int
	seq      uint64
	payload  []byte
}

type queueHeap []*queued

func (h queueHeap) Len() int { return len(h) }
func (h queueHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h queueHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *queueHeap) Push(x any) { *h = append(*h, x.(*queued)) }
func (h *queueHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// OutputQueue orders outbound lines by (priority, arrival) and tracks
// lines that are queued or being written so Flush can wait for them.
type OutputQueue struct {
	mu      sync.Mutex
	items   queueHeap
	seq     uint64
	pending int
	drained chan struct{}
	ready   chan struct{}
}

// NewOutputQueue creates an empty queue
func NewOutputQueue() *OutputQueue {
	q := &OutputQueue{
		drained: make(chan struct{}),
		ready:   make(chan struct{}, 1),
	}
	close(q.drained)
	return q
}

// Enqueue adds a complete wire line (CRLF included).
func (q *OutputQueue) Enqueue(payload []byte, priority int) {
	q.mu.Lock()
	if q.pending == 0 {
		q.drained = make(chan struct{})
	}
	q.seq++
	heap.Push(&q.items, &queued{priority: priority, seq: q.seq, payload: payload})
	q.pending++
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Len returns the number of lines not yet handed to the writer.
func (q *OutputQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *OutputQueue) pop() (*queued, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	return heap.Pop(&q.items).(*queued), true
}

// release marks n lines as finished, written or dropped.
func (q *OutputQueue) release(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n == 0 || q.pending == 0 {
		return
	}
	q.pending -= n
	if q.pending <= 0 {
		q.pending = 0
		close(q.drained)
	}
}

// Clear drops every queued line and returns how many were dropped.
func (q *OutputQueue) Clear() int {
	q.mu.Lock()
	n := len(q.items)
	q.items = nil
	q.mu.Unlock()
	q.release(n)
	return n
}

// Flush blocks until every line enqueued so far has been written or dropped.
func (q *OutputQueue) Flush(ctx context.Context) error {
	q.mu.Lock()
	drained := q.drained
	q.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeLoop drains the queue into w. After burst lines it pauses for
// cooldown; the count resets whenever the queue runs empty. It returns nil
// when stop closes and the write error otherwise.
func (q *OutputQueue) writeLoop(stop <-chan struct{}, w io.Writer, burst int, cooldown time.Duration, log *zap.Logger) error {
	overlong := rate.Sometimes{Interval: time.Minute}
	sent := 0

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		it, ok := q.pop()
		if !ok {
			sent = 0
			select {
			case <-stop:
				return nil
			case <-q.ready:
				continue
			}
		}

		if len(it.payload) > maxLineLength {
			overlong.Do(func() {
				log.Warn("sending line longer than the protocol allows",
					zap.Int("length", len(it.payload)))
			})
		}

		_, err := w.Write(it.payload)
		q.release(1)
		if err != nil {
			return err
		}
		log.Debug("->", zap.ByteString("line", bytes.TrimRight(it.payload, "\r\n")))

		sent++
		if burst > 0 && sent >= burst && q.Len() > 0 {
			sent = 0
			t := time.NewTimer(cooldown)
			select {
			case <-stop:
				t.Stop()
				return nil
			case <-t.C:
			}
		}
	}
}
