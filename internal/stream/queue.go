package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/versecatch/internal/observe"
)

// ErrQueueClosed is returned by [Queue.Push] after [Queue.Close].
var ErrQueueClosed = errors.New("stream: queue closed")

// Segment is one inbound binary message, handed verbatim to the detector.
type Segment struct {
	// Seq is the 1-based arrival index within the connection.
	Seq uint64

	// Data is the raw audio payload.
	Data []byte

	// ReceivedAt is when the network loop read the message.
	ReceivedAt time.Time
}

// Queue is the bounded FIFO between a session's network loop (the single
// producer) and its worker (the single consumer).
//
// A full queue blocks Push: the network loop stops reading, so the sender
// sees TCP backpressure instead of losing audio. Close is the end-of-stream
// marker; Pop keeps returning queued segments after Close until the queue is
// empty.
//
// Push and Close must be called from the producer goroutine.
type Queue struct {
	ch        chan Segment
	closed    chan struct{}
	closeOnce sync.Once
	metrics   *observe.Metrics
}

// NewQueue returns a queue holding at most size segments. m may be nil.
func NewQueue(size int, m *observe.Metrics) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{
		ch:      make(chan Segment, size),
		closed:  make(chan struct{}),
		metrics: m,
	}
}

// Push appends seg, blocking while the queue is full. It returns ctx.Err()
// when ctx ends first and [ErrQueueClosed] after Close.
func (q *Queue) Push(ctx context.Context, seg Segment) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}

	select {
	case q.ch <- seg:
		if q.metrics != nil {
			q.metrics.QueuedSegments.Add(ctx, 1)
		}
		return nil
	case <-q.closed:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the end of the stream. It is safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// Pop returns the oldest segment. It blocks until a segment is available and
// returns false once the queue is closed and drained, or when ctx ends.
func (q *Queue) Pop(ctx context.Context) (Segment, bool) {
	select {
	case seg := <-q.ch:
		q.popped(ctx)
		return seg, true
	case <-ctx.Done():
		return Segment{}, false
	case <-q.closed:
	}

	// Closed: hand out whatever is left before reporting the end.
	select {
	case seg := <-q.ch:
		q.popped(ctx)
		return seg, true
	default:
		return Segment{}, false
	}
}

// Len reports the number of queued segments.
func (q *Queue) Len() int { return len(q.ch) }

func (q *Queue) popped(ctx context.Context) {
	if q.metrics != nil {
		q.metrics.QueuedSegments.Add(ctx, -1)
	}
}
