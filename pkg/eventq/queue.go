// Package eventq provides the unbounded ordered queue that feeds the
// single-consumer dispatcher. Producers only ever enqueue and never
// block on consumer progress; the consumer sees events in publish order.
package eventq

import "sync"

// Queue is an unbounded FIFO with a channel interface on both ends,
// backed by an internal pump goroutine.
type Queue[T any] struct {
	in        chan T
	out       chan T
	closeOnce sync.Once
}

func New[T any]() *Queue[T] {
	q := &Queue[T]{
		in:  make(chan T),
		out: make(chan T),
	}
	go q.pump()
	return q
}

func (q *Queue[T]) pump() {
	defer close(q.out)
	var buf []T
	for {
		var outCh chan T
		var next T
		if len(buf) > 0 {
			outCh = q.out
			next = buf[0]
		}
		select {
		case v, ok := <-q.in:
			if !ok {
				for _, rest := range buf {
					q.out <- rest
				}
				return
			}
			buf = append(buf, v)
		case outCh <- next:
			buf = buf[1:]
		}
	}
}

// Push enqueues one event. It must not be called after Close.
func (q *Queue[T]) Push(v T) {
	q.in <- v
}

// Out is the consumer end. It is closed after Close once every buffered
// event has been delivered.
func (q *Queue[T]) Out() <-chan T {
	return q.out
}

// Close stops intake. Buffered events still drain to the consumer;
// the consumer must keep receiving until Out is closed. Idempotent.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() { close(q.in) })
}
