package transport

import "time"

// Queue is an unbounded FIFO. It is not safe for concurrent use; owners guard
// it with their own lock.
type Queue[T any] struct {
	items []T
}

func (q *Queue[T]) Push(v T) {
	q.items = append(q.items, v)
}

// PushFront puts v back at the head, for items taken but not delivered.
func (q *Queue[T]) PushFront(v T) {
	q.items = append([]T{v}, q.items...)
}

func (q *Queue[T]) Peek() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	return q.items[0], true
}

func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Entry is an outbound frame waiting for a ready connection. Done, when set,
// is called with nil once the frame has been written.
type Entry struct {
	Payload    []byte
	Done       func(error)
	EnqueuedAt time.Time
}
