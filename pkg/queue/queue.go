// Package queue provides a FIFO container that owns deep copies of its elements.
//
// Every element entering the queue is cloned, and every element leaving it is
// cloned again before the internal copy is freed, so callers never alias the
// queue's storage:
//
//	q := queue.New[*Item]()
//	defer q.Destroy()
//
//	_ = q.Push(item)          // the queue stores item.Clone()
//	got, ok := q.Pop()        // got is a fresh clone owned by the caller
//	if ok {
//	    defer got.Free()
//	}
package queue

import "errors"

// ErrDestroyed is returned by Push after Destroy has been called.
var ErrDestroyed = errors.New("queue: destroyed")

// Element is the clone/free capability required from queue payloads.
// Clone must return a copy that shares no mutable storage with the receiver;
// Free releases whatever the copy owns.
type Element[T any] interface {
	Clone() T
	Free()
}

type node[T any] struct {
	data T
	next *node[T]
}

// Queue is a singly linked FIFO of owned element copies.
// A Queue must not be copied after first use, and it is not safe for
// concurrent use.
type Queue[T Element[T]] struct {
	first     *node[T]
	last      *node[T]
	destroyed bool
}

// New returns an empty queue.
func New[T Element[T]]() *Queue[T] {
	return &Queue[T]{}
}

// Push appends a clone of elem.
func (q *Queue[T]) Push(elem T) error {
	if q.destroyed {
		return ErrDestroyed
	}

	n := &node[T]{data: elem.Clone()}
	if q.first == nil {
		q.first = n
	} else {
		q.last.next = n
	}
	q.last = n

	return nil
}

// Pop removes the oldest element and returns a fresh clone of it. The internal
// copy is freed. ok is false when the queue is empty.
func (q *Queue[T]) Pop() (elem T, ok bool) {
	n := q.first
	if n == nil {
		return elem, false
	}

	elem = n.data.Clone()
	n.data.Free()

	q.first = n.next
	if q.first == nil {
		q.last = nil
	}
	n.next = nil

	return elem, true
}

// Len counts the queued elements by walking the chain.
func (q *Queue[T]) Len() int {
	n := 0
	for cur := q.first; cur != nil; cur = cur.next {
		n++
	}
	return n
}

// IsEmpty reports whether the queue holds no elements.
func (q *Queue[T]) IsEmpty() bool {
	return q.first == nil
}

// Drain returns an iterator that pops until the queue is empty.
// Stopping the iteration early leaves the remaining elements queued.
func (q *Queue[T]) Drain() func(yield func(T) bool) {
	return func(yield func(T) bool) {
		for {
			elem, ok := q.Pop()
			if !ok || !yield(elem) {
				return
			}
		}
	}
}

// Destroy frees every remaining element. Further pushes fail with
// ErrDestroyed; calling Destroy again is a no-op.
func (q *Queue[T]) Destroy() {
	for q.first != nil {
		n := q.first
		q.first = n.next
		n.data.Free()
		n.next = nil
	}
	q.last = nil
	q.destroyed = true
}
