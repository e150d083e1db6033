package queue

// Fifo implements a first-in first-out (FIFO) queue.
//
// Fifo is not safe for concurrent use. Callers guard it with their own lock.
type Fifo[T any] struct {
	elements []T
}

// NewFifo creates a new Fifo with the specified initial size/capacity and returns a pointer to it.
func NewFifo[T any](initialSize int) *Fifo[T] {
	if initialSize < 0 {
		initialSize = 1
	}

	return &Fifo[T]{
		elements: make([]T, 0, initialSize),
	}
}

// Enqueue adds the specified element to the back of the queue.
func (q *Fifo[T]) Enqueue(elem T) {
	q.elements = append(q.elements, elem)
}

// PushFront puts the specified element back at the head of the queue, so that it is the
// next element returned by Dequeue.
func (q *Fifo[T]) PushFront(elem T) {
	q.elements = append(q.elements, elem)
	copy(q.elements[1:], q.elements[:len(q.elements)-1])
	q.elements[0] = elem
}

// Dequeue removes and returns the next element in the queue.
//
// If the queue is empty, then Dequeue returns the zero value of T and false.
func (q *Fifo[T]) Dequeue() (T, bool) {
	var zero T
	if len(q.elements) == 0 {
		return zero, false
	}

	elem := q.elements[0]
	q.elements[0] = zero
	q.elements = q.elements[1:]

	return elem, true
}

// Peek returns but does not remove the next element in the queue.
func (q *Fifo[T]) Peek() (T, bool) {
	if len(q.elements) == 0 {
		var zero T
		return zero, false
	}

	return q.elements[0], true
}

// Drain removes and returns every element in the queue, in order.
func (q *Fifo[T]) Drain() []T {
	elements := q.elements
	q.elements = make([]T, 0, cap(elements))
	return elements
}

// Clear discards all elements in the queue.
func (q *Fifo[T]) Clear() {
	q.elements = q.elements[:0:0]
}

// Len returns the number of elements in the queue.
func (q *Fifo[T]) Len() int {
	return len(q.elements)
}
