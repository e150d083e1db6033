package queue_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/kernel-connection/common/queue"
)

var _ = Describe("Fifo", func() {
	It("Will create a new, empty queue correctly", func() {
		q := queue.NewFifo[string](1)
		Expect(q).ToNot(BeNil())
		Expect(q.Len()).To(Equal(0))

		val, ok := q.Dequeue()
		Expect(ok).To(BeFalse())
		Expect(val).To(Equal(""))

		val, ok = q.Peek()
		Expect(ok).To(BeFalse())
		Expect(val).To(Equal(""))
	})

	It("Will dequeue elements in the order in which they were enqueued", func() {
		q := queue.NewFifo[string](1)
		alphabet := "abcdefghijklmnopqrstuvwxyz"

		for i := 0; i < len(alphabet); i++ {
			q.Enqueue(alphabet[i : i+1])
			Expect(q.Len()).To(Equal(i + 1))

			head, ok := q.Peek()
			Expect(ok).To(BeTrue())
			Expect(head).To(Equal("a"))
		}

		for i := 0; i < len(alphabet); i++ {
			Expect(q.Len()).To(Equal(len(alphabet) - i))

			val, ok := q.Dequeue()
			Expect(ok).To(BeTrue())
			Expect(val).To(Equal(alphabet[i : i+1]))
		}

		Expect(q.Len()).To(Equal(0))
	})

	It("Will correctly handle intermingled 'enqueue' and 'dequeue' operations", func() {
		q := queue.NewFifo[int](0)

		q.Enqueue(1)
		q.Enqueue(2)

		val, ok := q.Dequeue()
		Expect(ok).To(BeTrue())
		Expect(val).To(Equal(1))

		q.Enqueue(3)
		Expect(q.Len()).To(Equal(2))

		val, _ = q.Dequeue()
		Expect(val).To(Equal(2))
		val, _ = q.Dequeue()
		Expect(val).To(Equal(3))

		_, ok = q.Dequeue()
		Expect(ok).To(BeFalse())

		q.Enqueue(4)
		val, ok = q.Peek()
		Expect(ok).To(BeTrue())
		Expect(val).To(Equal(4))
	})

	It("Will return a re-queued element before everything else", func() {
		q := queue.NewFifo[string](4)
		q.Enqueue("b")
		q.Enqueue("c")

		q.PushFront("a")
		Expect(q.Len()).To(Equal(3))

		Expect(q.Drain()).To(Equal([]string{"a", "b", "c"}))
		Expect(q.Len()).To(Equal(0))

		q.PushFront("z")
		val, ok := q.Dequeue()
		Expect(ok).To(BeTrue())
		Expect(val).To(Equal("z"))
	})

	It("Will discard everything on Clear", func() {
		q := queue.NewFifo[int](2)
		q.Enqueue(1)
		q.Enqueue(2)
		q.Clear()

		Expect(q.Len()).To(Equal(0))
		_, ok := q.Peek()
		Expect(ok).To(BeFalse())
	})
})
