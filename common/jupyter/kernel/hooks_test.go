package kernel_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/kernel-connection/common/jupyter/kernel"
	"github.com/scusemua/kernel-connection/common/jupyter/messaging"
)

var _ = Describe("HookList", func() {
	var (
		list *kernel.HookList
		msg  *messaging.Message
	)

	BeforeEach(func() {
		list = kernel.NewHookList()
		msg = messaging.NewMessage(messaging.MessageOptions{
			MsgType: messaging.Stream,
			Channel: messaging.IOPubChannel,
			Content: map[string]interface{}{"name": "stdout", "text": "hello"},
		})
	})

	It("Will run hooks from the most recently registered to the oldest", func() {
		var order []int
		for i := 1; i <= 3; i++ {
			i := i
			list.Add(func(*messaging.Message) (bool, error) {
				order = append(order, i)
				return true, nil
			})
		}

		Expect(list.Len()).To(Equal(3))
		Expect(list.Process(msg)).To(BeTrue())
		Expect(order).To(Equal([]int{3, 2, 1}))
	})

	It("Will stop delivery at the first hook that returns false", func() {
		oldestCalled := false
		list.Add(func(*messaging.Message) (bool, error) {
			oldestCalled = true
			return true, nil
		})
		list.Add(func(*messaging.Message) (bool, error) {
			return false, nil
		})

		Expect(list.Process(msg)).To(BeFalse())
		Expect(oldestCalled).To(BeFalse())
	})

	It("Will skip a hook that was removed while a batch was running", func() {
		removedCalled := false
		removed := list.Add(func(*messaging.Message) (bool, error) {
			removedCalled = true
			return true, nil
		})
		list.Add(func(*messaging.Message) (bool, error) {
			list.Remove(removed)
			return true, nil
		})

		Expect(list.Process(msg)).To(BeTrue())
		Expect(removedCalled).To(BeFalse())

		list.WaitForCompaction()
		Expect(list.Len()).To(Equal(1))
	})

	It("Will not run a hook added during a batch until the next batch", func() {
		addedCalls := 0
		list.Add(func(*messaging.Message) (bool, error) {
			if addedCalls == 0 && list.Len() == 1 {
				list.Add(func(*messaging.Message) (bool, error) {
					addedCalls++
					return true, nil
				})
			}
			return true, nil
		})

		Expect(list.Process(msg)).To(BeTrue())
		Expect(addedCalls).To(Equal(0))

		Expect(list.Process(msg)).To(BeTrue())
		Expect(addedCalls).To(Equal(1))
	})

	It("Will treat a hook that fails or panics as if it returned true", func() {
		reached := 0
		list.Add(func(*messaging.Message) (bool, error) {
			reached++
			return true, nil
		})
		list.Add(func(*messaging.Message) (bool, error) {
			panic("hook exploded")
		})
		list.Add(func(*messaging.Message) (bool, error) {
			return false, errors.New("hook failed")
		})

		Expect(list.Process(msg)).To(BeTrue())
		Expect(reached).To(Equal(1))
	})

	It("Will remove every hook on Clear", func() {
		called := false
		list.Add(func(*messaging.Message) (bool, error) {
			called = true
			return false, nil
		})

		list.Clear()
		list.WaitForCompaction()

		Expect(list.Len()).To(Equal(0))
		Expect(list.Process(msg)).To(BeTrue())
		Expect(called).To(BeFalse())
	})
})
