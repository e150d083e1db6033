package kernel

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/kernel-connection/common/jupyter/messaging"
)

var _ = Describe("HookList compaction", func() {
	scheduled := func(l *HookList) bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.compactScheduled
	}

	It("Will not schedule a compaction when clearing an empty list", func() {
		l := NewHookList()
		l.Clear()
		Expect(scheduled(l)).To(BeFalse())
	})

	It("Will not schedule a compaction when removing an unknown hook", func() {
		l := NewHookList()
		l.Remove(42)
		Expect(scheduled(l)).To(BeFalse())
	})

	It("Will compact after clearing registered hooks", func() {
		l := NewHookList()
		l.Add(func(*messaging.Message) (bool, error) { return true, nil })

		l.Clear()
		l.WaitForCompaction()
		Expect(scheduled(l)).To(BeFalse())
		Expect(l.Len()).To(BeZero())

		l.Clear()
		Expect(scheduled(l)).To(BeFalse())
	})

	It("Will not schedule a compaction when disposing a future without hooks", func() {
		future := NewFuture(&messaging.Message{}, false, false, nil, nil)
		future.Dispose()
		Expect(scheduled(future.hooks)).To(BeFalse())
	})
})
