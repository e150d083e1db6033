package kernel_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/kernel-connection/common/jupyter/kernel"
)

var _ = Describe("Signal", func() {
	It("Will deliver emitted values to every connected listener", func() {
		var signal kernel.Signal[string]

		var first, second []string
		signal.Connect(func(v string) { first = append(first, v) })
		id := signal.Connect(func(v string) { second = append(second, v) })

		signal.Emit("a")
		signal.Disconnect(id)
		signal.Emit("b")

		Expect(first).To(Equal([]string{"a", "b"}))
		Expect(second).To(Equal([]string{"a"}))
	})

	It("Will not deliver anything after DisconnectAll", func() {
		var signal kernel.Signal[int]

		calls := 0
		signal.Connect(func(int) { calls++ })
		signal.DisconnectAll()
		signal.Emit(1)

		Expect(calls).To(Equal(0))

		// Unknown ids are ignored.
		signal.Disconnect(42)
	})

	It("Will let a listener disconnect itself while being called", func() {
		var signal kernel.Signal[int]

		calls := 0
		var id kernel.ListenerID
		id = signal.Connect(func(int) {
			calls++
			signal.Disconnect(id)
		})

		signal.Emit(1)
		signal.Emit(2)
		Expect(calls).To(Equal(1))
	})
})
