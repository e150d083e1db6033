package kernel_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/kernel-connection/common/jupyter/kernel"
)

var _ = Describe("ConnectionOptions", func() {
	It("Will apply the defaults on Validate", func() {
		opts := kernel.DefaultConnectionOptions("http://localhost:8888", "kernel-1")
		Expect(opts.Validate()).To(Succeed())

		Expect(opts.ClientID).ToNot(BeEmpty())
		Expect(opts.ReconnectLimit).To(Equal(kernel.DefaultReconnectLimit))
		Expect(opts.ReconnectMin).To(Equal(kernel.DefaultReconnectMin))
		Expect(opts.WriteTimeout).To(Equal(kernel.DefaultWriteTimeout))
		Expect(opts.DialTimeout).To(Equal(kernel.DefaultDialTimeout))
		Expect(opts.MaxMessageSize).To(Equal(int64(kernel.DefaultMaxMessageSize)))
		Expect(opts.CommsOverSubshells).To(Equal(kernel.CommsOverSubshellsDisabled))
		Expect(opts.Dialer).ToNot(BeNil())
	})

	It("Will treat a negative reconnect limit as no reconnection", func() {
		opts := kernel.DefaultConnectionOptions("http://localhost:8888", "kernel-1")
		opts.ReconnectLimit = -1
		Expect(opts.Validate()).To(Succeed())
		Expect(opts.ReconnectLimit).To(Equal(0))
	})

	DescribeTable("Will reject invalid options",
		func(configure func(opts *kernel.ConnectionOptions)) {
			opts := kernel.DefaultConnectionOptions("http://localhost:8888", "kernel-1")
			configure(opts)
			Expect(opts.Validate()).To(MatchError(kernel.ErrInvalidOptions))
		},
		Entry("without a kernel id", func(opts *kernel.ConnectionOptions) { opts.KernelID = "" }),
		Entry("without any URL", func(opts *kernel.ConnectionOptions) { opts.BaseURL = "" }),
		Entry("with an unknown subshell policy", func(opts *kernel.ConnectionOptions) {
			opts.CommsOverSubshells = kernel.CommsOverSubshells("always")
		}),
	)

	It("Will keep the token out of its JSON form", func() {
		opts := kernel.DefaultConnectionOptions("http://localhost:8888", "kernel-1")
		opts.Token = "secret"
		Expect(opts.String()).ToNot(ContainSubstring("secret"))
		Expect(opts.PrettyString(2)).To(ContainSubstring("\"kernel_id\": \"kernel-1\""))
	})
})

var _ = Describe("ChannelsURL", func() {
	DescribeTable("Will build the kernel channels URL",
		func(baseURL string, wsURL string, token string, expected string) {
			Expect(kernel.ChannelsURL(baseURL, wsURL, "kernel-1", "client-1", token)).To(Equal(expected))
		},
		Entry("from an http base URL", "http://localhost:8888/", "", "",
			"ws://localhost:8888/api/kernels/kernel-1/channels?session_id=client-1"),
		Entry("from an https base URL with a token", "https://hub.example.com/user/ada", "", "t0k",
			"wss://hub.example.com/user/ada/api/kernels/kernel-1/channels?session_id=client-1&token=t0k"),
		Entry("from an explicit websocket URL", "http://localhost:8888", "ws://proxy:9000/", "",
			"ws://proxy:9000/api/kernels/kernel-1/channels?session_id=client-1"),
	)
})
