package utils_test

import (
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/kernel-connection/common/utils"
)

var _ = Describe("Utils", func() {
	Context("GetEnv", func() {
		const name = "KERNEL_CONNECTION_UTILS_TEST_VAR"

		AfterEach(func() {
			Expect(os.Unsetenv(name)).To(Succeed())
		})

		It("should return the default when the variable is unset", func() {
			Expect(utils.GetEnv(name, "fallback")).To(Equal("fallback"))
		})

		It("should return the default when the variable is empty", func() {
			Expect(os.Setenv(name, "")).To(Succeed())
			Expect(utils.GetEnv(name, "fallback")).To(Equal("fallback"))
		})

		It("should return the value when the variable is set", func() {
			Expect(os.Setenv(name, "alice")).To(Succeed())
			Expect(utils.GetEnv(name, "fallback")).To(Equal("alice"))
		})
	})

	It("should render styled text containing the original text", func() {
		Expect(utils.GreenStyle.Render("connected")).To(ContainSubstring("connected"))
	})

	It("should pick a style per status", func() {
		Expect(utils.StatusStyle("dead").GetForeground()).To(Equal(utils.RedStyle.GetForeground()))
		Expect(utils.StatusStyle("idle").GetForeground()).To(Equal(utils.LightGreenStyle.GetForeground()))
		Expect(utils.StatusStyle("no-such-status").GetForeground()).To(Equal(utils.GrayStyle.GetForeground()))
		Expect(utils.StatusStyle("busy").Render("busy")).To(ContainSubstring("busy"))
	})
})
