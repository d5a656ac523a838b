package utils_test

import (
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/notebook-kernel-client/common/utils"
)

var _ = Describe("GetEnv", func() {
	const name = "NOTEBOOK_KERNEL_CLIENT_UTILS_TEST"

	AfterEach(func() {
		Expect(os.Unsetenv(name)).To(Succeed())
	})

	It("will return the value of a set variable", func() {
		Expect(os.Setenv(name, "value")).To(Succeed())
		Expect(utils.GetEnv(name, "default")).To(Equal("value"))
	})

	It("will return the default for an unset or empty variable", func() {
		Expect(utils.GetEnv(name, "default")).To(Equal("default"))

		Expect(os.Setenv(name, "")).To(Succeed())
		Expect(utils.GetEnv(name, "default")).To(Equal("default"))
	})
})
