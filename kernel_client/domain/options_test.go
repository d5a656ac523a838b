package domain_test

import (
	"time"

	"github.com/Scusemua/go-utils/config"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/notebook-kernel-client/common/configuration"
	"github.com/scusemua/notebook-kernel-client/kernel_client/domain"
)

var _ = Describe("KernelClientOptions", func() {
	var options *domain.KernelClientOptions

	BeforeEach(func() {
		options = &domain.KernelClientOptions{}
		options.ClientOptions = *configuration.DefaultClientOptions()
	})

	AfterEach(func() {
		config.LogColor = true
	})

	It("will parse command-line flags", func() {
		_, err := config.ValidateOptionsWithFlags(options,
			"-server-url", "http://127.0.0.1:9999",
			"-token", "abc",
			"-kernel-name", "python3",
			"-code", "print(1)",
			"-reconnect-limit", "3",
			"-backoff-base", "1.5",
			"-execution-timeout-ms", "2500",
			"-kill-on-exit",
		)
		Expect(err).To(BeNil())

		Expect(options.ServerURL).To(Equal("http://127.0.0.1:9999"))
		Expect(options.Token).To(Equal("abc"))
		Expect(options.KernelName).To(Equal("python3"))
		Expect(options.Code).To(Equal("print(1)"))
		Expect(options.ReconnectLimit).To(Equal(3))
		Expect(options.BackoffBase).To(Equal(1.5))
		Expect(options.ExecutionTimeout()).To(Equal(2500 * time.Millisecond))
		Expect(options.KillOnExit).To(BeTrue())
	})

	It("will fill in defaults", func() {
		_, err := config.ValidateOptionsWithFlags(options)
		Expect(err).To(BeNil())

		Expect(options.ReadyTimeout()).To(Equal(time.Duration(domain.DefaultReadyTimeoutMillis) * time.Millisecond))
		Expect(options.ExecutionTimeout()).To(Equal(time.Duration(0)))
		Expect(options.Username).ToNot(BeEmpty())
	})

	It("will ask for the usage to be printed", func() {
		_, err := config.ValidateOptionsWithFlags(options, "-h")
		Expect(err).To(MatchError(config.ErrPrintUsage))
	})

	It("will reject both a kernel id and a kernel name", func() {
		options.KernelId = "5e3f"
		options.KernelName = "python3"

		Expect(options.Validate()).To(MatchError(configuration.ErrInvalidOptions))
	})

	It("will reject invalid client options", func() {
		options.ServerURL = "ws://localhost:8888"

		Expect(options.Validate()).To(MatchError(configuration.ErrInvalidOptions))
	})

	It("will disable colored logs", func() {
		options.NoColor = true

		Expect(options.Validate()).To(Succeed())
		Expect(config.LogColor).To(BeFalse())
	})

	It("will not print the token", func() {
		options.Token = "super-secret-token"

		Expect(options.String()).ToNot(ContainSubstring("super-secret-token"))
		Expect(options.PrettyString(2)).ToNot(ContainSubstring("super-secret-token"))
		Expect(options.String()).To(ContainSubstring(`"token":"<redacted>"`))
		Expect(options.PrettyString(2)).To(ContainSubstring("<redacted>"))
		Expect(options.Token).To(Equal("super-secret-token"))
	})
})
