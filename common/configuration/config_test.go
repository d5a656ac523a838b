package configuration_test

import (
	"time"

	"github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/notebook-kernel-client/common/configuration"
	"github.com/scusemua/notebook-kernel-client/common/jupyter"
)

var _ = Describe("ClientOptions", func() {
	Context("Validating", func() {
		It("will fill in every unset field with its default", func() {
			opts := &configuration.ClientOptions{}
			Expect(opts.Validate()).To(Succeed())

			Expect(opts.ServerURL).To(Equal("http://localhost:8888"))
			Expect(opts.Username).To(Equal(jupyter.DefaultUsername))
			Expect(opts.BackoffBase).To(Equal(jupyter.DefaultBackoffBase))
			Expect(opts.BackoffUnit()).To(Equal(jupyter.DefaultBackoffUnit))
			Expect(opts.EarlyCloseGraceWindow()).To(Equal(jupyter.DefaultEarlyCloseGraceWindow))
			Expect(opts.RequestTimeout()).To(Equal(jupyter.DefaultRequestTimeout))
		})

		It("will keep a reconnect limit of zero", func() {
			opts := &configuration.ClientOptions{ReconnectLimit: 0}
			Expect(opts.Validate()).To(Succeed())
			Expect(opts.ReconnectLimit).To(Equal(0))
		})

		It("will keep explicitly-set fields", func() {
			opts := &configuration.ClientOptions{
				ServerURL:                   "https://notebooks.example.com:9443/base",
				Username:                    "alice",
				ReconnectLimit:              3,
				BackoffBase:                 1.5,
				BackoffUnitMillis:           250,
				EarlyCloseGraceWindowMillis: 500,
				RequestTimeoutMillis:        2000,
			}
			Expect(opts.Validate()).To(Succeed())

			Expect(opts.ServerURL).To(Equal("https://notebooks.example.com:9443/base"))
			Expect(opts.Username).To(Equal("alice"))
			Expect(opts.ReconnectLimit).To(Equal(3))
			Expect(opts.BackoffBase).To(Equal(1.5))
			Expect(opts.BackoffUnit()).To(Equal(250 * time.Millisecond))
			Expect(opts.EarlyCloseGraceWindow()).To(Equal(500 * time.Millisecond))
			Expect(opts.RequestTimeout()).To(Equal(2 * time.Second))
		})

		DescribeTable("will reject invalid options",
			func(opts *configuration.ClientOptions) {
				Expect(opts.Validate()).To(MatchError(configuration.ErrInvalidOptions))
			},
			Entry("a websocket server URL", &configuration.ClientOptions{ServerURL: "ws://localhost:8888"}),
			Entry("a relative server URL", &configuration.ClientOptions{ServerURL: "/api/kernels"}),
			Entry("a server URL without a host", &configuration.ClientOptions{ServerURL: "http://"}),
			Entry("an unparseable server URL", &configuration.ClientOptions{ServerURL: "http://[::1"}),
			Entry("a negative reconnect limit", &configuration.ClientOptions{ReconnectLimit: -1}),
			Entry("a backoff base below one", &configuration.ClientOptions{BackoffBase: 0.5}),
		)
	})

	Context("Printing", func() {
		var opts *configuration.ClientOptions

		BeforeEach(func() {
			opts = configuration.DefaultClientOptions()
			opts.Token = "super-secret-token"
		})

		It("will redact the token", func() {
			Expect(opts.String()).ToNot(ContainSubstring("super-secret-token"))
			Expect(opts.PrettyString(2)).ToNot(ContainSubstring("super-secret-token"))
			Expect(opts.String()).To(ContainSubstring("<redacted, 18 characters>"))
			Expect(opts.PrettyString(2)).To(ContainSubstring("<redacted, 18 characters>"))

			// The original must not be modified.
			Expect(opts.Token).To(Equal("super-secret-token"))
		})

		It("will produce valid JSON", func() {
			var decoded map[string]interface{}
			Expect(json.Unmarshal([]byte(opts.String()), &decoded)).To(Succeed())
			Expect(decoded).To(HaveKeyWithValue("server-url", "http://localhost:8888"))

			Expect(json.Unmarshal([]byte(opts.PrettyString(4)), &decoded)).To(Succeed())
			Expect(opts.PrettyString(4)).To(ContainSubstring("\n    \"server-url\""))
		})

		It("will leave an empty token empty", func() {
			opts.Token = ""
			Expect(opts.String()).To(ContainSubstring("\"token\":\"\""))
		})
	})

	It("will clone options independently", func() {
		opts := configuration.DefaultClientOptions()
		clone := opts.Clone()
		clone.Username = "bob"

		Expect(opts.Username).To(Equal(jupyter.DefaultUsername))
		Expect(clone.ServerURL).To(Equal(opts.ServerURL))
	})
})
