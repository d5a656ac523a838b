package metrics_test

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/scusemua/notebook-kernel-client/common/metrics"
)

func freePort() int {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).To(BeNil())
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}

var _ = Describe("Server", func() {
	var (
		registry      *prometheus.Registry
		clientMetrics *metrics.ClientMetrics
	)

	BeforeEach(func() {
		var err error

		registry = prometheus.NewRegistry()
		clientMetrics, err = metrics.NewClientMetrics(registry)
		Expect(err).To(BeNil())
	})

	It("Will expose the registered metrics at /metrics", func() {
		clientMetrics.ProtocolError()

		server := metrics.NewServer(0, registry)

		recorder := httptest.NewRecorder()
		server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(recorder.Body.String()).To(ContainSubstring("notebook_kernel_client_protocol_errors_total 1"))
	})

	It("Will not serve when the port is not positive", func() {
		server := metrics.NewServer(0, registry)

		Expect(server.Start()).To(Succeed())
		Expect(server.IsRunning()).To(BeFalse())
		Expect(server.Addr()).To(BeEmpty())
		Expect(server.Stop()).To(MatchError(metrics.ErrServerNotRunning))
	})

	It("Will serve over HTTP until stopped", func() {
		server := metrics.NewServer(freePort(), registry)

		Expect(server.Start()).To(Succeed())
		Expect(server.IsRunning()).To(BeTrue())
		Expect(server.Start()).To(MatchError(metrics.ErrServerAlreadyRunning))

		_, port, err := net.SplitHostPort(server.Addr())
		Expect(err).To(BeNil())

		resp, err := http.Get("http://127.0.0.1:" + port + "/metrics")
		Expect(err).To(BeNil())
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		Expect(err).To(BeNil())
		Expect(string(body)).To(ContainSubstring("notebook_kernel_client_connection_status"))

		Expect(server.Stop()).To(Succeed())
		Expect(server.IsRunning()).To(BeFalse())
	})
})
