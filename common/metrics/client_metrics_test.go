package metrics_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/scusemua/notebook-kernel-client/common/metrics"
)

var _ = Describe("ClientMetrics", func() {
	It("Will do nothing when nil", func() {
		var clientMetrics *metrics.ClientMetrics

		Expect(func() {
			clientMetrics.SentMessage("shell", "execute_request")
			clientMetrics.ReceivedMessage("iopub", "status")
			clientMetrics.ProtocolError()
			clientMetrics.UnsolicitedMessage()
			clientMetrics.ReconnectAttempt()
			clientMetrics.CallbackPanic()
			clientMetrics.SetConnectionStatus(3)
			clientMetrics.SetPendingRequests(2)
		}).ToNot(Panic())
	})

	It("Will count messages by channel and type", func() {
		clientMetrics, err := metrics.NewClientMetrics(nil)
		Expect(err).To(BeNil())

		clientMetrics.SentMessage("shell", "execute_request")
		clientMetrics.SentMessage("shell", "execute_request")
		clientMetrics.SentMessage("stdin", "input_reply")
		clientMetrics.ReceivedMessage("iopub", "status")

		Expect(testutil.ToFloat64(clientMetrics.MessagesSentCounterVec.WithLabelValues("shell", "execute_request"))).To(Equal(2.0))
		Expect(testutil.ToFloat64(clientMetrics.MessagesSentCounterVec.WithLabelValues("stdin", "input_reply"))).To(Equal(1.0))
		Expect(testutil.ToFloat64(clientMetrics.MessagesReceivedCounterVec.WithLabelValues("iopub", "status"))).To(Equal(1.0))
	})

	It("Will track counters and gauges", func() {
		clientMetrics, err := metrics.NewClientMetrics(nil)
		Expect(err).To(BeNil())

		clientMetrics.ProtocolError()
		clientMetrics.UnsolicitedMessage()
		clientMetrics.UnsolicitedMessage()
		clientMetrics.ReconnectAttempt()
		clientMetrics.CallbackPanic()
		clientMetrics.SetConnectionStatus(4)
		clientMetrics.SetPendingRequests(3)
		clientMetrics.SetPendingRequests(1)

		Expect(testutil.ToFloat64(clientMetrics.ProtocolErrorsCounter)).To(Equal(1.0))
		Expect(testutil.ToFloat64(clientMetrics.UnsolicitedMessagesCounter)).To(Equal(2.0))
		Expect(testutil.ToFloat64(clientMetrics.ReconnectAttemptsCounter)).To(Equal(1.0))
		Expect(testutil.ToFloat64(clientMetrics.CallbackPanicsCounter)).To(Equal(1.0))
		Expect(testutil.ToFloat64(clientMetrics.ConnectionStatusGauge)).To(Equal(4.0))
		Expect(testutil.ToFloat64(clientMetrics.PendingRequestsGauge)).To(Equal(1.0))
	})

	It("Will register with the given registerer exactly once", func() {
		registry := prometheus.NewRegistry()

		clientMetrics, err := metrics.NewClientMetrics(registry)
		Expect(err).To(BeNil())
		Expect(clientMetrics).ToNot(BeNil())

		clientMetrics.ReconnectAttempt()

		count, err := testutil.GatherAndCount(registry, "notebook_kernel_client_reconnect_attempts_total")
		Expect(err).To(BeNil())
		Expect(count).To(Equal(1))

		_, err = metrics.NewClientMetrics(registry)
		Expect(err).ToNot(BeNil())
	})
})
