package metrics

import (
	"errors"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "notebook_kernel_client"
)

var (
	ErrMetricsNotInitialized = errors.New("metrics have not been initialized")
)

// ClientMetrics holds the Prometheus metrics of a kernel client.
//
// All methods are safe to call on a nil *ClientMetrics, in which case they do nothing. This lets
// callers that do not care about metrics pass nil.
type ClientMetrics struct {
	log logger.Logger

	// MessagesSentCounterVec counts outgoing Jupyter messages.
	//
	// Labels: "channel", "jupyter_message_type".
	MessagesSentCounterVec *prometheus.CounterVec

	// MessagesReceivedCounterVec counts inbound Jupyter messages that decoded successfully.
	//
	// Labels: "channel", "jupyter_message_type".
	MessagesReceivedCounterVec *prometheus.CounterVec

	// ProtocolErrorsCounter counts inbound frames that could not be decoded.
	ProtocolErrorsCounter prometheus.Counter

	// UnsolicitedMessagesCounter counts inbound IOPub messages that did not belong to any request of this client.
	UnsolicitedMessagesCounter prometheus.Counter

	// ReconnectAttemptsCounter counts scheduled and manual reconnect attempts.
	ReconnectAttemptsCounter prometheus.Counter

	// CallbackPanicsCounter counts user callbacks that panicked during dispatch.
	CallbackPanicsCounter prometheus.Counter

	// ConnectionStatusGauge is the numeric value of the current jupyter.ConnectionStatus.
	ConnectionStatusGauge prometheus.Gauge

	// PendingRequestsGauge is the number of requests whose callbacks have not been retired yet.
	PendingRequestsGauge prometheus.Gauge
}

// NewClientMetrics creates the client's metrics and registers them with the given registerer.
// If registerer is nil, the metrics are created but not registered.
func NewClientMetrics(registerer prometheus.Registerer) (*ClientMetrics, error) {
	m := &ClientMetrics{
		MessagesSentCounterVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "The number of Jupyter messages sent to the kernel.",
		}, []string{"channel", "jupyter_message_type"}),
		MessagesReceivedCounterVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "The number of Jupyter messages received from the kernel.",
		}, []string{"channel", "jupyter_message_type"}),
		ProtocolErrorsCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "The number of inbound frames that could not be decoded.",
		}),
		UnsolicitedMessagesCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unsolicited_messages_total",
			Help:      "The number of IOPub messages received that were not caused by a request of this client.",
		}),
		ReconnectAttemptsCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "The number of attempts to re-establish the kernel connection.",
		}),
		CallbackPanicsCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_panics_total",
			Help:      "The number of user callbacks that panicked while handling a message.",
		}),
		ConnectionStatusGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_status",
			Help:      "The current connection status (0=disconnected, 1=connecting, 2=connected, 3=ready, 4=reconnecting, 5=dead).",
		}),
		PendingRequestsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "The number of requests whose replies have not been fully received.",
		}),
	}
	config.InitLogger(&m.log, m)

	if registerer == nil {
		return m, nil
	}

	collectors := map[string]prometheus.Collector{
		"Messages Sent":        m.MessagesSentCounterVec,
		"Messages Received":    m.MessagesReceivedCounterVec,
		"Protocol Errors":      m.ProtocolErrorsCounter,
		"Unsolicited Messages": m.UnsolicitedMessagesCounter,
		"Reconnect Attempts":   m.ReconnectAttemptsCounter,
		"Callback Panics":      m.CallbackPanicsCounter,
		"Connection Status":    m.ConnectionStatusGauge,
		"Pending Requests":     m.PendingRequestsGauge,
	}

	for name, collector := range collectors {
		if err := registerer.Register(collector); err != nil {
			m.log.Error("Failed to register '%s' metric because: %v", name, err)
			return nil, err
		}
	}

	return m, nil
}

// SentMessage records an outgoing message.
func (m *ClientMetrics) SentMessage(channel string, jupyterMessageType string) {
	if m == nil {
		return
	}

	m.MessagesSentCounterVec.With(prometheus.Labels{
		"channel":              channel,
		"jupyter_message_type": jupyterMessageType,
	}).Inc()
}

// ReceivedMessage records an inbound message.
func (m *ClientMetrics) ReceivedMessage(channel string, jupyterMessageType string) {
	if m == nil {
		return
	}

	m.MessagesReceivedCounterVec.With(prometheus.Labels{
		"channel":              channel,
		"jupyter_message_type": jupyterMessageType,
	}).Inc()
}

func (m *ClientMetrics) ProtocolError() {
	if m == nil {
		return
	}

	m.ProtocolErrorsCounter.Inc()
}

func (m *ClientMetrics) UnsolicitedMessage() {
	if m == nil {
		return
	}

	m.UnsolicitedMessagesCounter.Inc()
}

func (m *ClientMetrics) ReconnectAttempt() {
	if m == nil {
		return
	}

	m.ReconnectAttemptsCounter.Inc()
}

func (m *ClientMetrics) CallbackPanic() {
	if m == nil {
		return
	}

	m.CallbackPanicsCounter.Inc()
}

// SetConnectionStatus records the numeric value of the connection status.
func (m *ClientMetrics) SetConnectionStatus(status int32) {
	if m == nil {
		return
	}

	m.ConnectionStatusGauge.Set(float64(status))
}

// SetPendingRequests records the number of registered callback sets.
func (m *ClientMetrics) SetPendingRequests(n int) {
	if m == nil {
		return
	}

	m.PendingRequestsGauge.Set(float64(n))
}
