package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kernel_connection"

// KernelMetrics records the activity of kernel connections and of the kernel manager.
//
// Every method is safe to call on a nil *KernelMetrics, in which case it does nothing.
type KernelMetrics struct {
	ConnectionsGauge           prometheus.Gauge
	ConnectionStatusCounterVec *prometheus.CounterVec
	KernelStatusCounterVec     *prometheus.CounterVec
	MessagesSentCounterVec     *prometheus.CounterVec
	MessagesReceivedCounterVec *prometheus.CounterVec
	InvalidMessagesCounterVec  *prometheus.CounterVec
	ReconnectAttemptsCounter   prometheus.Counter
	ActiveFuturesGauge         prometheus.Gauge
	PollFailuresCounter        prometheus.Counter
	RunningKernelsGauge        prometheus.Gauge
}

// NewKernelMetrics creates the metrics and registers them with registerer.
func NewKernelMetrics(registerer prometheus.Registerer) (*KernelMetrics, error) {
	m := &KernelMetrics{
		ConnectionsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Number of kernel connections that have not been disposed",
		}),
		ConnectionStatusCounterVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_status_transitions_total",
			Help:      "Number of transitions into each connection status",
		}, []string{"status"}),
		KernelStatusCounterVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kernel_status_transitions_total",
			Help:      "Number of transitions into each kernel status",
		}, []string{"status"}),
		MessagesSentCounterVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Number of messages written to kernel websockets",
		}, []string{"channel", "jupyter_message_type"}),
		MessagesReceivedCounterVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Number of valid messages received from kernel websockets",
		}, []string{"channel", "jupyter_message_type"}),
		InvalidMessagesCounterVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_messages_total",
			Help:      "Number of inbound frames dropped because they could not be decoded or validated",
		}, []string{"reason"}),
		ReconnectAttemptsCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Number of scheduled websocket reconnection attempts",
		}),
		ActiveFuturesGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_futures",
			Help:      "Number of requests whose futures have not been disposed",
		}),
		PollFailuresCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_failures_total",
			Help:      "Number of failed polls of the running kernels",
		}),
		RunningKernelsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_kernels",
			Help:      "Number of running kernels in the last successful poll",
		}),
	}

	collectors := []prometheus.Collector{
		m.ConnectionsGauge,
		m.ConnectionStatusCounterVec,
		m.KernelStatusCounterVec,
		m.MessagesSentCounterVec,
		m.MessagesReceivedCounterVec,
		m.InvalidMessagesCounterVec,
		m.ReconnectAttemptsCounter,
		m.ActiveFuturesGauge,
		m.PollFailuresCounter,
		m.RunningKernelsGauge,
	}

	for _, collector := range collectors {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *KernelMetrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsGauge.Inc()
}

func (m *KernelMetrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ConnectionsGauge.Dec()
}

func (m *KernelMetrics) ConnectionStatusChanged(status string) {
	if m == nil {
		return
	}
	m.ConnectionStatusCounterVec.With(prometheus.Labels{"status": status}).Inc()
}

func (m *KernelMetrics) KernelStatusChanged(status string) {
	if m == nil {
		return
	}
	m.KernelStatusCounterVec.With(prometheus.Labels{"status": status}).Inc()
}

func (m *KernelMetrics) MessageSent(channel string, msgType string) {
	if m == nil {
		return
	}
	m.MessagesSentCounterVec.With(prometheus.Labels{"channel": channel, "jupyter_message_type": msgType}).Inc()
}

func (m *KernelMetrics) MessageReceived(channel string, msgType string) {
	if m == nil {
		return
	}
	m.MessagesReceivedCounterVec.With(prometheus.Labels{"channel": channel, "jupyter_message_type": msgType}).Inc()
}

// InvalidMessage records a dropped inbound frame. reason is "decode" or "validate".
func (m *KernelMetrics) InvalidMessage(reason string) {
	if m == nil {
		return
	}
	m.InvalidMessagesCounterVec.With(prometheus.Labels{"reason": reason}).Inc()
}

func (m *KernelMetrics) ReconnectAttempted() {
	if m == nil {
		return
	}
	m.ReconnectAttemptsCounter.Inc()
}

func (m *KernelMetrics) FutureRegistered() {
	if m == nil {
		return
	}
	m.ActiveFuturesGauge.Inc()
}

func (m *KernelMetrics) FutureReleased() {
	if m == nil {
		return
	}
	m.ActiveFuturesGauge.Dec()
}

func (m *KernelMetrics) PollFailed() {
	if m == nil {
		return
	}
	m.PollFailuresCounter.Inc()
}

func (m *KernelMetrics) SetRunningKernels(n int) {
	if m == nil {
		return
	}
	m.RunningKernelsGauge.Set(float64(n))
}
