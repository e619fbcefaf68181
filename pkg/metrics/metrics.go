// Package metrics counts adapter traffic with prometheus collectors. A nil
// *Collector is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Collector struct {
	ciphertextBytes *prometheus.CounterVec
	plaintextBytes  *prometheus.CounterVec
	suspensions     *prometheus.CounterVec
	failures        *prometheus.CounterVec
	handshakes      prometheus.Counter
}

func New(namespace string) *Collector {
	return &Collector{
		ciphertextBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "adapter",
				Name:      "ciphertext_bytes_total",
				Help:      "Ciphertext bytes moved between adapters and transports.",
			},
			[]string{"direction"},
		),
		plaintextBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "adapter",
				Name:      "plaintext_bytes_total",
				Help:      "Plaintext bytes read from or written to adapters.",
			},
			[]string{"direction"},
		),
		suspensions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "adapter",
				Name:      "suspensions_total",
				Help:      "Polls that returned pending.",
			},
			[]string{"op"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "adapter",
				Name:      "failures_total",
				Help:      "Adapters that entered the error state.",
			},
			[]string{"kind"},
		),
		handshakes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "adapter",
				Name:      "handshakes_total",
				Help:      "Completed handshakes.",
			},
		),
	}
}

func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, collector := range []prometheus.Collector{c.ciphertextBytes, c.plaintextBytes, c.suspensions, c.failures, c.handshakes} {
		if err := reg.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) CiphertextIn(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.ciphertextBytes.WithLabelValues("in").Add(float64(n))
}

func (c *Collector) CiphertextOut(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.ciphertextBytes.WithLabelValues("out").Add(float64(n))
}

func (c *Collector) PlaintextIn(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.plaintextBytes.WithLabelValues("in").Add(float64(n))
}

func (c *Collector) PlaintextOut(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.plaintextBytes.WithLabelValues("out").Add(float64(n))
}

func (c *Collector) Suspended(op string) {
	if c == nil {
		return
	}
	c.suspensions.WithLabelValues(op).Inc()
}

func (c *Collector) Failed(kind string) {
	if c == nil {
		return
	}
	c.failures.WithLabelValues(kind).Inc()
}

func (c *Collector) Handshake() {
	if c == nil {
		return
	}
	c.handshakes.Inc()
}
