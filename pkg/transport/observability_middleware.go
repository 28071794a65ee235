package transport

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mcpwire/mcpwire/pkg/logging"
	"github.com/mcpwire/mcpwire/pkg/protocol"
)

const tracerName = "github.com/mcpwire/mcpwire/pkg/transport"

// ObservabilityConfig for metrics and tracing
type ObservabilityConfig struct {
	EnableMetrics bool   `json:"enable_metrics"`
	EnableTracing bool   `json:"enable_tracing"`
	MetricsPrefix string `json:"metrics_prefix"`

	// MetricsRegisterer receives the transport collectors. Defaults to
	// the process-wide prometheus registerer.
	MetricsRegisterer prometheus.Registerer `json:"-"`
}

// DefaultObservabilityConfig enables metrics and tracing on the global
// prometheus registerer.
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		EnableMetrics: true,
		EnableTracing: true,
		MetricsPrefix: "mcp_transport",
	}
}

// transportMetrics holds the prometheus collectors for one middleware
// instance.
type transportMetrics struct {
	messagesSent     *prometheus.CounterVec
	messagesReceived *prometheus.CounterVec
	sendErrors       *prometheus.CounterVec
	sendDuration     *prometheus.HistogramVec
}

func newTransportMetrics(prefix string, reg prometheus.Registerer) *transportMetrics {
	if prefix == "" {
		prefix = "mcp_transport"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &transportMetrics{
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_messages_sent_total",
			Help: "Outbound messages by kind.",
		}, []string{"kind"}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_messages_received_total",
			Help: "Inbound messages by kind.",
		}, []string{"kind"}),
		sendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_send_errors_total",
			Help: "Failed sends by kind.",
		}, []string{"kind"}),
		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "_send_duration_seconds",
			Help:    "Send latency by kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
	}

	m.messagesSent = registerCounterVec(reg, m.messagesSent)
	m.messagesReceived = registerCounterVec(reg, m.messagesReceived)
	m.sendErrors = registerCounterVec(reg, m.sendErrors)
	m.sendDuration = registerHistogramVec(reg, m.sendDuration)
	return m
}

// registerCounterVec registers the collector, reusing an existing one
// when two transports share a registerer.
func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	return c
}

func registerHistogramVec(reg prometheus.Registerer, h *prometheus.HistogramVec) *prometheus.HistogramVec {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(*prometheus.HistogramVec)
		}
	}
	return h
}

// observabilityMiddleware records metrics and trace spans around every
// send, and counts inbound messages by wrapping the message handler.
type observabilityMiddleware struct {
	middlewareTransport
	config  ObservabilityConfig
	metrics *transportMetrics
	tracer  trace.Tracer
	logger  logging.Logger
}

// NewObservabilityMiddleware creates metrics/tracing middleware
func NewObservabilityMiddleware(config ObservabilityConfig, logger logging.Logger) Middleware {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return MiddlewareFunc(func(t Transport) Transport {
		m := &observabilityMiddleware{
			middlewareTransport: middlewareTransport{inner: t},
			config:              config,
			logger:              logger,
		}
		if config.EnableMetrics {
			m.metrics = newTransportMetrics(config.MetricsPrefix, config.MetricsRegisterer)
		}
		if config.EnableTracing {
			m.tracer = otel.Tracer(tracerName)
		}
		return m
	})
}

func (m *observabilityMiddleware) Send(ctx context.Context, msg protocol.Message) error {
	kind := messageKind(msg)

	var span trace.Span
	if m.tracer != nil {
		attrs := []attribute.KeyValue{
			attribute.String("mcp.message.kind", kind),
		}
		if method := messageMethod(msg); method != "" {
			attrs = append(attrs, attribute.String("mcp.method", method))
		}
		ctx, span = m.tracer.Start(ctx, "mcp.transport.send",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(attrs...))
		defer span.End()
	}

	start := time.Now()
	err := m.inner.Send(ctx, msg)

	if m.metrics != nil {
		m.metrics.sendDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		if err != nil {
			m.metrics.sendErrors.WithLabelValues(kind).Inc()
		} else {
			m.metrics.messagesSent.WithLabelValues(kind).Inc()
		}
	}
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	return err
}

// SetMessageHandler interposes inbound counting before the real handler.
func (m *observabilityMiddleware) SetMessageHandler(handler MessageHandler) {
	if m.metrics == nil || handler == nil {
		m.inner.SetMessageHandler(handler)
		return
	}
	metrics := m.metrics
	m.inner.SetMessageHandler(func(msg protocol.Message) {
		metrics.messagesReceived.WithLabelValues(messageKind(msg)).Inc()
		handler(msg)
	})
}

func messageKind(msg protocol.Message) string {
	switch m := msg.(type) {
	case *protocol.Request:
		return "request"
	case *protocol.Notification:
		return "notification"
	case *protocol.Response:
		if m.Error != nil {
			return "error"
		}
		return "response"
	default:
		return "unknown"
	}
}

func messageMethod(msg protocol.Message) string {
	switch m := msg.(type) {
	case *protocol.Request:
		return m.Method
	case *protocol.Notification:
		return m.Method
	default:
		return ""
	}
}
