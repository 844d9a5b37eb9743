package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qiniu/sandbox-sdk-go/circuitbreaker"
	"github.com/qiniu/sandbox-sdk-go/queue"
)

const (
	outcomeSuccess  = "success"
	outcomeError    = "error"
	outcomeRejected = "rejected"
)

// metrics 为 nil 时所有方法都不做任何事
type metrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	breakerState    prometheus.Gauge
	breakerTrips    prometheus.Counter

	registerer  prometheus.Registerer
	queueGauges []prometheus.Collector
}

// newMetrics 注册客户端指标，所有指标带有 mode 与 client 常量标签
//
// 同一个 Registerer 可以被多个客户端共享。clientID 重复时计数器沿用已注册的实例，
// 队列指标无法共享，此时返回错误，直到前一个客户端被关闭。
func newMetrics(registerer prometheus.Registerer, mode, clientID string, q *queue.Queue) (*metrics, error) {
	if registerer == nil {
		return nil, nil
	}
	registerer = prometheus.WrapRegistererWith(prometheus.Labels{"mode": mode, "client": clientID}, registerer)

	requests, err := register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sandbox",
		Subsystem: "client",
		Name:      "requests_total",
		Help:      "Total number of sandbox requests by outcome",
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}
	requestDuration, err := register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sandbox",
		Subsystem: "client",
		Name:      "request_duration_seconds",
		Help:      "Sandbox request duration in seconds, including queueing",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}
	breakerState, err := register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sandbox",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open",
	}))
	if err != nil {
		return nil, err
	}
	breakerTrips, err := register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sandbox",
		Subsystem: "circuit_breaker",
		Name:      "opened_total",
		Help:      "Number of times the circuit breaker opened",
	}))
	if err != nil {
		return nil, err
	}

	queueGauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "sandbox",
			Subsystem: "queue",
			Name:      "active",
			Help:      "Requests currently holding a queue slot",
		}, func() float64 { return float64(q.Stats().Active) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "sandbox",
			Subsystem: "queue",
			Name:      "queued",
			Help:      "Requests waiting for a queue slot",
		}, func() float64 { return float64(q.Stats().Queued) }),
	}
	for i, gauge := range queueGauges {
		if err = registerer.Register(gauge); err != nil {
			for _, registered := range queueGauges[:i] {
				registerer.Unregister(registered)
			}
			return nil, fmt.Errorf("client: register queue metrics for client %q: %w", clientID, err)
		}
	}

	return &metrics{
		requests:        requests,
		requestDuration: requestDuration,
		breakerState:    breakerState,
		breakerTrips:    breakerTrips,
		registerer:      registerer,
		queueGauges:     queueGauges,
	}, nil
}

// register 注册 collector，已注册过相同的指标时返回已有的实例
func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) (T, error) {
	err := registerer.Register(collector)
	if err == nil {
		return collector, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	return collector, err
}

func (m *metrics) observe(outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
	m.requestDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
}

// close 注销队列指标，之后可以用相同的 clientID 创建新的客户端
func (m *metrics) close() {
	if m == nil {
		return
	}
	for _, gauge := range m.queueGauges {
		m.registerer.Unregister(gauge)
	}
}

func (m *metrics) stateChanged(to circuitbreaker.State) {
	if m == nil {
		return
	}
	m.breakerState.Set(float64(to))
	if to == circuitbreaker.StateOpen {
		m.breakerTrips.Inc()
	}
}
