package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lastAppliedBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainstream_subscriber_head_block",
			Help: "Block number of the head applied by the subscriber",
		},
		[]string{"chain", "subscriber"},
	)

	blocksApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainstream_subscriber_blocks_applied_total",
			Help: "Total number of blocks applied by the subscriber",
		},
		[]string{"chain", "subscriber"},
	)

	blocksReverted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainstream_subscriber_blocks_reverted_total",
			Help: "Total number of blocks reverted by the subscriber",
		},
		[]string{"chain", "subscriber"},
	)

	triggersApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainstream_subscriber_triggers_applied_total",
			Help: "Total number of triggers applied by the subscriber",
		},
		[]string{"chain", "subscriber"},
	)

	eventApplyTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainstream_subscriber_event_duration_seconds",
			Help:    "Time taken to apply a block stream event and save the checkpoint",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain", "subscriber"},
	)

	applyRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainstream_subscriber_blocks_per_second",
			Help: "Rate of applied blocks over the last window",
		},
		[]string{"chain", "subscriber"},
	)

	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainstream_errors_total",
			Help: "Total number of errors by component, chain and severity",
		},
		[]string{"component", "chain", "severity"},
	)

	componentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainstream_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component", "chain"},
	)

	startTime = time.Now()

	_ = promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "chainstream_uptime_seconds",
			Help: "Application uptime in seconds",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

// Subscriber records the progress of one subscriber of a chain.
type Subscriber struct {
	head      prometheus.Gauge
	applied   prometheus.Counter
	reverted  prometheus.Counter
	triggers  prometheus.Counter
	applyTime prometheus.Observer
	rate      prometheus.Gauge
}

// ForSubscriber binds the subscriber metrics to chain and name.
func ForSubscriber(chain, name string) *Subscriber {
	return &Subscriber{
		head:      lastAppliedBlock.WithLabelValues(chain, name),
		applied:   blocksApplied.WithLabelValues(chain, name),
		reverted:  blocksReverted.WithLabelValues(chain, name),
		triggers:  triggersApplied.WithLabelValues(chain, name),
		applyTime: eventApplyTime.WithLabelValues(chain, name),
		rate:      applyRate.WithLabelValues(chain, name),
	}
}

// Applied records a block applied with its triggers, head being the new subscriber head.
func (s *Subscriber) Applied(head int32, triggers int, took time.Duration) {
	s.head.Set(float64(head))
	s.applied.Inc()
	s.triggers.Add(float64(triggers))
	s.applyTime.Observe(took.Seconds())
}

// Reverted records a reverted block, head being the parent the subscriber moved back to.
func (s *Subscriber) Reverted(head int32, took time.Duration) {
	s.head.Set(float64(head))
	s.reverted.Inc()
	s.applyTime.Observe(took.Seconds())
}

// Rate sets the recent apply rate in blocks per second.
func (s *Subscriber) Rate(blocksPerSecond float64) {
	s.rate.Set(blocksPerSecond)
}

// ErrorsInc counts an error reported by component while serving chain.
func ErrorsInc(component, chain, severity string) {
	errorsTotal.WithLabelValues(component, chain, severity).Inc()
}

var health = struct {
	sync.RWMutex
	states map[string]bool
}{states: map[string]bool{}}

// SetHealth records whether component is healthy for chain. The state is exported as a
// gauge and served by the /health endpoint.
func SetHealth(component, chain string, healthy bool) {
	value := float64(0)
	if healthy {
		value = 1
	}
	componentHealth.WithLabelValues(component, chain).Set(value)

	health.Lock()
	health.states[component+"/"+chain] = healthy
	health.Unlock()
}

// HealthReport returns the recorded states keyed by "component/chain" and whether all
// of them are healthy.
func HealthReport() (map[string]bool, bool) {
	health.RLock()
	defer health.RUnlock()

	report := make(map[string]bool, len(health.states))
	ok := true
	for k, v := range health.states {
		report[k] = v
		ok = ok && v
	}
	return report, ok
}
