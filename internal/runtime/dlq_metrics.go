package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DLQMetrics tracks dead letter traffic per queue: how many reports were
// dead lettered, replayed by an operator, or purged. Counts are mirrored to
// Prometheus and kept in memory for the operator API.
type DLQMetrics struct {
	mu sync.RWMutex

	topicCounts map[string]*DLQTopicMetrics

	messagesTotal   *prometheus.CounterVec
	messagesCurrent *prometheus.GaugeVec
	replayedTotal   *prometheus.CounterVec
	purgedTotal     *prometheus.CounterVec
	ageSecondsHist  *prometheus.HistogramVec
	retryCountHist  *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

// DLQTopicMetrics holds the dead letter counters for one queue.
type DLQTopicMetrics struct {
	MessagesReceived uint64    `json:"messages_received"`
	MessagesCurrent  uint64    `json:"messages_current"`
	MessagesReplayed uint64    `json:"messages_replayed"`
	MessagesPurged   uint64    `json:"messages_purged"`
	OldestMessageAt  time.Time `json:"oldest_message_at,omitempty"`
	NewestMessageAt  time.Time `json:"newest_message_at,omitempty"`
	AvgRetryCount    float64   `json:"avg_retry_count"`
	LastUpdatedAt    time.Time `json:"last_updated_at"`
}

func (t *DLQTopicMetrics) clone() *DLQTopicMetrics {
	copied := *t
	return &copied
}

// DLQMetricsSnapshot is a point-in-time view across all queues.
type DLQMetricsSnapshot struct {
	TotalMessages uint64                      `json:"total_messages"`
	TotalReplayed uint64                      `json:"total_replayed"`
	TotalPurged   uint64                      `json:"total_purged"`
	TopicMetrics  map[string]*DLQTopicMetrics `json:"topic_metrics"`
	CollectedAt   time.Time                   `json:"collected_at"`
}

func newDLQCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "dlq",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newDLQGaugeVec(name, help string, labels []string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "relay",
			Subsystem: "dlq",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newDLQHistogramVec(name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "dlq",
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// NewDLQMetrics creates a dead letter metrics collector. A nil registerer
// falls back to the Prometheus default.
func NewDLQMetrics(registerer prometheus.Registerer) *DLQMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &DLQMetrics{
		topicCounts:     make(map[string]*DLQTopicMetrics),
		registerer:      registerer,
		messagesTotal:   newDLQCounterVec("messages_total", "Total number of reports sent to the dead letter queue", []string{"topic", "handler"}),
		messagesCurrent: newDLQGaugeVec("messages_current", "Current number of reports in the dead letter queue", []string{"topic"}),
		replayedTotal:   newDLQCounterVec("replayed_total", "Total number of reports replayed from the dead letter queue", []string{"topic"}),
		purgedTotal:     newDLQCounterVec("purged_total", "Total number of reports purged from the dead letter queue", []string{"topic"}),
		ageSecondsHist:  newDLQHistogramVec("message_age_seconds", "Age of reports when dead lettered, measured from the first attempt", []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600}, []string{"topic"}),
		retryCountHist:  newDLQHistogramVec("retry_count", "Number of retries before a report was dead lettered", []float64{1, 2, 3, 5, 10, 20}, []string{"topic"}),
	}
}

// Register registers the Prometheus collectors. Safe to call more than once.
func (m *DLQMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.messagesTotal,
		m.messagesCurrent,
		m.replayedTotal,
		m.purgedTotal,
		m.ageSecondsHist,
		m.retryCountHist,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordMessageToDLQ records a report arriving on the dead letter queue.
func (m *DLQMetrics) RecordMessageToDLQ(topic, handler string, retryCount int, messageAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.getOrCreateTopicMetrics(topic)
	metrics.MessagesReceived++
	metrics.MessagesCurrent++
	metrics.LastUpdatedAt = time.Now()
	if metrics.OldestMessageAt.IsZero() {
		metrics.OldestMessageAt = time.Now()
	}
	metrics.NewestMessageAt = time.Now()

	// Rolling average over every dead lettered report on this queue.
	total := metrics.MessagesReceived
	metrics.AvgRetryCount = ((metrics.AvgRetryCount * float64(total-1)) + float64(retryCount)) / float64(total)

	m.messagesTotal.WithLabelValues(topic, handler).Inc()
	m.messagesCurrent.WithLabelValues(topic).Set(float64(metrics.MessagesCurrent))
	m.ageSecondsHist.WithLabelValues(topic).Observe(messageAge.Seconds())
	m.retryCountHist.WithLabelValues(topic).Observe(float64(retryCount))
}

// RecordMessageReplayed records a report moved back onto its queue.
func (m *DLQMetrics) RecordMessageReplayed(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.getOrCreateTopicMetrics(topic)
	metrics.MessagesReplayed++
	if metrics.MessagesCurrent > 0 {
		metrics.MessagesCurrent--
	}
	metrics.LastUpdatedAt = time.Now()

	m.replayedTotal.WithLabelValues(topic).Inc()
	m.messagesCurrent.WithLabelValues(topic).Set(float64(metrics.MessagesCurrent))
}

// RecordMessagesPurged records reports dropped from the dead letter queue.
func (m *DLQMetrics) RecordMessagesPurged(topic string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.getOrCreateTopicMetrics(topic)
	metrics.MessagesPurged += uint64(count)
	if metrics.MessagesCurrent >= uint64(count) {
		metrics.MessagesCurrent -= uint64(count)
	} else {
		metrics.MessagesCurrent = 0
	}
	metrics.LastUpdatedAt = time.Now()

	m.purgedTotal.WithLabelValues(topic).Add(float64(count))
	m.messagesCurrent.WithLabelValues(topic).Set(float64(metrics.MessagesCurrent))
}

// SetCurrentCount overwrites the current count for a queue, used to sync
// with transports that can report their own dead letter backlog.
func (m *DLQMetrics) SetCurrentCount(topic string, count uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.getOrCreateTopicMetrics(topic)
	metrics.MessagesCurrent = count
	metrics.LastUpdatedAt = time.Now()

	m.messagesCurrent.WithLabelValues(topic).Set(float64(count))
}

// GetSnapshot returns a copy of all queue counters plus rollup totals.
func (m *DLQMetrics) GetSnapshot() DLQMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := DLQMetricsSnapshot{
		TopicMetrics: make(map[string]*DLQTopicMetrics),
		CollectedAt:  time.Now(),
	}

	for topic, metrics := range m.topicCounts {
		snapshot.TopicMetrics[topic] = metrics.clone()
		snapshot.TotalMessages += metrics.MessagesCurrent
		snapshot.TotalReplayed += metrics.MessagesReplayed
		snapshot.TotalPurged += metrics.MessagesPurged
	}

	return snapshot
}

// GetTopicMetrics returns a copy of one queue's counters, or nil when the
// queue has never seen a dead lettered report.
func (m *DLQMetrics) GetTopicMetrics(topic string) *DLQTopicMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if metrics, ok := m.topicCounts[topic]; ok {
		return metrics.clone()
	}
	return nil
}

func (m *DLQMetrics) getOrCreateTopicMetrics(topic string) *DLQTopicMetrics {
	if metrics, ok := m.topicCounts[topic]; ok {
		return metrics
	}
	metrics := &DLQTopicMetrics{}
	m.topicCounts[topic] = metrics
	return metrics
}

// Reset clears all counters.
func (m *DLQMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.topicCounts = make(map[string]*DLQTopicMetrics)
	m.messagesTotal.Reset()
	m.messagesCurrent.Reset()
	m.replayedTotal.Reset()
	m.purgedTotal.Reset()
	m.ageSecondsHist.Reset()
	m.retryCountHist.Reset()
}
