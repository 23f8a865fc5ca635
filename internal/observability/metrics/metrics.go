// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ai_voice_dialogue"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Pipeline metrics
	PipelineRunning prometheus.Gauge
	PipelineStarts  prometheus.Counter
	PipelineFatal   prometheus.Counter
	Speaking        prometheus.Gauge

	// Turn metrics
	TurnsTotal    *prometheus.CounterVec
	Interruptions *prometheus.CounterVec
	StageLatency  *prometheus.HistogramVec

	// Queue metrics
	QueueDepth *prometheus.GaugeVec
	QueueDrops *prometheus.CounterVec

	// Backend metrics
	BackendErrors  *prometheus.CounterVec
	BackendRetries *prometheus.CounterVec

	// Audio metrics
	AudioSamplesDropped prometheus.Counter
	AudioFramesTotal    prometheus.Counter
	VADSpeechStarts     prometheus.Counter

	// gRPC metrics
	CallsTotal     *prometheus.CounterVec
	StreamsTotal   *prometheus.CounterVec
	StreamsActive  *prometheus.GaugeVec
	StreamDuration *prometheus.HistogramVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Pipeline metrics
		PipelineRunning: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while the dialogue pipeline is running",
		}),
		PipelineStarts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_starts_total",
			Help:      "Total number of pipeline starts",
		}),
		PipelineFatal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_fatal_total",
			Help:      "Total number of pipeline runs stopped by an unrecoverable error",
		}),
		Speaking: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "speaking",
			Help:      "1 while synthesized speech is playing",
		}),

		// Turn metrics
		TurnsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of stage turns by outcome",
		}, []string{"stage", "outcome"}),
		Interruptions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "Total number of barge-in interruptions",
		}, []string{"source"}),
		StageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_seconds",
			Help:      "Latency per pipeline stage in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"stage"}),

		// Queue metrics
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current depth of the inter-stage queues",
		}, []string{"queue"}),
		QueueDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_drops_total",
			Help:      "Total number of queue entries dropped",
		}, []string{"queue", "reason"}),

		// Backend metrics
		BackendErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Total number of backend errors",
		}, []string{"stage", "error_type"}),
		BackendRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_retries_total",
			Help:      "Total number of backend re-initializations after failure",
		}, []string{"stage"}),

		// Audio metrics
		AudioSamplesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_samples_dropped_total",
			Help:      "Total audio samples dropped on ring buffer overflow",
		}),
		AudioFramesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_total",
			Help:      "Total audio frames classified by the voice activity detector",
		}),
		VADSpeechStarts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vad_speech_starts_total",
			Help:      "Total number of detected speech onsets",
		}),

		// gRPC metrics
		CallsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "Total number of unary gRPC calls by service, method and status code",
		}, []string{"service", "method", "code"}),
		StreamsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_streams_total",
			Help:      "Total number of gRPC streams started",
		}, []string{"service", "method"}),
		StreamsActive: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "grpc_streams_active",
			Help:      "Number of currently active gRPC streams, e.g. open health watches",
		}, []string{"service", "method"}),
		StreamDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_stream_duration_seconds",
			Help:      "Duration of gRPC streams in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 30, 60, 300, 1800},
		}, []string{"service", "method", "code"}),

		// Kafka publish metrics
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// SetRunning records whether the pipeline is running.
func (m *Metrics) SetRunning(running bool) {
	if running {
		m.PipelineStarts.Inc()
		m.PipelineRunning.Set(1)
		return
	}
	m.PipelineRunning.Set(0)
}

// RecordFatal records a pipeline run ending in an unrecoverable error.
func (m *Metrics) RecordFatal() {
	m.PipelineFatal.Inc()
}

// SetSpeaking records whether speech is playing.
func (m *Metrics) SetSpeaking(speaking bool) {
	if speaking {
		m.Speaking.Set(1)
		return
	}
	m.Speaking.Set(0)
}

// RecordTurn records the outcome of one stage turn.
func (m *Metrics) RecordTurn(stage, outcome string) {
	m.TurnsTotal.WithLabelValues(stage, outcome).Inc()
}

// RecordInterruption records a barge-in and what detected it.
func (m *Metrics) RecordInterruption(source string) {
	m.Interruptions.WithLabelValues(source).Inc()
}

// RecordStageLatency records a latency sample in milliseconds.
func (m *Metrics) RecordStageLatency(stage string, ms float64) {
	m.StageLatency.WithLabelValues(stage).Observe(ms / 1000)
}

// SetQueueDepth records the current depth of a queue.
func (m *Metrics) SetQueueDepth(queue string, depth int) {
	m.QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordQueueDrop records entries dropped from a queue.
func (m *Metrics) RecordQueueDrop(queue, reason string, n int) {
	m.QueueDrops.WithLabelValues(queue, reason).Add(float64(n))
}

// RecordBackendError records a backend error.
func (m *Metrics) RecordBackendError(stage, errorType string) {
	m.BackendErrors.WithLabelValues(stage, errorType).Inc()
}

// RecordBackendRetry records a backend re-initialization.
func (m *Metrics) RecordBackendRetry(stage string) {
	m.BackendRetries.WithLabelValues(stage).Inc()
}

// RecordAudioDropped records samples lost to ring buffer overflow.
func (m *Metrics) RecordAudioDropped(samples uint64) {
	m.AudioSamplesDropped.Add(float64(samples))
}

// RecordFrame records a classified audio frame.
func (m *Metrics) RecordFrame(speechStart bool) {
	m.AudioFramesTotal.Inc()
	if speechStart {
		m.VADSpeechStarts.Inc()
	}
}

// RecordCall records a finished unary call.
func (m *Metrics) RecordCall(service, method, code string) {
	m.CallsTotal.WithLabelValues(service, method, code).Inc()
}

// RecordStreamStart records a new stream starting.
func (m *Metrics) RecordStreamStart(service, method string) {
	m.StreamsTotal.WithLabelValues(service, method).Inc()
	m.StreamsActive.WithLabelValues(service, method).Inc()
}

// RecordStreamEnd records a stream ending with its status code.
func (m *Metrics) RecordStreamEnd(service, method, code string, durationSeconds float64) {
	m.StreamsActive.WithLabelValues(service, method).Dec()
	m.StreamDuration.WithLabelValues(service, method, code).Observe(durationSeconds)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
