package latency

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-dialogue-service/internal/observability/logging"
	"ai-voice-dialogue-service/internal/observability/metrics"
)

// ErrorEntry is an error observed during a session.
type ErrorEntry struct {
	Component string    `json:"component"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary describes the current session.
type Summary struct {
	SessionID         string          `json:"session_id"`
	StartedAt         time.Time       `json:"started_at"`
	EndedAt           *time.Time      `json:"ended_at,omitempty"`
	DurationSeconds   float64         `json:"duration_seconds"`
	TotalInteractions int             `json:"total_interactions"`
	Interruptions     int             `json:"interruptions"`
	TotalErrors       int             `json:"total_errors"`
	ErrorRate         float64         `json:"error_rate"`
	Latency           map[Stage]Stats `json:"latency"`
	Errors            []ErrorEntry    `json:"errors,omitempty"`
}

// Collector records latency samples and counters for one session at a
// time. Every method is safe for concurrent use by the pipeline stages.
type Collector struct {
	store   *Store
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time

	mu            sync.Mutex
	sessionID     string
	startedAt     time.Time
	endedAt       time.Time
	samples       map[Stage][]float64
	errors        []ErrorEntry
	interactions  int
	interruptions int
	pending       []Record
}

// NewCollector creates a collector. A nil store disables persistence.
func NewCollector(store *Store) *Collector {
	c := &Collector{
		store:   store,
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithComponent("latency"),
		now:     time.Now,
	}
	c.reset("")
	return c
}

func (c *Collector) reset(sessionID string) {
	c.sessionID = sessionID
	c.startedAt = c.now()
	c.endedAt = time.Time{}
	c.samples = make(map[Stage][]float64)
	c.errors = nil
	c.interactions = 0
	c.interruptions = 0
	c.pending = nil
}

// Start begins a new session, discarding any unsaved samples.
func (c *Collector) Start(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset(sessionID)
	c.logger.Debug().Str("sessionId", sessionID).Msg("Metrics session started")
}

// End marks the session end time.
func (c *Collector) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.endedAt.IsZero() {
		c.endedAt = c.now()
	}
}

// RecordLatency records a sample in milliseconds.
func (c *Collector) RecordLatency(stage Stage, ms float64) {
	c.metrics.RecordStageLatency(string(stage), ms)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples[stage] = append(c.samples[stage], ms)
	c.appendLocked(stage.MetricType(), ms, nil)
}

// RecordError records an error attributed to component.
func (c *Collector) RecordError(component, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, ErrorEntry{Component: component, Message: message, Timestamp: c.now()})
	c.appendLocked(MetricError, 1, map[string]any{"component": component, "message": message})
}

// RecordInteraction counts one completed user/assistant exchange.
func (c *Collector) RecordInteraction() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interactions++
	c.appendLocked(MetricInteraction, 1, nil)
}

// RecordInterruption counts one barge-in.
func (c *Collector) RecordInterruption() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interruptions++
	c.appendLocked(MetricInterruption, 1, nil)
}

func (c *Collector) appendLocked(metricType string, value float64, metadata map[string]any) {
	if metadata == nil {
		metadata = make(map[string]any, 1)
	}
	if c.sessionID != "" {
		metadata["session_id"] = c.sessionID
	}
	c.pending = append(c.pending, Record{
		MetricType: metricType,
		Timestamp:  c.now(),
		Value:      value,
		Metadata:   metadata,
	})
}

// Summary returns statistics for the current session.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	end := c.endedAt
	s := Summary{
		SessionID:         c.sessionID,
		StartedAt:         c.startedAt,
		TotalInteractions: c.interactions,
		Interruptions:     c.interruptions,
		TotalErrors:       len(c.errors),
		Latency:           make(map[Stage]Stats, len(c.samples)),
		Errors:            append([]ErrorEntry(nil), c.errors...),
	}
	if end.IsZero() {
		end = c.now()
	} else {
		s.EndedAt = &end
	}
	s.DurationSeconds = end.Sub(c.startedAt).Seconds()
	if c.interactions > 0 {
		s.ErrorRate = float64(len(c.errors)) / float64(c.interactions)
	}
	for stage, values := range c.samples {
		s.Latency[stage] = Summarize(values)
	}
	return s
}

// Save appends unsaved records to the store.
func (c *Collector) Save() error {
	if c.store == nil {
		return nil
	}

	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if err := c.store.Append(pending); err != nil {
		// Put the records back so a later Save can retry.
		c.mu.Lock()
		c.pending = append(pending, c.pending...)
		c.mu.Unlock()
		return err
	}

	c.logger.Info().
		Int("records", len(pending)).
		Str("dir", c.store.Dir()).
		Msg("Metrics saved")
	return nil
}

// Load returns the stored records of sessionID.
func (c *Collector) Load(sessionID string) ([]Record, error) {
	if c.store == nil {
		return nil, nil
	}
	return c.store.LoadSession(sessionID)
}
