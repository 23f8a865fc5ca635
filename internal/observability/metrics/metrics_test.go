package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTurn(t *testing.T) {
	m := DefaultMetrics
	before := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("generation", "aborted"))

	m.RecordTurn("generation", "aborted")

	after := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("generation", "aborted"))
	if after-before != 1 {
		t.Errorf("expected counter to grow by 1, grew by %v", after-before)
	}
}

func TestSetSpeaking(t *testing.T) {
	m := DefaultMetrics
	m.SetSpeaking(true)
	if got := testutil.ToFloat64(m.Speaking); got != 1 {
		t.Errorf("Speaking = %v, want 1", got)
	}
	m.SetSpeaking(false)
	if got := testutil.ToFloat64(m.Speaking); got != 0 {
		t.Errorf("Speaking = %v, want 0", got)
	}
}

func TestRecordKafkaPublish_Error(t *testing.T) {
	m := DefaultMetrics
	before := testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues("turns", "assistant"))

	m.RecordKafkaPublish("turns", "assistant", errors.New("broker down"), 0.01)
	m.RecordKafkaPublish("turns", "assistant", nil, 0.01)

	after := testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues("turns", "assistant"))
	if after-before != 1 {
		t.Errorf("expected 1 error recorded, got %v", after-before)
	}
}

func TestRecordQueueDrop(t *testing.T) {
	m := DefaultMetrics
	before := testutil.ToFloat64(m.QueueDrops.WithLabelValues("response", "interrupted"))

	m.RecordQueueDrop("response", "interrupted", 3)

	after := testutil.ToFloat64(m.QueueDrops.WithLabelValues("response", "interrupted"))
	if after-before != 3 {
		t.Errorf("expected 3 drops recorded, got %v", after-before)
	}
}
