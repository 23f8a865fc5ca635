package latency

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func newTestCollector(t *testing.T, dir string) (*Collector, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	var store *Store
	if dir != "" {
		store = NewStore(dir)
	}
	c := NewCollector(store)
	c.now = clock.now
	return c, clock
}

func TestCollector_Summary(t *testing.T) {
	c, clock := newTestCollector(t, "")
	c.Start("session_1")

	for _, v := range []float64{100, 110, 120, 130, 140} {
		c.RecordLatency(StageAI, v)
	}
	c.RecordLatency(StageTTS, 80)
	c.RecordInteraction()
	c.RecordInteraction()
	c.RecordInterruption()
	c.RecordError("ai", "claude exited")

	clock.t = clock.t.Add(90 * time.Second)
	s := c.Summary()

	if s.SessionID != "session_1" {
		t.Errorf("SessionID = %q", s.SessionID)
	}
	if s.DurationSeconds != 90 {
		t.Errorf("DurationSeconds = %v, want 90", s.DurationSeconds)
	}
	if s.Latency[StageAI].Avg != 120 || s.Latency[StageAI].P50 != 120 {
		t.Errorf("ai stats = %+v", s.Latency[StageAI])
	}
	if s.Latency[StageTTS].Count != 1 {
		t.Errorf("tts count = %d, want 1", s.Latency[StageTTS].Count)
	}
	if _, ok := s.Latency[StageSTT]; ok {
		t.Error("stages without samples should be omitted")
	}
	if s.TotalInteractions != 2 || s.Interruptions != 1 || s.TotalErrors != 1 {
		t.Errorf("counters = %d/%d/%d", s.TotalInteractions, s.Interruptions, s.TotalErrors)
	}
	if s.ErrorRate != 0.5 {
		t.Errorf("ErrorRate = %v, want 0.5", s.ErrorRate)
	}
	if s.EndedAt != nil {
		t.Error("EndedAt should be nil before End")
	}
}

func TestCollector_EndFreezesDuration(t *testing.T) {
	c, clock := newTestCollector(t, "")
	c.Start("s")
	clock.t = clock.t.Add(10 * time.Second)
	c.End()
	clock.t = clock.t.Add(time.Hour)

	s := c.Summary()
	if s.DurationSeconds != 10 {
		t.Errorf("DurationSeconds = %v, want 10", s.DurationSeconds)
	}
	if s.EndedAt == nil {
		t.Error("EndedAt should be set after End")
	}
}

func TestCollector_StartResets(t *testing.T) {
	c, _ := newTestCollector(t, "")
	c.Start("a")
	c.RecordLatency(StageSTT, 50)
	c.Start("b")

	if s := c.Summary(); len(s.Latency) != 0 || s.SessionID != "b" {
		t.Errorf("expected a fresh session, got %+v", s)
	}
}

func TestCollector_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	c, clock := newTestCollector(t, dir)
	c.Start("session_1")
	c.RecordLatency(StageAI, 250)
	c.RecordLatency(StageEndToEnd, 900)
	c.RecordInterruption()

	if err := c.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "2026-03-10", "session_1.json")); err != nil {
		t.Fatalf("expected session file: %v", err)
	}

	// A second save only appends new records, here into the next day's file.
	clock.t = clock.t.Add(24 * time.Hour)
	c.RecordLatency(StageTTS, 120)
	if err := c.Save(); err != nil {
		t.Fatal(err)
	}

	records, err := c.Load("session_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 4 {
		t.Fatalf("loaded %d records, want 4", len(records))
	}
	if records[0].MetricType != "ai_latency" || records[0].Value != 250 {
		t.Errorf("unexpected first record: %+v", records[0])
	}
	if records[1].MetricType != "e2e_latency" {
		t.Errorf("unexpected second record: %+v", records[1])
	}
	if records[0].Metadata["session_id"] != "session_1" {
		t.Errorf("missing session metadata: %+v", records[0].Metadata)
	}
}

func TestCollector_SaveWithoutStore(t *testing.T) {
	c, _ := newTestCollector(t, "")
	c.RecordLatency(StageAI, 1)
	if err := c.Save(); err != nil {
		t.Errorf("Save() without store should be a no-op, got %v", err)
	}
}
