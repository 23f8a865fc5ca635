package latency

import "testing"

func TestSummarize_Percentiles(t *testing.T) {
	s := Summarize([]float64{140, 100, 130, 110, 120})

	if s.Count != 5 {
		t.Errorf("Count = %d, want 5", s.Count)
	}
	if s.Min != 100 || s.Max != 140 {
		t.Errorf("Min/Max = %v/%v, want 100/140", s.Min, s.Max)
	}
	if s.Avg != 120 {
		t.Errorf("Avg = %v, want 120", s.Avg)
	}
	if s.P50 != 120 {
		t.Errorf("P50 = %v, want 120", s.P50)
	}
	if s.P95 != 140 || s.P99 != 140 {
		t.Errorf("P95/P99 = %v/%v, want 140/140", s.P95, s.P99)
	}
}

func TestSummarize_NearestRank(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i + 1)
	}
	s := Summarize(values)

	// sorted[floor(p*n)] with n=100
	if s.P50 != 51 || s.P95 != 96 || s.P99 != 100 {
		t.Errorf("P50/P95/P99 = %v/%v/%v, want 51/96/100", s.P50, s.P95, s.P99)
	}
}

func TestSummarize_Edges(t *testing.T) {
	if s := Summarize(nil); s.Count != 0 || s.Avg != 0 {
		t.Errorf("empty summary = %+v", s)
	}
	s := Summarize([]float64{42})
	if s.P50 != 42 || s.P99 != 42 || s.Min != 42 {
		t.Errorf("single sample summary = %+v", s)
	}
}

func TestSummarize_DoesNotMutateInput(t *testing.T) {
	in := []float64{3, 1, 2}
	Summarize(in)
	if in[0] != 3 || in[1] != 1 || in[2] != 2 {
		t.Errorf("input was reordered: %v", in)
	}
}

func TestStage_MetricType(t *testing.T) {
	tests := []struct {
		stage Stage
		want  string
	}{
		{StageSTT, "stt_latency"},
		{StageAI, "ai_latency"},
		{StageTTS, "tts_latency"},
		{StageEndToEnd, "e2e_latency"},
	}
	for _, tt := range tests {
		if got := tt.stage.MetricType(); got != tt.want {
			t.Errorf("%s.MetricType() = %q, want %q", tt.stage, got, tt.want)
		}
		if back, ok := stageForMetric(tt.want); !ok || back != tt.stage {
			t.Errorf("stageForMetric(%q) = %v, %v", tt.want, back, ok)
		}
	}
}

func TestParseStage(t *testing.T) {
	if s, err := ParseStage("end_to_end"); err != nil || s != StageEndToEnd {
		t.Errorf("ParseStage(end_to_end) = %v, %v", s, err)
	}
	if _, err := ParseStage("playback"); err == nil {
		t.Error("expected error for unknown stage")
	}
}
