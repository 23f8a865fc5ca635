package latency

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"ai-voice-dialogue-service/internal/schema"
	"ai-voice-dialogue-service/internal/storage"
)

const dateLayout = "2006-01-02"

// Record is one persisted metric.
type Record struct {
	MetricType string         `json:"metric_type"`
	Timestamp  time.Time      `json:"timestamp"`
	Value      float64        `json:"value"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Store keeps metric records in one JSON array file per session, grouped
// into a directory per UTC day: <dir>/<YYYY-MM-DD>/<session>.json.
type Store struct {
	dir       string
	validator *schema.Validator
	mu        sync.Mutex
}

// unscopedSession names the file for records saved without a session.
const unscopedSession = "unscoped"

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir, validator: schema.NewMetricsValidator()}
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) dayDir(day time.Time) string {
	return filepath.Join(s.dir, day.UTC().Format(dateLayout))
}

func recordSession(r Record) string {
	if id, ok := r.Metadata["session_id"].(string); ok && id != "" {
		return id
	}
	return unscopedSession
}

// Append adds records to their session files. Each file is rewritten
// atomically.
func (s *Store) Append(records []Record) error {
	if len(records) == 0 {
		return nil
	}

	type fileKey struct{ day, session string }
	grouped := make(map[fileKey][]Record)
	var order []fileKey
	for _, r := range records {
		k := fileKey{r.Timestamp.UTC().Format(dateLayout), recordSession(r)}
		if _, ok := grouped[k]; !ok {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range order {
		path := filepath.Join(s.dir, k.day, k.session+".json")
		var existing []Record
		if err := storage.ReadJSON(path, &existing); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load metrics for %s/%s: %w", k.day, k.session, err)
		}
		all := append(existing, grouped[k]...)
		if err := s.validator.Validate(all); err != nil {
			return err
		}
		if err := storage.WriteJSONAtomic(path, all); err != nil {
			return fmt.Errorf("save metrics for %s/%s: %w", k.day, k.session, err)
		}
	}
	return nil
}

// Load returns every record stored for day, ordered by timestamp. A missing
// day yields no records.
func (s *Store) Load(day time.Time) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.dayDir(day)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var records []Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var recs []Record
		if err := storage.ReadJSON(filepath.Join(dir, e.Name()), &recs); err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Timestamp.Before(records[j].Timestamp) })
	return records, nil
}

// LoadSession returns the records of one session across every day it
// spans. An unknown session yields no records.
func (s *Store) LoadSession(sessionID string) ([]Record, error) {
	days, err := s.Days()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var records []Record
	for _, day := range days {
		var recs []Record
		err := storage.ReadJSON(filepath.Join(s.dayDir(day), sessionID+".json"), &recs)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	return records, nil
}

// Days lists the days that have metric directories, oldest first.
func (s *Store) Days() ([]time.Time, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var days []time.Time
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		day, err := time.Parse(dateLayout, e.Name())
		if err != nil {
			continue
		}
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days, nil
}

// Report aggregates records with timestamps in [from, to].
type Report struct {
	From              time.Time       `json:"from"`
	To                time.Time       `json:"to"`
	Sessions          int             `json:"sessions"`
	TotalInteractions int             `json:"total_interactions"`
	Interruptions     int             `json:"interruptions"`
	TotalErrors       int             `json:"total_errors"`
	ErrorRate         float64         `json:"error_rate"`
	ErrorsByComponent map[string]int  `json:"errors_by_component,omitempty"`
	Latency           map[Stage]Stats `json:"latency"`
}

// Report reads every day directory overlapping [from, to] and aggregates it.
// It is read-only and never touches collector state.
func (s *Store) Report(from, to time.Time) (Report, error) {
	rep := Report{
		From:              from,
		To:                to,
		ErrorsByComponent: make(map[string]int),
		Latency:           make(map[Stage]Stats),
	}

	samples := make(map[Stage][]float64)
	sessions := make(map[string]struct{})

	start := from.UTC().Truncate(24 * time.Hour)
	for day := start; !day.After(to.UTC()); day = day.Add(24 * time.Hour) {
		records, err := s.Load(day)
		if err != nil {
			return rep, err
		}
		for _, r := range records {
			if r.Timestamp.Before(from) || r.Timestamp.After(to) {
				continue
			}
			if id, ok := r.Metadata["session_id"].(string); ok && id != "" {
				sessions[id] = struct{}{}
			}
			switch r.MetricType {
			case MetricInteraction:
				rep.TotalInteractions++
			case MetricInterruption:
				rep.Interruptions++
			case MetricError:
				rep.TotalErrors++
				component, _ := r.Metadata["component"].(string)
				rep.ErrorsByComponent[component]++
			default:
				if stage, ok := stageForMetric(r.MetricType); ok {
					samples[stage] = append(samples[stage], r.Value)
				}
			}
		}
	}

	rep.Sessions = len(sessions)
	if rep.TotalInteractions > 0 {
		rep.ErrorRate = float64(rep.TotalErrors) / float64(rep.TotalInteractions)
	}
	for stage, values := range samples {
		rep.Latency[stage] = Summarize(values)
	}
	return rep, nil
}

// ReportDays aggregates the last days days ending now.
func (s *Store) ReportDays(days int, now time.Time) (Report, error) {
	if days < 1 {
		days = 1
	}
	from := now.UTC().Truncate(24*time.Hour).AddDate(0, 0, -(days - 1))
	return s.Report(from, now)
}
