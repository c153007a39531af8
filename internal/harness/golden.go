package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot captures what a scenario run observed. Its canonical JSON is
// the golden file content and the digest input.
type TraceSnapshot struct {
	ScenarioName string
	RunID        string
	Trace        []TraceEvent
	Effects      []string
	State        map[string]any
	TimedOut     bool
}

// NewTraceSnapshot builds the snapshot of a scenario result.
func NewTraceSnapshot(scenario *Scenario, result *Result) *TraceSnapshot {
	return &TraceSnapshot{
		ScenarioName: scenario.Name,
		RunID:        scenario.RunID,
		Trace:        result.Trace,
		Effects:      result.Effects,
		State:        result.State,
		TimedOut:     result.TimedOut,
	}
}

// toCanonicalMap converts the snapshot for canonical JSON serialization.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"seq":  event.Seq,
			"type": event.Type,
		}
		if event.Payload != nil {
			eventMap["payload"] = event.Payload
		}
		traceList[i] = eventMap
	}

	effects := make([]any, len(s.Effects))
	for i, e := range s.Effects {
		effects[i] = e
	}

	state := s.State
	if state == nil {
		state = map[string]any{}
	}

	result := map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
		"effects":       effects,
		"state":         state,
		"timed_out":     s.TimedOut,
	}
	if s.RunID != "" {
		result["run_id"] = s.RunID
	}
	return result
}

// Canonical returns the snapshot as canonical JSON.
func (s *TraceSnapshot) Canonical() ([]byte, error) {
	return MarshalCanonical(s.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the trace doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(t.Context(), scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario, result)
}

// AssertGolden compares an existing result against the scenario's golden
// file without re-running it.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) error {
	t.Helper()

	data, err := NewTraceSnapshot(scenario, result).Canonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return nil
}
