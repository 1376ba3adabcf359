package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/versionable/internal/value"
)

// TraceSnapshot captures the complete trace for a scenario execution.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// toValue converts a TraceSnapshot for canonical JSON serialization.
func (s *TraceSnapshot) toValue() value.Map {
	trace := make(value.List, len(s.Trace))
	for i, event := range s.Trace {
		trace[i] = value.Map{
			"step":     value.Int(event.Step),
			"op":       value.String(event.Op),
			"ref":      value.String(event.Ref),
			"key":      value.String(event.Key),
			"versions": value.Int(event.Versions),
		}
	}
	return value.Map{
		"scenario_name": value.String(s.ScenarioName),
		"trace":         trace,
	}
}

// MarshalTrace renders a result's trace as the canonical JSON stored in
// golden files.
func MarshalTrace(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
	}
	return value.MarshalCanonical(snapshot.toValue())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check assertions.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}
