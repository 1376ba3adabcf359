package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Scenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Len(t, result.Trace, len(scenario.Flow))
		})
	}
}

func TestRun_Golden(t *testing.T) {
	for _, name := range []string{"rename_post", "revert_user", "async_capture"} {
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/revert_user.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
}

func TestRun_FailedAssertionsReported(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong_expectations
description: "Every assertion here is wrong"
types:
  user: {}
flow:
  - op: create
    type: user
    ref: u
    fields: { name: "Marcel" }
assertions:
  - type: history_count
    ref: u
    count: 3
  - type: version_fields
    ref: u
    expect: { name: "John" }
  - type: version_fields
    ref: u
    absent: [name]
  - type: version_meta
    ref: u
    reason: "missing"
  - type: diff
    ref: u
    version: 1
    expect: { name: "Marcel" }
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], "Expected: 3 versions")
	assert.Contains(t, result.Errors[0], "Actual: 1 versions")
	assert.Contains(t, result.Errors[1], `field "name" = "Marcel"`)
	assert.Contains(t, result.Errors[2], `without field "name"`)
	assert.Contains(t, result.Errors[3], `reason "missing"`)
	assert.Contains(t, result.Errors[4], "Actual: {}")
}

func TestRun_MissingVersionIsAnError(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: missing_version
description: "Revert to a version that does not exist"
types:
  user: {}
flow:
  - op: create
    type: user
    ref: u
    fields: { name: "Marcel" }
  - op: revert
    ref: u
    version: 5
assertions:
  - type: history_count
    ref: u
    count: 1
`))
	require.NoError(t, err)

	_, err = Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flow[1] revert u")
}
