package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/versionable/internal/codec"
	"github.com/roach88/versionable/internal/snapshot"
)

// Scenario defines a lifecycle scenario: record types, a flow of record
// operations and assertions on the resulting snapshot history.
type Scenario struct {
	// Name uniquely identifies this scenario. Also the golden file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Types configures each record type the flow uses.
	Types map[string]TypeSpec `yaml:"types"`

	// Async routes snapshot writes through an in-memory queue that is
	// drained by a worker after the flow.
	Async bool `yaml:"async,omitempty"`

	// Flow contains the record operations, executed in order.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final snapshot history.
	Assertions []Assertion `yaml:"assertions"`
}

// TypeSpec declares a record type and its versioning policy.
type TypeSpec struct {
	SoftDeletes bool     `yaml:"soft_deletes,omitempty"`
	Hidden      []string `yaml:"hidden,omitempty"`
	// Reveal lists hidden fields that are still captured.
	Reveal    []string `yaml:"reveal,omitempty"`
	Exclude   []string `yaml:"exclude,omitempty"`
	Retention int      `yaml:"retention,omitempty"`
	Disabled  bool     `yaml:"disabled,omitempty"`
	Encoder   string   `yaml:"encoder,omitempty"`
	Table     string   `yaml:"table,omitempty"`
}

// Step is one record operation.
type Step struct {
	// Op is one of the Op* constants.
	Op string `yaml:"op"`

	// Type is the record type (create only).
	Type string `yaml:"type,omitempty"`

	// Ref names the record within the scenario.
	Ref string `yaml:"ref"`

	// Fields are assigned before saving (create, update).
	Fields map[string]interface{} `yaml:"fields,omitempty"`

	// Reason is attached to the next snapshot.
	Reason string `yaml:"reason,omitempty"`

	// Actor is the acting identity for the step.
	Actor string `yaml:"actor,omitempty"`

	// Version selects the snapshot to revert to (revert only).
	Version int `yaml:"version,omitempty"`

	// Keep is the retention limit applied by purge.
	Keep int `yaml:"keep,omitempty"`
}

// Step operations.
const (
	OpCreate  = "create"
	OpUpdate  = "update"
	OpTouch   = "touch"
	OpDelete  = "delete"
	OpDisable = "disable"
	OpEnable  = "enable"
	OpRevert  = "revert"
	OpPurge   = "purge"
)

// Assertion validates the snapshot history of one record.
type Assertion struct {
	// Type specifies the assertion type:
	// - "history_count": record has exactly Count snapshots
	// - "version_fields": Version holds Expect (subset) and lacks Absent
	// - "version_meta": Version's reason and actor equal Reason and Actor
	// - "diff": Engine.Diff(Version, Against) equals Expect
	Type string `yaml:"type"`

	Ref string `yaml:"ref"`

	// Count is the expected number of snapshots (history_count).
	Count int `yaml:"count,omitempty"`

	// Version is 1-based, oldest first. 0 is the current version.
	Version int `yaml:"version,omitempty"`

	// Against is the diff target, numbered like Version. 0 is the current version.
	Against int `yaml:"against,omitempty"`

	Expect map[string]interface{} `yaml:"expect,omitempty"`
	Absent []string               `yaml:"absent,omitempty"`

	Reason string `yaml:"reason,omitempty"`
	Actor  string `yaml:"actor,omitempty"`
}

// Assertion type constants.
const (
	AssertHistoryCount  = "history_count"
	AssertVersionFields = "version_fields"
	AssertVersionMeta   = "version_meta"
	AssertDiff          = "diff"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Types) == 0 {
		return fmt.Errorf("types map is required and must be non-empty")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for typ, ts := range s.Types {
		if ts.Encoder != "" {
			if _, err := codec.Lookup(ts.Encoder); err != nil {
				return fmt.Errorf("types.%s: %w", typ, err)
			}
		}
		if ts.Table != "" {
			if err := snapshot.ValidateTable(ts.Table); err != nil {
				return fmt.Errorf("types.%s: %w", typ, err)
			}
		}
		if ts.Retention < 0 {
			return fmt.Errorf("types.%s: retention must be non-negative", typ)
		}
	}

	refs := make(map[string]bool)
	for i, step := range s.Flow {
		if step.Ref == "" {
			return fmt.Errorf("flow[%d]: ref is required", i)
		}

		switch step.Op {
		case OpCreate:
			if _, ok := s.Types[step.Type]; !ok {
				return fmt.Errorf("flow[%d]: unknown type %q", i, step.Type)
			}
			if refs[step.Ref] {
				return fmt.Errorf("flow[%d]: ref %q already created", i, step.Ref)
			}
			refs[step.Ref] = true
			continue
		case OpUpdate, OpTouch, OpDelete, OpDisable, OpEnable:
		case OpRevert:
			if step.Version < 1 {
				return fmt.Errorf("flow[%d]: revert requires version >= 1", i)
			}
		case OpPurge:
			if step.Keep < 0 {
				return fmt.Errorf("flow[%d]: keep must be non-negative", i)
			}
		case "":
			return fmt.Errorf("flow[%d]: op is required", i)
		default:
			return fmt.Errorf("flow[%d]: unknown op %q", i, step.Op)
		}

		if !refs[step.Ref] {
			return fmt.Errorf("flow[%d]: ref %q used before create", i, step.Ref)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, refs); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, refs map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if !refs[a.Ref] {
		return fmt.Errorf("assertions[%d]: unknown ref %q", index, a.Ref)
	}
	if a.Version < 0 || a.Against < 0 {
		return fmt.Errorf("assertions[%d]: versions must be non-negative", index)
	}

	switch a.Type {
	case AssertHistoryCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for history_count", index)
		}
	case AssertVersionFields:
		if len(a.Expect) == 0 && len(a.Absent) == 0 {
			return fmt.Errorf("assertions[%d]: expect or absent is required for version_fields", index)
		}
	case AssertVersionMeta:
	case AssertDiff:
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for diff (use {} for no differences)", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
