package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/versionable/internal/engine"
	"github.com/roach88/versionable/internal/record"
	"github.com/roach88/versionable/internal/snapshot"
	"github.com/roach88/versionable/internal/value"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Ref      string
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s (%s)\n", e.Type, e.Ref)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	return buf.String()
}

// AssertionContext provides what assertions need to read history.
type AssertionContext struct {
	Engine  *engine.Engine
	Records map[string]*record.Model
	Ctx     context.Context
}

// EvaluateAssertions evaluates all assertions.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		m, ok := actx.Records[assertion.Ref]
		if !ok {
			errors = append(errors, fmt.Sprintf("assertion[%d]: unknown ref %q", i, assertion.Ref))
			continue
		}

		var err error
		switch assertion.Type {
		case AssertHistoryCount:
			err = assertHistoryCount(actx, m, assertion)
		case AssertVersionFields:
			err = assertVersionFields(actx, m, assertion)
		case AssertVersionMeta:
			err = assertVersionMeta(actx, m, assertion)
		case AssertDiff:
			err = assertDiff(actx, m, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

// version resolves a 1-based, oldest-first version number. 0 is current.
func version(ctx context.Context, eng *engine.Engine, m record.Versionable, n int) (snapshot.Snapshot, error) {
	if n == 0 {
		return eng.CurrentVersion(ctx, m.Type(), m.Key())
	}

	list, err := eng.History(ctx, m.Type(), m.Key())
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	if n > len(list) {
		return snapshot.Snapshot{}, fmt.Errorf("version %d of %d: %w", n, len(list), snapshot.ErrNotFound)
	}
	// History is newest first
	return list[len(list)-n], nil
}

func assertHistoryCount(actx *AssertionContext, m *record.Model, a Assertion) error {
	list, err := actx.Engine.History(actx.Ctx, m.Type(), m.Key())
	if err != nil {
		return err
	}
	if len(list) != a.Count {
		return &AssertionError{
			Type:     AssertHistoryCount,
			Ref:      a.Ref,
			Expected: fmt.Sprintf("%d versions", a.Count),
			Actual:   fmt.Sprintf("%d versions", len(list)),
		}
	}
	return nil
}

func assertVersionFields(actx *AssertionContext, m *record.Model, a Assertion) error {
	fields, err := decodeVersion(actx, m, a.Version)
	if err != nil {
		return err
	}

	expect, err := value.FromMap(a.Expect)
	if err != nil {
		return fmt.Errorf("assertion expect: %w", err)
	}

	// Sort keys for deterministic failure messages
	for _, key := range expect.SortedKeys() {
		actual, exists := fields[key]
		if !exists {
			return &AssertionError{
				Type:     AssertVersionFields,
				Ref:      a.Ref,
				Expected: fmt.Sprintf("version %d field %q = %s", a.Version, key, render(expect[key])),
				Actual:   fmt.Sprintf("field %q not present in %v", key, fields.SortedKeys()),
			}
		}
		if !value.Equal(expect[key], actual) {
			return &AssertionError{
				Type:     AssertVersionFields,
				Ref:      a.Ref,
				Expected: fmt.Sprintf("version %d field %q = %s", a.Version, key, render(expect[key])),
				Actual:   fmt.Sprintf("field %q = %s", key, render(actual)),
			}
		}
	}

	for _, key := range a.Absent {
		if fields.Has(key) {
			return &AssertionError{
				Type:     AssertVersionFields,
				Ref:      a.Ref,
				Expected: fmt.Sprintf("version %d without field %q", a.Version, key),
				Actual:   fmt.Sprintf("field %q = %s", key, render(fields[key])),
			}
		}
	}
	return nil
}

func assertVersionMeta(actx *AssertionContext, m *record.Model, a Assertion) error {
	s, err := version(actx.Ctx, actx.Engine, m, a.Version)
	if err != nil {
		return err
	}

	if got := deref(s.Reason); got != a.Reason {
		return &AssertionError{
			Type:     AssertVersionMeta,
			Ref:      a.Ref,
			Expected: fmt.Sprintf("version %d reason %q", a.Version, a.Reason),
			Actual:   fmt.Sprintf("reason %q", got),
		}
	}
	if got := deref(s.ActorID); got != a.Actor {
		return &AssertionError{
			Type:     AssertVersionMeta,
			Ref:      a.Ref,
			Expected: fmt.Sprintf("version %d actor %q", a.Version, a.Actor),
			Actual:   fmt.Sprintf("actor %q", got),
		}
	}
	return nil
}

func assertDiff(actx *AssertionContext, m *record.Model, a Assertion) error {
	s, err := version(actx.Ctx, actx.Engine, m, a.Version)
	if err != nil {
		return err
	}

	var against *snapshot.Snapshot
	if a.Against > 0 {
		target, err := version(actx.Ctx, actx.Engine, m, a.Against)
		if err != nil {
			return err
		}
		against = &target
	}

	got, err := actx.Engine.Diff(actx.Ctx, s, against)
	if err != nil {
		return err
	}

	expect, err := value.FromMap(a.Expect)
	if err != nil {
		return fmt.Errorf("assertion expect: %w", err)
	}

	if !value.Equal(expect, got) {
		return &AssertionError{
			Type:     AssertDiff,
			Ref:      a.Ref,
			Expected: fmt.Sprintf("diff of version %d against %s = %s", a.Version, targetName(a.Against), render(expect)),
			Actual:   render(got),
		}
	}
	return nil
}

func decodeVersion(actx *AssertionContext, m *record.Model, n int) (value.Map, error) {
	s, err := version(actx.Ctx, actx.Engine, m, n)
	if err != nil {
		return nil, err
	}
	return actx.Engine.Decode(s)
}

func targetName(n int) string {
	if n == 0 {
		return "current"
	}
	return fmt.Sprintf("version %d", n)
}

// render formats a value as canonical JSON for messages.
func render(v value.Value) string {
	b, err := value.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
