package diff

import (
	"fmt"
	"slices"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/roach88/versionable/internal/value"
)

// Unified renders a line-oriented unified diff from base to target.
//
// Both maps are flattened into sorted "path: json" lines first, so nested
// maps become dotted paths and list items become indexed paths. Returns ""
// when the flattened forms are identical.
func Unified(baseLabel string, base value.Map, targetLabel string, target value.Map) (string, error) {
	baseLines, err := Lines(base)
	if err != nil {
		return "", fmt.Errorf("flatten %s: %w", baseLabel, err)
	}
	targetLines, err := Lines(target)
	if err != nil {
		return "", fmt.Errorf("flatten %s: %w", targetLabel, err)
	}

	out, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        withNewlines(baseLines),
		B:        withNewlines(targetLines),
		FromFile: baseLabel,
		ToFile:   targetLabel,
		Context:  3,
	})
	if err != nil {
		return "", fmt.Errorf("render diff: %w", err)
	}
	return out, nil
}

// Lines flattens a map into sorted "path: json" lines.
// Empty nested maps and lists keep a line of their own ("{}" / "[]").
func Lines(m value.Map) ([]string, error) {
	flat := map[string]string{}
	for k, v := range m {
		if err := flatten(k, v, flat); err != nil {
			return nil, err
		}
	}

	paths := make([]string, 0, len(flat))
	for p := range flat {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	lines := make([]string, len(paths))
	for i, p := range paths {
		lines[i] = p + ": " + flat[p]
	}
	return lines, nil
}

func flatten(prefix string, v value.Value, acc map[string]string) error {
	switch typed := v.(type) {
	case value.Map:
		if len(typed) == 0 {
			acc[prefix] = "{}"
			return nil
		}
		for k, elem := range typed {
			if err := flatten(prefix+"."+k, elem, acc); err != nil {
				return err
			}
		}
	case value.List:
		if len(typed) == 0 {
			acc[prefix] = "[]"
			return nil
		}
		for i, elem := range typed {
			if err := flatten(fmt.Sprintf("%s[%d]", prefix, i), elem, acc); err != nil {
				return err
			}
		}
	default:
		encoded, err := value.MarshalCanonical(v)
		if err != nil {
			return fmt.Errorf("%s: %w", prefix, err)
		}
		acc[prefix] = string(encoded)
	}
	return nil
}

func withNewlines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l + "\n"
	}
	return out
}
