// Package diff compares two field maps.
//
// Diff is one-directional: it reports what the first map holds that the
// second does not. Fields only present in the second map are not reported.
package diff

import (
	"github.com/roach88/versionable/internal/value"
)

// Diff returns the entries of a that are absent from b or differ from b.
//
// Nested maps are compared key by key and contribute a nested map holding only
// the differing keys; a nested map with no differences is omitted. A map in a
// against a non-map in b is reported whole. Lists are compared as values.
// Fields named in excluded are removed from the result after comparison.
func Diff(a, b value.Map, excluded ...string) value.Map {
	out := diffMaps(a, b)
	for _, f := range excluded {
		delete(out, f)
	}
	return out
}

func diffMaps(a, b value.Map) value.Map {
	out := value.Map{}
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			out[k] = value.Clone(av)
			continue
		}

		if am, ok := av.(value.Map); ok {
			if bm, ok := bv.(value.Map); ok {
				if nested := diffMaps(am, bm); len(nested) > 0 {
					out[k] = nested
				}
				continue
			}
		}

		if !value.Equal(av, bv) {
			out[k] = value.Clone(av)
		}
	}
	return out
}
