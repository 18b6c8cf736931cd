package contrib

import (
	"fmt"
	"sort"
)

// Snapshot is a point-in-time read of an entity's fields.
type Snapshot map[string]any

// Clone returns a shallow copy of s. A nil snapshot clones to an empty one.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// FieldChange holds the raw values on either side of a changed field.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Changeset maps changed field names to their old and new values.
type Changeset map[string]FieldChange

// Fields returns the changed field names, sorted.
func (c Changeset) Fields() []string {
	out := make([]string, 0, len(c))
	for f := range c {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Patch returns only the new values.
func (c Changeset) Patch() map[string]any {
	out := make(map[string]any, len(c))
	for f, ch := range c {
		out[f] = ch.New
	}
	return out
}

// Diff compares original with the sparse override proposed. Fields absent
// from proposed are unchanged; excluded fields never appear in the result.
// Values are compared by canonical form but reported raw.
func Diff(original, proposed Snapshot, catalog *Catalog) (Changeset, error) {
	out := Changeset{}
	for _, field := range unionKeys(original, proposed) {
		if catalog != nil && catalog.IsExcluded(field) {
			continue
		}
		newValue, ok := proposed[field]
		if !ok {
			continue
		}
		oldValue := original[field]

		oldCanon, err := Normalize(oldValue)
		if err != nil {
			return nil, fmt.Errorf("diff field %q (original): %w", field, err)
		}
		newCanon, err := Normalize(newValue)
		if err != nil {
			return nil, fmt.Errorf("diff field %q (proposed): %w", field, err)
		}
		if oldCanon != newCanon {
			out[field] = FieldChange{Old: oldValue, New: newValue}
		}
	}
	return out, nil
}

func unionKeys(a, b Snapshot) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
