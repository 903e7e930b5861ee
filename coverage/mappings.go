package coverage

import "fmt"

// Fragment is a generic key/value configuration tree, the shape the catalog
// hands to value construction. It is only consulted while building a
// Mappings table, never at composite time.
type Fragment map[string]any

// mergedUnder returns a copy of base with the fragment's own fields layered
// on top: the receiver's fields win on conflict.
func (f Fragment) mergedUnder(base Fragment) Fragment {
	merged := make(Fragment, len(base)+len(f))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range f {
		merged[k] = v
	}
	return merged
}

// MappingEntry maps one raw numeric code to a classification value, either
// directly from Fields or by resolving a named preset whose fields sit
// underneath Fields (entry fields take priority).
type MappingEntry struct {
	Code   uint32
	Preset string
	Fields Fragment
}

// Mappings is one data source's value table: raw code to classification
// value. It is built once per source and read-only afterwards, so lookups
// are safe from any goroutine. Unmapped codes yield the zero (invalid)
// value.
type Mappings[T Value] struct {
	values map[uint32]T
}

// BuildMappings constructs a value table from entries, resolving preset
// references against presets and constructing each typed value through
// construct. Entries are applied in order; a later entry for the same code
// overwrites an earlier one.
func BuildMappings[T Value](entries []MappingEntry, presets map[string]Fragment, construct func(Fragment) (T, error)) (*Mappings[T], error) {
	m := &Mappings[T]{values: make(map[uint32]T, len(entries))}
	for _, e := range entries {
		fields := e.Fields
		if e.Preset != "" {
			base, ok := presets[e.Preset]
			if !ok {
				return nil, fmt.Errorf("mapping for code %d references unknown preset %q", e.Code, e.Preset)
			}
			fields = e.Fields.mergedUnder(base)
		}
		v, err := construct(fields)
		if err != nil {
			return nil, fmt.Errorf("mapping for code %d: %w", e.Code, err)
		}
		m.values[e.Code] = v
	}
	return m, nil
}

// Lookup returns the value mapped to code, the zero value when unmapped.
func (m *Mappings[T]) Lookup(code uint32) T {
	return m.values[code]
}

// Len returns the number of mapped codes.
func (m *Mappings[T]) Len() int { return len(m.values) }
