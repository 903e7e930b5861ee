package coverage

import (
	"strings"
	"testing"
)

func classFromFragment(f Fragment) (landClass, error) {
	name, _ := f["name"].(string)
	if suffix, ok := f["suffix"].(string); ok {
		name += "-" + suffix
	}
	return landClass{name: name}, nil
}

func TestBuildMappings(t *testing.T) {
	presets := map[string]Fragment{
		"water": {"name": "water", "suffix": "preset"},
	}

	testCases := []struct {
		name    string
		entries []MappingEntry
		lookups map[uint32]string // code -> expected class name, "" for no-data
		wantErr string
	}{
		{
			name: "direct fields",
			entries: []MappingEntry{
				{Code: 42, Fields: Fragment{"name": "forest"}},
			},
			lookups: map[uint32]string{42: "forest", 7: ""},
		},
		{
			name: "preset fields merged underneath entry fields",
			entries: []MappingEntry{
				{Code: 11, Preset: "water"},
				{Code: 12, Preset: "water", Fields: Fragment{"suffix": "deep"}},
			},
			lookups: map[uint32]string{
				11: "water-preset",
				12: "water-deep", // entry field overrides the preset's
			},
		},
		{
			name: "later entry overwrites earlier code",
			entries: []MappingEntry{
				{Code: 5, Fields: Fragment{"name": "grass"}},
				{Code: 5, Fields: Fragment{"name": "shrub"}},
			},
			lookups: map[uint32]string{5: "shrub"},
		},
		{
			name: "unknown preset",
			entries: []MappingEntry{
				{Code: 1, Preset: "lava"},
			},
			wantErr: "unknown preset",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := BuildMappings(tc.entries, presets, classFromFragment)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("BuildMappings error = %v, want containing %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("BuildMappings returned an unexpected error: %v", err)
			}
			for code, wantName := range tc.lookups {
				got := m.Lookup(code)
				if wantName == "" {
					if got.Valid() {
						t.Errorf("Lookup(%d) = %v, want the invalid no-data value", code, got)
					}
					continue
				}
				if got.name != wantName {
					t.Errorf("Lookup(%d) = %q, want %q", code, got.name, wantName)
				}
			}
		})
	}
}

func TestMappingsIndependentPerSource(t *testing.T) {
	// Two sources may map the same numeric code to different values.
	a, err := BuildMappings([]MappingEntry{{Code: 1, Fields: Fragment{"name": "tundra"}}}, nil, classFromFragment)
	if err != nil {
		t.Fatal(err)
	}
	b, err := BuildMappings([]MappingEntry{{Code: 1, Fields: Fragment{"name": "desert"}}}, nil, classFromFragment)
	if err != nil {
		t.Fatal(err)
	}
	if a.Lookup(1) == b.Lookup(1) {
		t.Error("tables built for different sources should not share mappings")
	}
}
