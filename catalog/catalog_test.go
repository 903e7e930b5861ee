package catalog

import (
	"strings"
	"testing"

	"github.com/akhenakh/landcoverapi/coverage"
)

const testCatalog = `
presets:
  water:
    class: water
    material: sea_surface
layers:
  - name: global
    path: /data/tiles/global
    min_level: 0
    max_level: 8
    mappings:
      - code: 11
        preset: water
      - code: 42
        class: forest
        material: conifer
  - name: regional
    path: /data/tiles/regional
    min_level: 4
    max_level: 12
    mappings:
      - code: 11
        preset: water
        material: lake_surface
`

func TestParseFile(t *testing.T) {
	f, err := ParseFile([]byte(testCatalog))
	if err != nil {
		t.Fatalf("ParseFile returned an unexpected error: %v", err)
	}
	if len(f.Layers) != 2 {
		t.Fatalf("parsed %d layers, want 2", len(f.Layers))
	}
	if f.Layers[0].Name != "global" || f.Layers[1].Name != "regional" {
		t.Errorf("layer order not preserved: %q, %q", f.Layers[0].Name, f.Layers[1].Name)
	}
	if f.Layers[1].MinLevel != 4 || f.Layers[1].MaxLevel != 12 {
		t.Errorf("regional level range = [%d,%d], want [4,12]", f.Layers[1].MinLevel, f.Layers[1].MaxLevel)
	}
	if _, ok := f.Presets["water"]; !ok {
		t.Error("water preset missing")
	}
}

func TestParseFileRejectsEmpty(t *testing.T) {
	for _, doc := range []string{"", "layers: []", "layers:\n  - path: /x\n"} {
		if _, err := ParseFile([]byte(doc)); err == nil {
			t.Errorf("ParseFile(%q) should fail", doc)
		}
	}
}

func TestLayerEntries(t *testing.T) {
	f, err := ParseFile([]byte(testCatalog))
	if err != nil {
		t.Fatal(err)
	}

	entries, err := f.Layers[0].Entries()
	if err != nil {
		t.Fatalf("Entries returned an unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Code != 11 || entries[0].Preset != "water" {
		t.Errorf("entry 0 = %+v, want code 11 with the water preset", entries[0])
	}
	if entries[1].Code != 42 || entries[1].Preset != "" {
		t.Errorf("entry 1 = %+v, want code 42 without a preset", entries[1])
	}
	// code and preset must not leak into the value fields.
	if _, ok := entries[0].Fields["code"]; ok {
		t.Error("code field leaked into value construction fields")
	}
}

func TestLayerEntriesMissingCode(t *testing.T) {
	lc := LayerConfig{Name: "bad", Mappings: []coverage.Fragment{{"class": "forest"}}}
	if _, err := lc.Entries(); err == nil || !strings.Contains(err.Error(), "without a code") {
		t.Errorf("Entries() error = %v, want missing-code error", err)
	}
}

func TestBuildMappingsFromCatalog(t *testing.T) {
	f, err := ParseFile([]byte(testCatalog))
	if err != nil {
		t.Fatal(err)
	}

	for i, want := range []struct {
		code     uint32
		class    string
		material string
	}{
		{11, "water", "sea_surface"},
		{11, "water", "lake_surface"}, // entry field overrides the preset's
	} {
		entries, err := f.Layers[i].Entries()
		if err != nil {
			t.Fatal(err)
		}
		m, err := coverage.BuildMappings(entries, f.Presets, NewClass)
		if err != nil {
			t.Fatalf("layer %d: %v", i, err)
		}
		got := m.Lookup(want.code)
		if got.Name != want.class || got.Material != want.material {
			t.Errorf("layer %d Lookup(%d) = %+v, want %s/%s", i, want.code, got, want.class, want.material)
		}
	}
}

func TestNewClass(t *testing.T) {
	testCases := []struct {
		name    string
		fields  coverage.Fragment
		want    Class
		wantErr bool
	}{
		{"full", coverage.Fragment{"class": "forest", "material": "conifer"}, Class{Name: "forest", Material: "conifer"}, false},
		{"class only", coverage.Fragment{"class": "urban"}, Class{Name: "urban"}, false},
		{"missing class", coverage.Fragment{"material": "x"}, Class{}, true},
		{"empty class", coverage.Fragment{"class": ""}, Class{}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NewClass(tc.fields)
			if tc.wantErr {
				if err == nil {
					t.Errorf("NewClass(%v) expected an error, got %v", tc.fields, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewClass returned an unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("NewClass(%v) = %v, want %v", tc.fields, got, tc.want)
			}
			if !got.Valid() {
				t.Error("constructed class should be valid")
			}
		})
	}
}

func TestClassString(t *testing.T) {
	if got := (Class{}).String(); got != "nodata" {
		t.Errorf("zero class String() = %q, want nodata", got)
	}
	if got := (Class{Name: "water", Material: "lake_surface"}).String(); got != "water/lake_surface" {
		t.Errorf("String() = %q", got)
	}
}
