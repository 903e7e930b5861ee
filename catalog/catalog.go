// Package catalog loads the layer catalog: the YAML document that names the
// coverage layers, their tile stores and level ranges, and the per-layer
// code-to-class mapping tables with shared presets. It assembles a ready
// coverage.Compositor over the concrete Class value type.
package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/akhenakh/landcoverapi/coverage"
	"github.com/akhenakh/landcoverapi/tilesource"
)

// Class is a land-cover classification value. The zero Class is the no-data
// value.
type Class struct {
	Name     string
	Material string
}

// Valid reports whether the class carries a classification.
func (c Class) Valid() bool { return c.Name != "" }

func (c Class) String() string {
	if !c.Valid() {
		return "nodata"
	}
	if c.Material == "" {
		return c.Name
	}
	return c.Name + "/" + c.Material
}

// NewClass constructs a Class from a configuration fragment. The fragment
// must carry a "class" field; "material" is optional.
func NewClass(fields coverage.Fragment) (Class, error) {
	name, ok := fields["class"].(string)
	if !ok || name == "" {
		return Class{}, fmt.Errorf("missing or invalid class field")
	}
	material, _ := fields["material"].(string)
	return Class{Name: name, Material: material}, nil
}

// File is the parsed catalog document.
type File struct {
	Presets map[string]coverage.Fragment `yaml:"presets"`
	Layers  []LayerConfig                `yaml:"layers"`
}

// LayerConfig configures one coverage layer. Layers are listed lowest
// priority first: at composite time the last layer wins.
type LayerConfig struct {
	Name     string `yaml:"name"`
	Path     string `yaml:"path"`
	MinLevel uint32 `yaml:"min_level"`
	MaxLevel uint32 `yaml:"max_level"`

	// Mappings entries carry "code" (required), optionally "preset", and
	// the remaining fields feed Class construction.
	Mappings []coverage.Fragment `yaml:"mappings"`
}

// Catalog is the assembled result of loading a catalog file.
type Catalog struct {
	Layers     []coverage.Layer[Class]
	Compositor *coverage.Compositor[Class]
}

// ParseFile parses the raw YAML catalog document.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(f.Layers) == 0 {
		return nil, fmt.Errorf("catalog declares no layers")
	}
	for _, lc := range f.Layers {
		if lc.Name == "" {
			return nil, fmt.Errorf("catalog layer without a name")
		}
	}
	return &f, nil
}

// Entries converts a layer's raw mapping fragments into value-table
// entries.
func (lc LayerConfig) Entries() ([]coverage.MappingEntry, error) {
	entries := make([]coverage.MappingEntry, 0, len(lc.Mappings))
	for _, frag := range lc.Mappings {
		code, ok := intField(frag, "code")
		if !ok {
			return nil, fmt.Errorf("layer %s: mapping entry without a code", lc.Name)
		}
		preset, _ := frag["preset"].(string)
		fields := make(coverage.Fragment, len(frag))
		for k, v := range frag {
			if k == "code" || k == "preset" {
				continue
			}
			fields[k] = v
		}
		entries = append(entries, coverage.MappingEntry{
			Code:   uint32(code),
			Preset: preset,
			Fields: fields,
		})
	}
	return entries, nil
}

// Load reads and assembles the catalog at path. Each layer's tile store is
// opened as a FileSource rooted at the layer path, with the given decoded
// raster cache settings.
func Load(path string, cacheSize int64, itemsToPrune uint32) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	f, err := ParseFile(data)
	if err != nil {
		return nil, err
	}

	layers := make([]coverage.Layer[Class], 0, len(f.Layers))
	for _, lc := range f.Layers {
		entries, err := lc.Entries()
		if err != nil {
			return nil, err
		}
		mappings, err := coverage.BuildMappings(entries, f.Presets, NewClass)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", lc.Name, err)
		}
		src, err := tilesource.NewFileSource(os.DirFS(lc.Path), lc.MinLevel, lc.MaxLevel, cacheSize, itemsToPrune)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", lc.Name, err)
		}
		layers = append(layers, coverage.Layer[Class]{Name: lc.Name, Source: src, Mappings: mappings})
	}

	return &Catalog{Layers: layers, Compositor: coverage.NewCompositor(layers...)}, nil
}

func intField(frag coverage.Fragment, key string) (int, bool) {
	switch v := frag[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case uint64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
