package registry

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/obsidianstack/microclimate/pkg/types"
)

// Lister returns the current ordered source list.
type Lister interface {
	List(ctx context.Context) ([]types.Source, error)
}

// File is a Lister backed by a sources file on disk.
type File struct {
	path string
}

// NewFile returns a File registry reading from path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the file the registry reads.
func (f *File) Path() string { return f.path }

// List reads, parses and validates the sources file.
func (f *File) List(ctx context.Context) ([]types.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("registry: read %q: %w", f.path, err)
	}
	return Parse(data)
}

// entry mirrors one element of the sources file. Coordinates are pointers so
// a missing field can be told apart from 0.
type entry struct {
	ID        string           `yaml:"id"`
	Name      string           `yaml:"name"`
	Latitude  *float64         `yaml:"latitude"`
	Longitude *float64         `yaml:"longitude"`
	FetchURL  string           `yaml:"fetch_url"`
	ImageURL  string           `yaml:"image_url"`
	Auth      types.SourceAuth `yaml:"auth"`
}

// Parse decodes and validates a sources document.
func Parse(data []byte) ([]types.Source, error) {
	var entries []entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("registry: parse: %w", err)
	}

	out := make([]types.Source, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		src, err := e.toSource()
		if err != nil {
			return nil, fmt.Errorf("registry: sources[%d]: %w", i, err)
		}
		if _, dup := seen[src.ID]; dup {
			return nil, fmt.Errorf("registry: sources[%d]: duplicate id %q", i, src.ID)
		}
		seen[src.ID] = struct{}{}
		out = append(out, src)
	}
	return out, nil
}

func (e entry) toSource() (types.Source, error) {
	id := strings.TrimSpace(e.ID)
	if id == "" {
		return types.Source{}, fmt.Errorf("id is required")
	}
	if e.Latitude == nil {
		return types.Source{}, fmt.Errorf("%q: latitude is required", id)
	}
	if e.Longitude == nil {
		return types.Source{}, fmt.Errorf("%q: longitude is required", id)
	}
	if *e.Latitude < -90 || *e.Latitude > 90 {
		return types.Source{}, fmt.Errorf("%q: latitude %v out of range [-90, 90]", id, *e.Latitude)
	}
	if *e.Longitude < -180 || *e.Longitude > 180 {
		return types.Source{}, fmt.Errorf("%q: longitude %v out of range [-180, 180]", id, *e.Longitude)
	}

	url := e.FetchURL
	if url == "" {
		url = e.ImageURL
	}
	if url == "" {
		return types.Source{}, fmt.Errorf("%q: fetch_url is required", id)
	}

	switch e.Auth.Mode {
	case "", "none", "basic", "bearer":
	case "apikey":
		if e.Auth.Header == "" {
			return types.Source{}, fmt.Errorf("%q: auth.header is required for apikey mode", id)
		}
	default:
		return types.Source{}, fmt.Errorf("%q: unknown auth mode %q", id, e.Auth.Mode)
	}

	name := e.Name
	if name == "" {
		name = id
	}
	return types.Source{
		ID:        id,
		Name:      name,
		Latitude:  *e.Latitude,
		Longitude: *e.Longitude,
		FetchURL:  url,
		Auth:      e.Auth,
	}, nil
}

// Static is a fixed in-memory Lister.
type Static []types.Source

// List returns a copy of the static sources.
func (s Static) List(context.Context) ([]types.Source, error) {
	out := make([]types.Source, len(s))
	copy(out, s)
	return out, nil
}
