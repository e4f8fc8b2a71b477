package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
)

// MetadataEntry is one Singer metadata item addressed by breadcrumb.
// An empty breadcrumb addresses the stream itself; a ["properties", name]
// breadcrumb addresses a single field.
type MetadataEntry struct {
	Breadcrumb []string               `json:"breadcrumb"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// Stream is one entry in the catalog: a report cube or a listing edge,
// with its field schema, selection metadata and key properties. Built once
// at discovery time and read-only afterwards.
type Stream struct {
	ID            string          `json:"tap_stream_id"`
	Name          string          `json:"stream"`
	Schema        *Schema         `json:"schema"`
	Metadata      []MetadataEntry `json:"metadata"`
	KeyProperties []string        `json:"key_properties"`
}

// Catalog is the full set of discovered streams.
type Catalog struct {
	Streams []*Stream `json:"streams"`
}

// Selected reports whether the stream is selected for sync via its
// empty-breadcrumb metadata entry.
func (s *Stream) Selected() bool {
	for _, entry := range s.Metadata {
		if len(entry.Breadcrumb) != 0 {
			continue
		}
		if selected, ok := entry.Metadata["selected"].(bool); ok {
			return selected
		}
	}
	return false
}

// IsListing reports whether the stream is a dimension listing rather than
// a report cube.
func (s *Stream) IsListing() bool {
	_, ok := ListingEdges[s.ID]
	return ok
}

// FieldNames returns the selected field names in schema order.
func (s *Stream) FieldNames() []string {
	names := make([]string, len(s.Schema.FieldOrder))
	copy(names, s.Schema.FieldOrder)
	return names
}

// ApplySelection removes unselected and unsupported fields from the schema
// using the stream's field-level metadata. Fields with automatic inclusion
// are always kept.
func (s *Stream) ApplySelection() {
	for _, entry := range s.Metadata {
		if len(entry.Breadcrumb) != 2 || entry.Breadcrumb[0] != "properties" {
			continue
		}
		name := entry.Breadcrumb[1]

		selected := true
		if v, ok := entry.Metadata["selected"].(bool); ok {
			selected = v
		}
		inclusion, _ := entry.Metadata["inclusion"].(string)
		if inclusion == "automatic" {
			selected = true
		}

		if !selected || inclusion == "unsupported" {
			s.Schema.RemoveField(name)
			log.WithFields(log.Fields{
				"stream": s.ID,
				"field":  name,
			}).Debug("removed unselected field")
		}
	}
}

// SelectedStreams returns the streams marked selected in the catalog.
func (c *Catalog) SelectedStreams() []*Stream {
	var selected []*Stream
	for _, stream := range c.Streams {
		if stream.Selected() {
			selected = append(selected, stream)
		}
	}
	return selected
}

// Load reads a catalog JSON file, as produced by discovery mode.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}

	for _, stream := range c.Streams {
		if stream.ID == "" {
			stream.ID = stream.Name
		}
		if stream.Name == "" {
			stream.Name = stream.ID
		}
		if stream.Schema == nil {
			return nil, fmt.Errorf("stream %q has no schema", stream.ID)
		}
	}
	return &c, nil
}

// Discover builds a catalog from a directory tree holding one JSON schema
// file per stream, with optional metadata/ and key_properties/ siblings.
func Discover(schemaDir string) (*Catalog, error) {
	schemas, err := loadDirectory(schemaDir)
	if err != nil {
		return nil, err
	}

	metadata, err := loadDirectory(filepath.Join(schemaDir, "..", "metadata"))
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	keyProperties, err := loadDirectory(filepath.Join(schemaDir, "..", "key_properties"))
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	c := &Catalog{}
	for name, raw := range schemas {
		var schema Schema
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema %q: %w", name, err)
		}

		stream := &Stream{
			ID:     name,
			Name:   name,
			Schema: &schema,
		}
		if raw, ok := metadata[name]; ok {
			if err := json.Unmarshal(raw, &stream.Metadata); err != nil {
				return nil, fmt.Errorf("invalid metadata %q: %w", name, err)
			}
		}
		if raw, ok := keyProperties[name]; ok {
			if err := json.Unmarshal(raw, &stream.KeyProperties); err != nil {
				return nil, fmt.Errorf("invalid key properties %q: %w", name, err)
			}
		}

		c.Streams = append(c.Streams, stream)
	}
	return c, nil
}

// loadDirectory reads every JSON file in a directory, keyed by normalized
// file name.
func loadDirectory(dir string) (map[string]json.RawMessage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	data := make(map[string]json.RawMessage)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}

		name := strings.TrimSuffix(entry.Name(), ".json")
		name = strings.ReplaceAll(strings.ToLower(name), " ", "_")
		data[name] = raw

		log.WithField("file", entry.Name()).Debug("loaded schema file")
	}
	return data, nil
}
