package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FieldSchema describes the declared type of a single stream field. Type
// may be declared in the source JSON as either a single string or a union
// of strings (usually ["null", <type>]).
type FieldSchema struct {
	Types  []string
	Format string
}

// fieldSchemaJSON is the wire form of a field schema.
type fieldSchemaJSON struct {
	Type   json.RawMessage `json:"type"`
	Format string          `json:"format,omitempty"`
}

// UnmarshalJSON accepts "type" as a string or an array of strings.
func (f *FieldSchema) UnmarshalJSON(data []byte) error {
	var raw fieldSchemaJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Format = raw.Format
	f.Types = nil

	if len(raw.Type) == 0 {
		return nil
	}

	var single string
	if err := json.Unmarshal(raw.Type, &single); err == nil {
		f.Types = []string{single}
		return nil
	}

	var union []string
	if err := json.Unmarshal(raw.Type, &union); err != nil {
		return fmt.Errorf("invalid field type declaration: %s", string(raw.Type))
	}
	f.Types = union
	return nil
}

// MarshalJSON renders single-candidate types as a plain string.
func (f FieldSchema) MarshalJSON() ([]byte, error) {
	raw := struct {
		Type   interface{} `json:"type"`
		Format string      `json:"format,omitempty"`
	}{Format: f.Format}

	if len(f.Types) == 1 {
		raw.Type = f.Types[0]
	} else {
		raw.Type = f.Types
	}
	return json.Marshal(raw)
}

// Schema is the field catalog for one stream. Field order follows the
// source document and drives the field order of report requests.
type Schema struct {
	Type       string
	FieldOrder []string
	Properties map[string]*FieldSchema
}

// UnmarshalJSON parses the schema while preserving property order, which
// encoding/json's map decoding would discard.
func (s *Schema) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type       string          `json:"type"`
		Properties json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Type = raw.Type
	s.FieldOrder = nil
	s.Properties = make(map[string]*FieldSchema)

	if len(raw.Properties) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw.Properties))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok != json.Delim('{') {
		return fmt.Errorf("schema properties must be an object")
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token in schema properties: %v", tok)
		}

		var field FieldSchema
		if err := dec.Decode(&field); err != nil {
			return fmt.Errorf("invalid schema for field %q: %w", name, err)
		}

		s.FieldOrder = append(s.FieldOrder, name)
		s.Properties[name] = &field
	}
	return nil
}

// MarshalJSON renders the schema with properties in field order.
func (s Schema) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	typ, err := json.Marshal(s.Type)
	if err != nil {
		return nil, err
	}
	buf.Write(typ)
	buf.WriteString(`,"properties":{`)
	for i, name := range s.FieldOrder {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		field, err := json.Marshal(s.Properties[name])
		if err != nil {
			return nil, err
		}
		buf.Write(field)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

// Field returns the schema for a named field, or nil if undeclared.
func (s *Schema) Field(name string) *FieldSchema {
	if s == nil {
		return nil
	}
	return s.Properties[name]
}

// RemoveField drops a field from the schema, preserving the order of the rest.
func (s *Schema) RemoveField(name string) {
	if _, ok := s.Properties[name]; !ok {
		return
	}
	delete(s.Properties, name)
	for i, n := range s.FieldOrder {
		if n == name {
			s.FieldOrder = append(s.FieldOrder[:i], s.FieldOrder[i+1:]...)
			break
		}
	}
}
