// Package transform casts raw report values into the types their stream
// schema declares, ready for JSON output.
package transform

import (
	"fmt"
	"strconv"
	"time"

	"github.com/singer-io/tap-gemini/internal/catalog"
)

// TypeCastError is a value that could not be parsed as its declared
// type. Carries the field name and raw value so operators can diagnose
// schema/data mismatches.
type TypeCastError struct {
	Field string
	Value string
	Type  string
	Err   error
}

func (e *TypeCastError) Error() string {
	return fmt.Sprintf("field %q: cannot cast %q to %s: %v", e.Field, e.Value, e.Type, e.Err)
}

func (e *TypeCastError) Unwrap() error {
	return e.Err
}

// UnknownTypeError is a schema declaring a type the caster does not
// implement.
type UnknownTypeError struct {
	Field string
	Type  string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("field %q: unknown data type %q", e.Field, e.Type)
}

// AmbiguousTypeError is a schema declaring more than one non-null
// candidate type for a field. A configuration error: guessing a "most
// specific" type would silently change output types between runs.
type AmbiguousTypeError struct {
	Field string
	Types []string
}

func (e *AmbiguousTypeError) Error() string {
	return fmt.Sprintf("field %q: ambiguous union type %v declares multiple non-null candidates", e.Field, e.Types)
}

// timestampLayouts are accepted input formats for date-time fields, most
// specific first. Report data carries bare dates; object listings carry
// full RFC 3339 instants.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// resolveType picks the effective type from a union declaration. "null"
// is removed when more than one candidate remains; more than one non-null
// candidate is a configuration error.
func resolveType(field string, types []string) (string, error) {
	if len(types) == 0 {
		return "", &UnknownTypeError{Field: field, Type: ""}
	}
	if len(types) == 1 {
		return types[0], nil
	}

	var candidates []string
	for _, t := range types {
		if t != "null" {
			candidates = append(candidates, t)
		}
	}
	switch len(candidates) {
	case 0:
		return "null", nil
	case 1:
		return candidates[0], nil
	default:
		return "", &AmbiguousTypeError{Field: field, Types: types}
	}
}

// CastValue converts one raw string value to the type its field schema
// declares. Empty values are treated as missing and stay null.
func CastValue(field, raw string, schema *catalog.FieldSchema) (interface{}, error) {
	if raw == "" {
		return nil, nil
	}

	dataType, err := resolveType(field, schema.Types)
	if err != nil {
		return nil, err
	}

	switch dataType {
	case "null":
		return nil, nil

	case "string":
		if schema.Format == "date-time" {
			return castTimestamp(field, raw)
		}
		return raw, nil

	case "integer":
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, &TypeCastError{Field: field, Value: raw, Type: "integer", Err: err}
		}
		return value, nil

	case "number":
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &TypeCastError{Field: field, Value: raw, Type: "number", Err: err}
		}
		return value, nil

	default:
		return nil, &UnknownTypeError{Field: field, Type: dataType}
	}
}

// castTimestamp parses a date-time value and re-renders it canonically as
// RFC 3339 in UTC.
func castTimestamp(field, raw string) (string, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().Format(time.RFC3339), nil
		}
	}
	return "", &TypeCastError{
		Field: field,
		Value: raw,
		Type:  "date-time",
		Err:   fmt.Errorf("unrecognized timestamp format"),
	}
}

// CastRow converts a raw report row (all string values, keyed by header
// name) into a typed record. Every field must be declared in the schema;
// failures propagate with the offending field attached rather than being
// silently coerced.
func CastRow(row map[string]string, schema *catalog.Schema) (map[string]interface{}, error) {
	record := make(map[string]interface{}, len(row))
	for field, raw := range row {
		fieldSchema := schema.Field(field)
		if fieldSchema == nil {
			return nil, fmt.Errorf("field %q is not declared in the stream schema", field)
		}

		value, err := CastValue(field, raw, fieldSchema)
		if err != nil {
			return nil, err
		}
		record[field] = value
	}
	return record, nil
}

// CastRecord converts a listed object into a typed record. String values
// are cast per schema; values the API already delivers as JSON types pass
// through. Fields the schema does not declare are returned in a separate
// extra mapping instead of becoming first-class record fields.
func CastRecord(object map[string]interface{}, schema *catalog.Schema) (record, extra map[string]interface{}, err error) {
	record = make(map[string]interface{}, len(object))
	extra = make(map[string]interface{})

	for field, value := range object {
		fieldSchema := schema.Field(field)
		if fieldSchema == nil {
			extra[field] = value
			continue
		}

		raw, isString := value.(string)
		if !isString {
			record[field] = value
			continue
		}

		cast, err := CastValue(field, raw, fieldSchema)
		if err != nil {
			return nil, nil, err
		}
		record[field] = cast
	}
	return record, extra, nil
}
