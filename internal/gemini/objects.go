package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// listPageSize is the maximum number of objects requested per page.
const listPageSize = 500

// timestampFields are delivered by the API as millisecond epoch integers
// on every object kind and are normalized to UTC instants.
// https://developer.yahoo.com/nativeandsearch/guide/objects.html
var timestampFields = map[string]struct{}{
	"createdDate":    {},
	"lastUpdateDate": {},
}

// ObjectList pages through the objects of one API edge. It is a single
// pass iterator in the style of sql.Rows: call Next until it returns
// false, then check Err.
type ObjectList struct {
	session *Session
	edge    string
	page    []map[string]interface{}
	index   int
	offset  int
	done    bool
	current map[string]interface{}
	err     error
}

// ListObjects returns a paginated listing over an entity edge. These are
// full dimension snapshots: no bookmark semantics apply.
func (s *Session) ListObjects(edge string) *ObjectList {
	return &ObjectList{session: s, edge: edge}
}

// Next advances to the next object, fetching pages on demand.
func (l *ObjectList) Next(ctx context.Context) bool {
	if l.err != nil {
		return false
	}

	for l.index >= len(l.page) {
		if l.done {
			return false
		}
		if err := l.fetchPage(ctx); err != nil {
			l.err = err
			return false
		}
	}

	l.current = l.page[l.index]
	l.index++
	return true
}

// Object returns the record positioned by the last call to Next.
func (l *ObjectList) Object() map[string]interface{} {
	return l.current
}

// Err returns the first error encountered while listing.
func (l *ObjectList) Err() error {
	return l.err
}

func (l *ObjectList) fetchPage(ctx context.Context) error {
	params := url.Values{
		"mr": {strconv.Itoa(listPageSize)},
	}
	if l.offset > 0 {
		params.Set("si", strconv.Itoa(l.offset))
	}

	payload, err := l.session.Call(ctx, "GET", l.edge, params, nil)
	if err != nil {
		return fmt.Errorf("failed to list %s objects: %w", l.edge, err)
	}

	var objects []map[string]interface{}
	if err := json.Unmarshal(payload, &objects); err != nil {
		return fmt.Errorf("failed to decode %s objects: %w", l.edge, err)
	}

	for _, obj := range objects {
		normalizeTimestamps(obj)
	}

	l.page = objects
	l.index = 0
	l.offset += len(objects)
	if len(objects) < listPageSize {
		l.done = true
	}
	return nil
}

// normalizeTimestamps converts millisecond epoch fields to RFC 3339 UTC
// strings in place.
func normalizeTimestamps(obj map[string]interface{}) {
	for key := range timestampFields {
		raw, ok := obj[key]
		if !ok || raw == nil {
			continue
		}

		var millis int64
		switch v := raw.(type) {
		case float64:
			millis = int64(v)
		case json.Number:
			parsed, err := v.Int64()
			if err != nil {
				continue
			}
			millis = parsed
		default:
			continue
		}

		obj[key] = time.UnixMilli(millis).UTC().Format(time.RFC3339)
	}
}
