// Package singer emits tap output as Singer protocol messages: one JSON
// object per line on the output stream.
// https://github.com/singer-io/getting-started/blob/master/docs/SPEC.md
package singer

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/singer-io/tap-gemini/internal/catalog"
	"github.com/singer-io/tap-gemini/internal/state"
)

// Writer serializes Singer messages. A single mutex keeps lines whole
// when streams are synced in parallel.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewWriter creates a message writer, normally over stdout.
func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

type schemaMessage struct {
	Type          string          `json:"type"`
	Stream        string          `json:"stream"`
	Schema        *catalog.Schema `json:"schema"`
	KeyProperties []string        `json:"key_properties"`
}

type recordMessage struct {
	Type          string                 `json:"type"`
	Stream        string                 `json:"stream"`
	Record        map[string]interface{} `json:"record"`
	TimeExtracted string                 `json:"time_extracted"`
}

type stateMessage struct {
	Type  string       `json:"type"`
	Value *state.State `json:"value"`
}

// WriteSchema emits a SCHEMA message for a stream.
func (w *Writer) WriteSchema(stream *catalog.Stream) error {
	keyProperties := stream.KeyProperties
	if keyProperties == nil {
		keyProperties = []string{}
	}
	return w.write(schemaMessage{
		Type:          "SCHEMA",
		Stream:        stream.ID,
		Schema:        stream.Schema,
		KeyProperties: keyProperties,
	})
}

// WriteRecord emits a RECORD message.
func (w *Writer) WriteRecord(streamID string, record map[string]interface{}, timeExtracted time.Time) error {
	return w.write(recordMessage{
		Type:          "RECORD",
		Stream:        streamID,
		Record:        record,
		TimeExtracted: timeExtracted.UTC().Format(time.RFC3339),
	})
}

// WriteState emits a STATE message carrying the full bookmark map.
func (w *Writer) WriteState(s *state.State) error {
	return w.write(stateMessage{Type: "STATE", Value: s})
}

func (w *Writer) write(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to encode singer message: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write singer message: %w", err)
	}
	return nil
}
