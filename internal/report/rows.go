package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/apex/log"
)

// Rows streams the data rows of a downloaded report. Single pass: iterate
// with Next, read the positioned row with Row, then check Err. Count and
// Elapsed are valid after exhaustion and do not interfere with iteration.
type Rows struct {
	body    io.ReadCloser
	reader  *csv.Reader
	header  []string
	current map[string]string
	count   int
	started time.Time
	elapsed time.Duration
	err     error
	closed  bool
}

// newRows parses the header row and prepares the stream for iteration.
func newRows(body io.ReadCloser, started time.Time) (*Rows, error) {
	reader := csv.NewReader(body)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		body.Close()
		if err == io.EOF {
			return nil, fmt.Errorf("report data is empty: missing header row")
		}
		return nil, fmt.Errorf("failed to parse report header: %w", err)
	}

	return &Rows{
		body:    body,
		reader:  reader,
		header:  header,
		started: started,
	}, nil
}

// Header returns the report's column names in file order.
func (r *Rows) Header() []string {
	return r.header
}

// Next advances to the next data row, returning false at the end of the
// stream or on error.
func (r *Rows) Next() bool {
	if r.err != nil || r.closed {
		return false
	}

	record, err := r.reader.Read()
	if err == io.EOF {
		r.finish()
		return false
	}
	if err != nil {
		r.err = fmt.Errorf("failed to parse report row %d: %w", r.count+1, err)
		r.finish()
		return false
	}

	if len(record) != len(r.header) {
		log.WithFields(log.Fields{
			"row":    r.count + 1,
			"fields": len(record),
			"header": len(r.header),
		}).Warn("report row width disagrees with header")
	}

	row := make(map[string]string, len(r.header))
	for i, name := range r.header {
		if i < len(record) {
			row[name] = record[i]
		}
	}
	r.current = row
	r.count++
	return true
}

// Row returns the row positioned by the last call to Next, keyed by
// header field name.
func (r *Rows) Row() map[string]string {
	return r.current
}

// Err returns the first error encountered while streaming.
func (r *Rows) Err() error {
	return r.err
}

// Count returns the number of data rows read so far.
func (r *Rows) Count() int {
	return r.count
}

// Elapsed returns the time from job submission to the end of streaming,
// or to now while the stream is still open.
func (r *Rows) Elapsed() time.Duration {
	if r.closed {
		return r.elapsed
	}
	return time.Since(r.started)
}

// Close releases the underlying response body. Safe to call twice.
func (r *Rows) Close() error {
	if r.closed {
		return nil
	}
	r.finish()
	return nil
}

func (r *Rows) finish() {
	r.closed = true
	r.elapsed = time.Since(r.started)
	r.body.Close()
}
