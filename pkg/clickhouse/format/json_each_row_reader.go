// Package format encodes rows for ClickHouse input formats.
package format

import (
	"bytes"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// RowError reports the row that could not be encoded.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("failed to encode row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// JSONEachRowReader reads values as JSONEachRow: one JSON document per line.
// Rows are encoded one at a time while the reader is drained.
type JSONEachRowReader struct {
	values []any
	next   int
	buf    bytes.Buffer
	err    error
}

func NewJSONEachRowReader(values []any) *JSONEachRowReader {
	return &JSONEachRowReader{values: values}
}

// Len returns the number of rows.
func (r *JSONEachRowReader) Len() int {
	return len(r.values)
}

func (r *JSONEachRowReader) Read(p []byte) (int, error) {
	for r.buf.Len() == 0 {
		if r.err != nil {
			return 0, r.err
		}
		if r.next >= len(r.values) {
			return 0, io.EOF
		}
		r.encodeNext()
	}
	return r.buf.Read(p)
}

func (r *JSONEachRowReader) encodeNext() {
	data, err := json.Marshal(r.values[r.next])
	if err != nil {
		r.err = &RowError{Row: r.next, Err: err}
		return
	}

	if r.next > 0 {
		r.buf.WriteByte('\n')
	}
	r.buf.Write(data)
	r.next++
}
