// internal/output/json.go
package output

import (
	"context"
	"encoding/json"
	"io"
	"os"
)

// JSONWriter writes each record as an indented JSON document.
type JSONWriter struct {
	w       io.Writer
	file    *os.File
	encoder *json.Encoder
}

// NewJSONWriter creates a JSON writer for filename.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, writeErr("json", err)
	}
	w := NewJSONStreamWriter(file)
	w.file = file
	return w, nil
}

// NewJSONStreamWriter writes to w, which is not closed by Close.
func NewJSONStreamWriter(w io.Writer) *JSONWriter {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return &JSONWriter{w: w, encoder: encoder}
}

// Write encodes rec.
func (w *JSONWriter) Write(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return writeErr("json", err)
	}
	return writeErr("json", w.encoder.Encode(rec))
}

// Close closes the JSON writer
func (w *JSONWriter) Close() error {
	if w.file != nil {
		err := w.file.Close()
		w.file = nil
		return writeErr("json", err)
	}
	return nil
}
