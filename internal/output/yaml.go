// internal/output/yaml.go
package output

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// YAMLWriter writes each record as a separate YAML document.
type YAMLWriter struct {
	file    *os.File
	encoder *yaml.Encoder
}

// NewYAMLWriter creates a YAML writer for filename.
func NewYAMLWriter(filename string) (*YAMLWriter, error) {
	if filename == "" {
		return nil, writeErr("yaml", fmt.Errorf("YAML file path is required"))
	}
	file, err := os.Create(filename)
	if err != nil {
		return nil, writeErr("yaml", err)
	}
	w := NewYAMLStreamWriter(file)
	w.file = file
	return w, nil
}

// NewYAMLStreamWriter writes to w, which is not closed by Close.
func NewYAMLStreamWriter(w io.Writer) *YAMLWriter {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	return &YAMLWriter{encoder: encoder}
}

// Write encodes rec as one document.
func (w *YAMLWriter) Write(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return writeErr("yaml", err)
	}
	return writeErr("yaml", w.encoder.Encode(rec))
}

// Close flushes the encoder and closes the file.
func (w *YAMLWriter) Close() error {
	err := w.encoder.Close()
	if w.file != nil {
		if cerr := w.file.Close(); err == nil {
			err = cerr
		}
		w.file = nil
	}
	return writeErr("yaml", err)
}
