// internal/output/types.go
package output

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tycho01/parsz/internal/parselet"
)

// Record is one extraction result as it is written to a sink.
type Record struct {
	ID          uuid.UUID        `json:"id" yaml:"id"`
	URL         string           `json:"url" yaml:"url"`
	ExtractedAt time.Time        `json:"extracted_at" yaml:"extracted_at"`
	Data        *parselet.Object `json:"data" yaml:"data"`
}

// NewRecord stamps data with a fresh ID and the current time.
func NewRecord(url string, data *parselet.Object) Record {
	return Record{
		ID:          uuid.New(),
		URL:         url,
		ExtractedAt: time.Now().UTC(),
		Data:        data,
	}
}

// Writer writes records to a sink. Implementations are not required to be
// safe for concurrent use.
type Writer interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

// Pinger is implemented by writers backed by a database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WriteError reports a failed sink operation.
type WriteError struct {
	Format string
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s output: %v", e.Format, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func writeErr(format string, err error) error {
	if err == nil {
		return nil
	}
	return &WriteError{Format: format, Err: err}
}

// Config selects and configures a sink. Format names match the config
// package's output formats.
type Config struct {
	Format     string
	File       string
	DSN        string
	Table      string
	URI        string
	Database   string
	Collection string
}
