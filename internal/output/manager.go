// internal/output/manager.go
package output

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/tycho01/parsz/internal/monitoring"
)

// New returns the writer for cfg.Format. The json and yaml formats write to
// stdout when cfg.File is empty.
func New(ctx context.Context, cfg Config, stdout io.Writer, metrics *monitoring.Metrics) (Writer, error) {
	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = "json"
	}

	var (
		w   Writer
		err error
	)
	switch {
	case format == "json" && cfg.File == "":
		w = NewJSONStreamWriter(stdout)
	case format == "json":
		w, err = NewJSONWriter(cfg.File)
	case format == "yaml" && cfg.File == "":
		w = NewYAMLStreamWriter(stdout)
	case format == "yaml":
		w, err = NewYAMLWriter(cfg.File)
	case format == "excel":
		w, err = NewExcelWriter(cfg.File)
	case isSQLFormat(format):
		w, err = NewSQLWriter(ctx, format, cfg.DSN, cfg.Table)
	case format == "mongodb":
		w, err = NewMongoDBWriter(ctx, cfg.URI, cfg.Database, cfg.Collection)
	default:
		return nil, writeErr(format, fmt.Errorf("unsupported output format"))
	}
	if err != nil {
		return nil, err
	}
	return &countingWriter{Writer: w, format: format, metrics: metrics}, nil
}

// countingWriter records successful writes in metrics.
type countingWriter struct {
	Writer
	format  string
	metrics *monitoring.Metrics
}

func (c *countingWriter) Write(ctx context.Context, rec Record) error {
	if err := c.Writer.Write(ctx, rec); err != nil {
		return err
	}
	c.metrics.RecordWrite(c.format)
	return nil
}

// Ping delegates to the wrapped writer when it is a Pinger.
func (c *countingWriter) Ping(ctx context.Context) error {
	if p, ok := c.Writer.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
