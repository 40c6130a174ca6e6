// cmd/parsz/run.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tycho01/parsz/internal/config"
	"github.com/tycho01/parsz/internal/errors"
	"github.com/tycho01/parsz/internal/monitoring"
	"github.com/tycho01/parsz/internal/output"
	"github.com/tycho01/parsz/internal/parselet"
	"github.com/tycho01/parsz/internal/scraper"
	"github.com/tycho01/parsz/internal/utils"
	"github.com/tycho01/parsz/pkg/api"
	"github.com/tycho01/parsz/pkg/types"
)

const runUsage = "parsz run -p <parselet> -u <url> [options]"

type runOptions struct {
	parselet    string
	url         string
	configFile  string
	output      string
	format      string
	context     string
	optional    bool
	expressions bool
	browser     bool
	verbose     bool
}

func parseRunFlags(name, usage string, args []string, stderr io.Writer) (*runOptions, error) {
	var o runOptions
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&o.parselet, "p", "", "parselet file")
	fs.StringVar(&o.parselet, "parselet", "", "parselet file")
	fs.StringVar(&o.url, "u", "", "page URL")
	fs.StringVar(&o.url, "url", "", "page URL")
	fs.StringVar(&o.configFile, "c", "", "configuration file")
	fs.StringVar(&o.configFile, "config", "", "configuration file")
	fs.StringVar(&o.output, "o", "", "output file or connection string")
	fs.StringVar(&o.output, "output", "", "output file or connection string")
	fs.StringVar(&o.format, "f", "", "output format")
	fs.StringVar(&o.format, "format", "", "output format")
	fs.StringVar(&o.context, "context", "", "base URL for relative links")
	fs.BoolVar(&o.optional, "optional", false, "treat every key as optional")
	fs.BoolVar(&o.expressions, "expressions", false, "allow transform expressions")
	fs.BoolVar(&o.browser, "browser", false, "render pages in headless Chrome")
	fs.BoolVar(&o.verbose, "v", false, "verbose output")
	fs.BoolVar(&o.verbose, "verbose", false, "verbose output")

	if err := fs.Parse(args); err != nil {
		return nil, &usageError{msg: err.Error(), usage: usage}
	}
	if fs.NArg() > 0 {
		return nil, &usageError{msg: fmt.Sprintf("unexpected argument %q", fs.Arg(0)), usage: usage}
	}
	if o.parselet == "" {
		return nil, &usageError{msg: "parselet file required", usage: usage}
	}
	if o.url == "" {
		return nil, &usageError{msg: "url required", usage: usage}
	}
	return &o, nil
}

// loadConfig loads the configuration file and applies the command line
// overrides on top of it.
func loadConfig(o *runOptions) (*config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}

	if o.optional {
		cfg.Optional = true
	}
	if o.expressions {
		cfg.AllowExpressions = true
	}
	if o.browser {
		cfg.Browser.Enabled = true
	}
	if o.verbose {
		cfg.LogLevel = "debug"
	}

	switch {
	case o.context != "":
		cfg.Context = o.context
	case cfg.Context == "":
		base, err := utils.BaseContext(o.url)
		if err != nil {
			return nil, fmt.Errorf("%w: url: %v", config.ErrInvalidConfig, err)
		}
		cfg.Context = base
	}

	format := o.format
	if format == "" && o.output != "" {
		if f, ok := types.FormatFromFileName(o.output); ok {
			format = string(f)
		}
	}
	if format != "" {
		cfg.Output.Format = strings.ToLower(format)
	}
	if o.output != "" {
		switch {
		case cfg.Output.Format == config.FormatMongoDB:
			cfg.Output.URI = o.output
		case cfg.Output.IsDatabase():
			cfg.Output.DSN = o.output
		default:
			file, err := outputFile(o.output, o.url, cfg.Output.Format)
			if err != nil {
				return nil, err
			}
			cfg.Output.File = file
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// outputFile returns target, or a generated file name inside target when
// target is a directory or ends with a path separator.
func outputFile(target, pageURL, format string) (string, error) {
	info, err := os.Stat(target)
	isDir := err == nil && info.IsDir()
	if !isDir && !strings.HasSuffix(target, string(os.PathSeparator)) && !strings.HasSuffix(target, "/") {
		return target, nil
	}
	if err := os.MkdirAll(target, 0755); err != nil {
		return "", &output.WriteError{Format: format, Err: err}
	}
	ext := strings.TrimPrefix(types.OutputFormat(format).GetFileExtension(), ".")
	if ext == "" {
		ext = format
	}
	return filepath.Join(target, utils.GenerateOutputFileName(pageURL, ext, time.Now())), nil
}

func newLogger(cfg *config.Config) (utils.Logger, error) {
	level, err := utils.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	return utils.NewLoggerWithLevel(level, true)
}

// job is one configured extraction: a client plus the target.
type job struct {
	opts    *runOptions
	cfg     *config.Config
	client  *api.Client
	logger  utils.Logger
	metrics *monitoring.Metrics
}

func newJob(o *runOptions) (*job, error) {
	cfg, err := loadConfig(o)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	var metrics *monitoring.Metrics
	if cfg.Metrics.Enabled {
		metrics = monitoring.NewMetrics(monitoring.MetricsConfig{Namespace: cfg.Metrics.Namespace})
	}

	client, err := api.NewClient(cfg, api.WithLogger(logger), api.WithMetrics(metrics))
	if err != nil {
		return nil, err
	}
	return &job{opts: o, cfg: cfg, client: client, logger: logger, metrics: metrics}, nil
}

// execute loads the parselet, extracts it and writes the result.
func (j *job) execute(ctx context.Context, stdout io.Writer) error {
	schema, err := parselet.Load(j.opts.parselet)
	if err != nil {
		return err
	}

	res, err := j.client.ExtractURL(ctx, schema, j.opts.url)
	if err != nil {
		return err
	}

	for _, d := range res.Diagnostics {
		j.logger.WithFields(map[string]interface{}{
			"path":   d.Path,
			"reason": d.Reason,
		}).Warn(diagnosticMessage(d))
	}
	j.logger.WithFields(map[string]interface{}{
		"url":         res.URL,
		"fetches":     res.Metadata.RemoteFetches,
		"diagnostics": len(res.Diagnostics),
		"duration":    res.Metadata.RequestDuration + res.Metadata.ExtractionDuration,
	}).Debug("extraction finished")

	if j.writesToSink() {
		return j.writeRecord(ctx, res, stdout)
	}
	return printData(stdout, j.cfg.Output.Format, res.Data)
}

func diagnosticMessage(d scraper.Diagnostic) string {
	if d.Message != "" {
		return d.Message
	}
	return d.Reason
}

// writesToSink reports whether results go through an output.Writer rather
// than straight to stdout.
func (j *job) writesToSink() bool {
	out := j.cfg.Output
	return out.File != "" || !types.OutputFormat(out.Format).IsFile()
}

func (j *job) writeRecord(ctx context.Context, res *scraper.ScrapingResult, stdout io.Writer) error {
	out := j.cfg.Output
	oc := output.Config{
		Format:     out.Format,
		File:       out.File,
		DSN:        out.DSN,
		Table:      out.Table,
		URI:        out.URI,
		Database:   out.Database,
		Collection: out.Collection,
	}

	var w output.Writer
	retry := errors.NewService()
	err := retry.ExecuteWithRetry(ctx, func() error {
		var err error
		w, err = output.New(ctx, oc, stdout, j.metrics)
		return err
	}, "open "+out.Format+" output")
	if err != nil {
		return err
	}

	if err := w.Write(ctx, output.NewRecord(res.URL, res.Data)); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	target := out.File
	if target == "" {
		target = out.Format
	}
	j.logger.Infof("result written to %s", target)
	return nil
}

// printData writes the extracted object to stdout as indented JSON or YAML.
func printData(w io.Writer, format string, data *parselet.Object) error {
	if format == config.FormatYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return &output.WriteError{Format: format, Err: err}
		}
		return enc.Close()
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return &output.WriteError{Format: config.FormatJSON, Err: err}
	}
	return nil
}

func (j *job) close() {
	j.client.Close()
	if zl, ok := j.logger.(*utils.ZapLogger); ok {
		zl.Sync()
	}
}

// runExtraction implements "parsz run".
func runExtraction(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, err := parseRunFlags("run", runUsage, args, stderr)
	if err != nil {
		return err
	}
	j, err := newJob(o)
	if err != nil {
		return err
	}
	defer j.close()
	return j.execute(ctx, stdout)
}

const watchUsage = "parsz watch -p <parselet> -u <url> [options]"

// watchParselet implements "parsz watch": extract once, then again every
// time the parselet file changes, until ctx is cancelled. Errors after the
// first run are reported without stopping the watch.
func watchParselet(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, err := parseRunFlags("watch", watchUsage, args, stderr)
	if err != nil {
		return err
	}
	j, err := newJob(o)
	if err != nil {
		return err
	}
	defer j.close()

	if err := j.execute(ctx, stdout); err != nil {
		return err
	}

	watcher, err := config.NewFileWatcher(j.logger, o.parselet)
	if err != nil {
		return err
	}
	defer watcher.Close()

	errorService := errors.NewService().WithVerbose(o.verbose)
	var mu sync.Mutex
	watcher.OnChange(func(path string) {
		mu.Lock()
		defer mu.Unlock()
		j.logger.Infof("%s changed, re-running", path)
		if err := j.execute(ctx, stdout); err != nil {
			fmt.Fprint(stderr, errorService.FormatErrorForCLI(err))
		}
	})

	j.logger.Infof("watching %s", o.parselet)
	<-ctx.Done()
	return nil
}
