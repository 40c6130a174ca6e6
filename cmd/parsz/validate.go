// cmd/parsz/validate.go
package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/tycho01/parsz/internal/parselet"
)

const validateUsage = "parsz validate <glob>..."

// validateParselets implements "parsz validate". Every file matched by the
// patterns is parsed and its specifiers checked; all files are reported
// before the first failure is returned.
func validateParselets(args []string, stdout io.Writer) error {
	var patterns []string
	for _, a := range args {
		if a != "-v" && a != "--verbose" {
			patterns = append(patterns, a)
		}
	}
	if len(patterns) == 0 {
		return &usageError{msg: "at least one parselet file or pattern required", usage: validateUsage}
	}

	seen := make(map[string]bool)
	var files []string
	for _, pattern := range patterns {
		if !doublestar.ValidatePathPattern(pattern) {
			return &usageError{msg: fmt.Sprintf("invalid pattern %q", pattern), usage: validateUsage}
		}
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return fmt.Errorf("glob %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			return fmt.Errorf("no parselet files match %q", pattern)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)

	var failures []error
	for _, file := range files {
		if _, err := parselet.Load(file); err != nil {
			fmt.Fprintf(stdout, "✗ %s\n    %v\n", file, err)
			failures = append(failures, err)
			continue
		}
		fmt.Fprintf(stdout, "✓ %s\n", file)
	}

	if len(failures) > 0 {
		return fmt.Errorf("%d of %d parselets are invalid: %w", len(failures), len(files), failures[0])
	}
	return nil
}
