// cmd/parsz/main.go - parselet extraction CLI
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/tycho01/parsz/internal/errors"
)

// Version information (set by build flags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run dispatches a subcommand and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return errors.ExitGeneral
	}

	var err error
	command, rest := args[0], args[1:]
	errorService := errors.NewService().WithVerbose(hasFlag(rest, "-v") || hasFlag(rest, "--verbose"))

	switch command {
	case "run":
		err = runExtraction(ctx, rest, stdout, stderr)

	case "validate":
		err = validateParselets(rest, stdout)

	case "watch":
		err = watchParselet(ctx, rest, stdout, stderr)

	case "version", "--version":
		printVersion(stdout)

	case "help", "--help", "-h":
		printUsage(stdout)

	default:
		fmt.Fprintf(stderr, "Error: unknown command '%s'\n", command)
		printUsage(stderr)
		return errors.ExitGeneral
	}

	if err != nil {
		if ue, ok := err.(*usageError); ok {
			fmt.Fprintf(stderr, "Error: %s\n", ue.msg)
			fmt.Fprintf(stderr, "Usage: %s\n", ue.usage)
			return errors.ExitGeneral
		}
		fmt.Fprint(stderr, errorService.FormatErrorForCLI(err))
		return errorService.GetExitCode(err)
	}
	return errors.ExitOK
}

type usageError struct {
	msg   string
	usage string
}

func (e *usageError) Error() string { return e.msg }

// hasFlag checks if a flag is present in command line arguments
func hasFlag(args []string, flag string) bool {
	for _, arg := range args {
		if arg == flag {
			return true
		}
	}
	return false
}

// printUsage displays help information
func printUsage(w io.Writer) {
	fmt.Fprintln(w, "parsz - declarative HTML extraction with parselets")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  parsz run -p <parselet> -u <url> [options]   Extract a parselet from a URL")
	fmt.Fprintln(w, "  parsz validate <glob>...                      Check parselet files")
	fmt.Fprintln(w, "  parsz watch -p <parselet> -u <url> [options] Re-run on every parselet change")
	fmt.Fprintln(w, "  parsz version                                 Show version information")
	fmt.Fprintln(w, "  parsz help                                    Show this help message")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fmt.Fprintln(w, "  -p, --parselet <file>    Parselet file (YAML or JSON)")
	fmt.Fprintln(w, "  -u, --url <url>          Page to extract from")
	fmt.Fprintln(w, "  -c, --config <file>      Configuration file")
	fmt.Fprintln(w, "  -o, --output <target>    Output file, or connection string for databases")
	fmt.Fprintln(w, "  -f, --format <format>    json, yaml, excel, sqlite, postgres, mysql, mssql, mongodb")
	fmt.Fprintln(w, "      --context <url>      Base URL for relative links (default: scheme://host of --url)")
	fmt.Fprintln(w, "      --optional           Treat every key as optional")
	fmt.Fprintln(w, "      --expressions        Allow transform expressions")
	fmt.Fprintln(w, "      --browser            Render pages in headless Chrome")
	fmt.Fprintln(w, "  -v, --verbose            Enable verbose output")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Exit codes:")
	fmt.Fprintln(w, "  1 general, 2 configuration, 3 fetch, 4 parselet grammar, 5 output, 6 transform")
}

// printVersion displays version information
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "parsz %s\n", version)
	fmt.Fprintf(w, "Build time: %s\n", buildTime)
	fmt.Fprintf(w, "Git commit: %s\n", gitCommit)
}
