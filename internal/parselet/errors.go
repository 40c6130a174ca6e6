// internal/parselet/errors.go
package parselet

import "fmt"

// Grammar error kinds.
const (
	KindKey      = "key"
	KindValue    = "value"
	KindSelector = "selector"
	KindSchema   = "schema"
)

// GrammarError reports a specifier or schema node that does not match the
// parselet grammar. Parselets are authored by developers, so a GrammarError
// is never recovered from during extraction.
type GrammarError struct {
	Kind   string
	Input  string
	Pos    int // byte offset into Input, -1 when not applicable
	Reason string
}

func (e *GrammarError) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("invalid %s specifier %q at offset %d: %s", e.Kind, e.Input, e.Pos, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Kind, e.Input, e.Reason)
}

func keyError(input string, pos int, reason string) *GrammarError {
	return &GrammarError{Kind: KindKey, Input: input, Pos: pos, Reason: reason}
}

func valueError(input string, pos int, reason string) *GrammarError {
	return &GrammarError{Kind: KindValue, Input: input, Pos: pos, Reason: reason}
}

func schemaError(path, reason string) *GrammarError {
	return &GrammarError{Kind: KindSchema, Input: path, Pos: -1, Reason: reason}
}
