// internal/parselet/key.go
package parselet

import (
	"fmt"
	"strings"
)

// GrammarVersion identifies the specifier grammar implemented by ParseKey and
// ParseValue. Version 2 adds optional markers and void keys to the
// name(scope)~(link) form.
const GrammarVersion = 2

const (
	// IdentitySelector keeps the current scope without querying.
	IdentitySelector = "."

	// VoidName is the key name that emits no output property. Its scope
	// re-roots the nested mapping, whose keys are spliced into the parent.
	VoidName = "--"
)

// Key is the metadata encoded in an object key:
//
//	name [ "?" ] [ "(" scope ")" ] [ "~" "(" link ")" ]
type Key struct {
	Name     string
	Scope    string
	Link     string
	Optional bool
}

// IsRemote reports whether the key dereferences a linked document.
func (k Key) IsRemote() bool {
	return k.Link != ""
}

// IsVoid reports whether the key is a scope-only splice key.
func (k Key) IsVoid() bool {
	return k.Name == VoidName
}

func (k Key) String() string {
	var b strings.Builder
	b.WriteString(k.Name)
	if k.Optional {
		b.WriteByte('?')
	}
	if k.Scope != "" {
		b.WriteString("(" + k.Scope + ")")
	}
	if k.Link != "" {
		b.WriteString("~(" + k.Link + ")")
	}
	return b.String()
}

// ParseKey parses a key specifier. Selectors inside the parentheses may
// themselves contain balanced parentheses and quoted strings, so keys like
// "items(li:not(.ad))" are accepted.
func ParseKey(s string) (Key, error) {
	var k Key

	i := 0
	for i < len(s) && isNameByte(s[i]) {
		i++
	}
	if i == 0 {
		return Key{}, keyError(s, 0, "missing field name")
	}
	k.Name = s[:i]

	if i < len(s) && s[i] == '?' {
		k.Optional = true
		i++
	}

	if i < len(s) && s[i] == '(' {
		scope, next, err := scanGroup(s, i)
		if err != nil {
			return Key{}, err
		}
		k.Scope = strings.TrimSpace(scope)
		i = next
	}

	if i < len(s) && s[i] == '~' {
		if i+1 >= len(s) || s[i+1] != '(' {
			return Key{}, keyError(s, i, "expected '(' after '~'")
		}
		link, next, err := scanGroup(s, i+1)
		if err != nil {
			return Key{}, err
		}
		link = strings.TrimSpace(link)
		if link == "" {
			return Key{}, keyError(s, i, "empty link selector")
		}
		k.Link = link
		i = next
	}

	if i != len(s) {
		return Key{}, keyError(s, i, fmt.Sprintf("unexpected %q", s[i]))
	}
	return k, nil
}

// scanGroup reads the parenthesised group opening at s[open] and returns its
// contents and the offset just past the closing parenthesis.
func scanGroup(s string, open int) (string, int, error) {
	depth := 0
	var quote byte
	for i := open; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return s[open+1 : i], i + 1, nil
			}
		}
	}
	if quote != 0 {
		return "", 0, keyError(s, open, "unterminated quoted string")
	}
	return "", 0, keyError(s, open, "unbalanced parentheses")
}

func isNameByte(c byte) bool {
	return c == '_' || c == '-' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
