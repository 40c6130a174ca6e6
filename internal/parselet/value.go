// internal/parselet/value.go
package parselet

import (
	"fmt"
	"strings"
)

// Value is the metadata encoded in a leaf specifier:
//
//	[ selector ] [ "@" attribute ] [ "|" transform ]
//
// An empty Selector means the current scope, an empty Attribute means the
// text content and an empty Transform means the raw value is kept.
type Value struct {
	Selector  string
	Attribute string
	Transform string
}

func (v Value) String() string {
	s := v.Selector
	if v.Attribute != "" {
		s += "@" + v.Attribute
	}
	if v.Transform != "" {
		s += "|" + v.Transform
	}
	return s
}

// ParseValue parses a leaf specifier. The selector ends at the first '@' or
// '|' found outside brackets, parentheses and quotes, so attribute selectors
// such as "[lang|=en]" stay part of the selector.
func ParseValue(s string) (Value, error) {
	var v Value

	end, err := scanSelector(s)
	if err != nil {
		return Value{}, err
	}
	v.Selector = strings.TrimSpace(s[:end])

	i := end
	if i < len(s) && s[i] == '@' {
		j := i + 1
		for j < len(s) && isAttrByte(s[j]) {
			j++
		}
		if j == i+1 {
			return Value{}, valueError(s, i, "missing attribute name after '@'")
		}
		v.Attribute = s[i+1 : j]
		for j < len(s) && s[j] == ' ' {
			j++
		}
		i = j
	}

	if i < len(s) {
		if s[i] != '|' {
			return Value{}, valueError(s, i, fmt.Sprintf("unexpected %q", s[i]))
		}
		v.Transform = strings.TrimSpace(s[i+1:])
		if v.Transform == "" {
			return Value{}, valueError(s, i, "missing transform after '|'")
		}
	}
	return v, nil
}

// scanSelector returns the offset of the first '@' or '|' at nesting depth
// zero, or len(s) when the whole string is a selector.
func scanSelector(s string) (int, error) {
	var stack []byte
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '[' || c == '(':
			stack = append(stack, c)
		case c == ']' || c == ')':
			if len(stack) == 0 || !matches(stack[len(stack)-1], c) {
				return 0, valueError(s, i, fmt.Sprintf("unbalanced %q", c))
			}
			stack = stack[:len(stack)-1]
		case (c == '@' || c == '|') && len(stack) == 0:
			return i, nil
		}
	}
	if quote != 0 {
		return 0, valueError(s, len(s), "unterminated quoted string")
	}
	if len(stack) > 0 {
		return 0, valueError(s, len(s), fmt.Sprintf("unclosed %q", stack[len(stack)-1]))
	}
	return len(s), nil
}

func matches(open, closing byte) bool {
	return (open == '[' && closing == ']') || (open == '(' && closing == ')')
}

func isAttrByte(c byte) bool {
	return isNameByte(c) || c == ':'
}
