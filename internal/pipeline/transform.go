// internal/pipeline/transform.go
package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Func is a one-argument transform applied to an extracted value.
type Func func(v any) (any, error)

// Registry maps transform names to functions.
type Registry map[string]Func

// TransformNotFoundError is returned when a transform specifier does not
// resolve to a registered name or a callable expression.
type TransformNotFoundError struct {
	Name string
	Err  error
}

func (e *TransformNotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transform %q not found: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("transform %q not found", e.Name)
}

func (e *TransformNotFoundError) Unwrap() error { return e.Err }

// TransformError is returned when a resolved transform fails.
type TransformError struct {
	Name string
	Err  error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %q failed: %v", e.Name, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

var (
	identRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)
	chainRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*(\s*\|\s*[A-Za-z_$][A-Za-z0-9_$]*)+$`)
)

// DefaultRegistry returns a fresh registry holding the builtin transforms.
func DefaultRegistry() Registry {
	r := make(Registry, len(builtins))
	for name, fn := range builtins {
		r[name] = fn
	}
	return r
}

// Clone returns a shallow copy of r.
func (r Registry) Clone() Registry {
	c := make(Registry, len(r))
	for name, fn := range r {
		c[name] = fn
	}
	return c
}

// Register adds or replaces a transform.
func (r Registry) Register(name string, fn Func) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("invalid transform name %q", name)
	}
	if fn == nil {
		return fmt.Errorf("transform %q: nil function", name)
	}
	r[name] = fn
	return nil
}

// Lookup returns the transform registered under name.
func (r Registry) Lookup(name string) (Func, error) {
	fn, ok := r[name]
	if !ok {
		return nil, &TransformNotFoundError{Name: name}
	}
	return fn, nil
}

// Names returns the registered names, sorted.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply resolves specifier against reg and calls it with raw. An empty
// specifier and an empty raw value both return raw unchanged.
//
// A bare identifier is a registry lookup and "a | b" applies a then b. Any
// other text is a JavaScript function expression, evaluated in a sandbox
// only when allowExpr is set; otherwise it is reported as not found.
func Apply(ctx context.Context, specifier string, raw any, reg Registry, allowExpr bool) (any, error) {
	specifier = strings.TrimSpace(specifier)
	if specifier == "" || isEmpty(raw) {
		return raw, nil
	}

	switch {
	case identRe.MatchString(specifier):
		return call(reg, specifier, raw)

	case chainRe.MatchString(specifier):
		v := raw
		for _, name := range strings.Split(specifier, "|") {
			if isEmpty(v) {
				return v, nil
			}
			var err error
			if v, err = call(reg, strings.TrimSpace(name), v); err != nil {
				return nil, err
			}
		}
		return v, nil
	}

	if !allowExpr {
		return nil, &TransformNotFoundError{Name: specifier, Err: ErrExpressionsDisabled}
	}
	return evalExpression(ctx, specifier, raw, reg)
}

func call(reg Registry, name string, v any) (any, error) {
	fn, err := reg.Lookup(name)
	if err != nil {
		return nil, err
	}
	out, err := fn(v)
	if err != nil {
		return nil, &TransformError{Name: name, Err: err}
	}
	return out, nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	}
	return false
}
