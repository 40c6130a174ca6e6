// internal/pipeline/expr.go
package pipeline

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/dop251/goja"
)

// ErrExpressionsDisabled is wrapped by TransformNotFoundError when a
// transform specifier is not a registered name and expressions are off.
var ErrExpressionsDisabled = errors.New("transform expressions are disabled")

// ExpressionTimeout bounds a single expression evaluation.
var ExpressionTimeout = 100 * time.Millisecond

const maxCallStackSize = 256

// evalExpression compiles src and runs it in a fresh runtime; nothing
// survives the call. The runtime has no module loader, timers or console.
// The only globals beyond the ECMAScript builtins are the registry
// transforms.
func evalExpression(ctx context.Context, src string, raw any, reg Registry) (any, error) {
	prog, err := goja.Compile("transform", "("+src+")", true)
	if err != nil {
		return nil, &TransformNotFoundError{Name: src, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, ExpressionTimeout)
	defer cancel()

	vm := goja.New()
	vm.SetMaxCallStackSize(maxCallStackSize)
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	for _, name := range reg.Names() {
		if err := vm.Set(name, bind(vm, name, reg[name])); err != nil {
			return nil, &TransformError{Name: src, Err: err}
		}
	}

	v, err := vm.RunProgram(prog)
	if err != nil {
		return nil, &TransformNotFoundError{Name: src, Err: err}
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, &TransformNotFoundError{Name: src, Err: errors.New("expression is not a function")}
	}

	out, err := fn(goja.Undefined(), vm.ToValue(raw))
	if err != nil {
		return nil, &TransformError{Name: src, Err: err}
	}
	return export(out), nil
}

// bind exposes a registry transform as a JavaScript function. Errors are
// thrown into the script.
func bind(vm *goja.Runtime, name string, fn Func) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		out, err := fn(export(call.Argument(0)))
		if err != nil {
			panic(vm.NewGoError(&TransformError{Name: name, Err: err}))
		}
		if out == nil {
			return goja.Null()
		}
		return vm.ToValue(out)
	}
}

// export converts a script value into the result value space: nil,
// string, float64, bool, []any or map[string]any.
func export(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return normalizeExport(v.Export())
}

func normalizeExport(x any) any {
	switch t := x.(type) {
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalizeExport(e)
		}
		return t
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeExport(e)
		}
		return t
	}
	return x
}
