// internal/scraper/extractor.go
package scraper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/tycho01/parsz/internal/monitoring"
	"github.com/tycho01/parsz/internal/parselet"
	"github.com/tycho01/parsz/internal/pipeline"
	"github.com/tycho01/parsz/internal/utils"
)

// Extractor evaluates parselets against document trees. It holds no state
// between calls and is safe for concurrent use.
type Extractor struct {
	fetcher Fetcher
	logger  utils.Logger
	metrics *monitoring.Metrics
}

// NewExtractor creates an extractor. The fetcher is only used for remote
// keys and may be nil when the parselet has none. A nil logger discards.
func NewExtractor(fetcher Fetcher, logger utils.Logger, metrics *monitoring.Metrics) *Extractor {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Extractor{fetcher: fetcher, logger: logger, metrics: metrics}
}

// frame is the traversal state for one subtree.
type frame struct {
	scope    *goquery.Selection
	base     string
	optional bool
	path     string
}

// run is the state of one Extract call.
type run struct {
	ex        *Extractor
	registry  pipeline.Registry
	allowExpr bool
	fetches   atomic.Int64

	mu    sync.Mutex
	diags []Diagnostic
}

type pair struct {
	key   string
	value any
}

// Extract evaluates schema against root. The returned object mirrors the
// schema's shape. Missing values become nil and are reported as
// diagnostics; only grammar errors and errors on required branches abort.
func (e *Extractor) Extract(ctx context.Context, root *goquery.Selection, schema *parselet.Node, opts Options) (*Result, error) {
	start := time.Now()
	if err := schema.Validate(); err != nil {
		e.metrics.RecordExtraction(false, time.Since(start))
		return nil, err
	}

	r := &run{ex: e, registry: opts.Transforms, allowExpr: opts.AllowExpressions}
	if r.registry == nil {
		r.registry = pipeline.DefaultRegistry()
	}

	f := frame{scope: root, base: opts.Context, optional: opts.Optional, path: "$"}
	data, err := r.object(ctx, f, schema)
	e.metrics.RecordExtraction(err == nil, time.Since(start))
	if err != nil {
		return nil, err
	}

	sort.SliceStable(r.diags, func(i, j int) bool { return pathLess(r.diags[i].Path, r.diags[j].Path) })
	return &Result{Data: data, Diagnostics: r.diags, RemoteFetches: r.fetches.Load()}, nil
}

// object extracts a mapping node. When any field reaches a remote document
// the fields run concurrently; results land in per-field slots so order is
// preserved.
func (r *run) object(ctx context.Context, f frame, node *parselet.Node) (*parselet.Object, error) {
	slots := make([][]pair, len(node.Fields))

	if node.HasRemote() && len(node.Fields) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		for i, fld := range node.Fields {
			g.Go(func() error {
				pairs, err := r.field(gctx, f, fld)
				slots[i] = pairs
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i, fld := range node.Fields {
			pairs, err := r.field(ctx, f, fld)
			if err != nil {
				return nil, err
			}
			slots[i] = pairs
		}
	}

	obj := parselet.NewObject()
	for _, pairs := range slots {
		for _, p := range pairs {
			obj.Set(p.key, p.value)
		}
	}
	return obj, nil
}

// field evaluates one key/value pair. Void keys return the nested mapping's
// pairs for splicing into the parent.
func (r *run) field(ctx context.Context, f frame, fld parselet.Field) ([]pair, error) {
	key, err := parselet.ParseKey(fld.Key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.path, err)
	}

	child := f
	child.optional = f.optional || key.Optional
	if !key.IsVoid() {
		child.path = f.path + "." + key.Name
	}

	if key.IsRemote() {
		scope, base, err := r.dereference(ctx, child, key.Link)
		switch {
		case errors.Is(err, errNoLink):
			r.missing(child, Diagnostic{Selector: key.Link, Reason: ReasonNoLink})
			return skeleton(key, fld.Value), nil
		case err != nil:
			if err := r.recoverable(ctx, child, err); err != nil {
				return nil, err
			}
			return skeleton(key, fld.Value), nil
		}
		child.scope, child.base = scope, base
	}

	if key.IsVoid() {
		if fld.Value.Kind != parselet.MapNode {
			return nil, &parselet.GrammarError{Kind: parselet.KindSchema, Input: child.path, Pos: -1,
				Reason: "void key requires a mapping value"}
		}
		child.scope = ResolveScope(child.scope, key.Scope)
		obj, err := r.object(ctx, child, fld.Value)
		if err != nil {
			return nil, err
		}
		pairs := make([]pair, 0, obj.Len())
		for _, k := range obj.Keys() {
			v, _ := obj.Get(k)
			pairs = append(pairs, pair{k, v})
		}
		return pairs, nil
	}

	var v any
	if fld.Value.Kind == parselet.ListNode {
		v, err = r.list(ctx, child, key.Scope, fld.Value.Item)
	} else {
		child.scope = ResolveScope(child.scope, key.Scope)
		v, err = r.value(ctx, child, fld.Value)
	}
	if err != nil {
		return nil, err
	}
	return []pair{{key.Name, v}}, nil
}

func (r *run) value(ctx context.Context, f frame, node *parselet.Node) (any, error) {
	switch node.Kind {
	case parselet.LeafNode:
		return r.leaf(ctx, f, node.Spec)
	case parselet.MapNode:
		obj, err := r.object(ctx, f, node)
		if err != nil {
			return nil, err
		}
		return obj, nil
	case parselet.ListNode:
		return r.list(ctx, f, "", node.Item)
	}
	return nil, &parselet.GrammarError{Kind: parselet.KindSchema, Input: f.path, Pos: -1, Reason: "unknown node kind"}
}

// list extracts item once per node matched by selector, in document order.
func (r *run) list(ctx context.Context, f frame, selector string, item *parselet.Node) ([]any, error) {
	matches := ResolveScope(f.scope, selector)
	out := make([]any, matches.Length())

	itemFrame := func(i int) frame {
		c := f
		c.scope = matches.Eq(i)
		c.path = fmt.Sprintf("%s[%d]", f.path, i)
		return c
	}

	if item.HasRemote() && len(out) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		for i := range out {
			g.Go(func() error {
				v, err := r.value(gctx, itemFrame(i), item)
				out[i] = v
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return out, nil
	}

	for i := range out {
		v, err := r.value(ctx, itemFrame(i), item)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// leaf extracts a scalar. Text is trimmed, attributes are returned as is.
func (r *run) leaf(ctx context.Context, f frame, specifier string) (any, error) {
	v, err := parselet.ParseValue(specifier)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.path, err)
	}

	sel := ResolveScope(f.scope, v.Selector)
	var raw any
	if sel.Length() > 0 {
		if v.Attribute == "" {
			raw = strings.TrimSpace(sel.Text())
		} else if a, ok := sel.First().Attr(v.Attribute); ok {
			raw = a
		}
	}

	switch raw {
	case nil:
		r.missing(f, Diagnostic{Selector: v.Selector, Attribute: v.Attribute, Reason: ReasonMissing})
		return nil, nil
	case "":
		r.missing(f, Diagnostic{Selector: v.Selector, Attribute: v.Attribute, Reason: ReasonEmpty})
		return "", nil
	}

	out, err := pipeline.Apply(ctx, v.Transform, raw, r.registry, r.allowExpr)
	if err != nil {
		if err := r.recoverable(ctx, f, err); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return out, nil
}

// missing records a missing required value. Optional branches stay silent.
func (r *run) missing(f frame, d Diagnostic) {
	if f.optional {
		return
	}
	d.Path = f.path
	r.report(d)
}

// recoverable decides whether err aborts extraction. On optional branches
// fetch and transform errors become diagnostics; everything else, and any
// error once the context is done, is returned wrapped with the path.
func (r *run) recoverable(ctx context.Context, f frame, err error) error {
	var (
		fe *FetchError
		nf *pipeline.TransformNotFoundError
		te *pipeline.TransformError
	)
	d := Diagnostic{Path: f.path, Optional: true, Message: err.Error()}
	switch {
	case errors.As(err, &fe):
		d.Reason, d.URL = ReasonFetchFailed, fe.URL
	case errors.As(err, &nf), errors.As(err, &te):
		d.Reason = ReasonTransformError
	default:
		return fmt.Errorf("%s: %w", f.path, err)
	}

	if !f.optional || ctx.Err() != nil {
		return fmt.Errorf("%s: %w", f.path, err)
	}
	r.report(d)
	return nil
}

func (r *run) report(d Diagnostic) {
	r.mu.Lock()
	r.diags = append(r.diags, d)
	r.mu.Unlock()

	r.ex.metrics.RecordDiagnostic(d.Reason)
	r.ex.logger.WithFields(map[string]interface{}{
		"path":      d.Path,
		"selector":  d.Selector,
		"attribute": d.Attribute,
		"reason":    d.Reason,
	}).Warn("value not extracted")
}

// skeleton is the value of a remote key whose document could not be
// reached: nil, an empty list, or nil for every field of a void mapping.
func skeleton(key parselet.Key, node *parselet.Node) []pair {
	if !key.IsVoid() {
		if node.Kind == parselet.ListNode {
			return []pair{{key.Name, []any{}}}
		}
		return []pair{{key.Name, nil}}
	}

	var pairs []pair
	for _, fld := range node.Fields {
		k, err := parselet.ParseKey(fld.Key)
		if err != nil {
			continue
		}
		pairs = append(pairs, skeleton(k, fld.Value)...)
	}
	return pairs
}

// pathLess orders diagnostic paths segment by segment. List indexes compare
// numerically, so $.items[2] sorts before $.items[10].
func pathLess(a, b string) bool {
	as, bs := pathSegments(a), pathSegments(b)
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] == bs[i] {
			continue
		}
		ai, aerr := strconv.Atoi(as[i])
		bi, berr := strconv.Atoi(bs[i])
		if aerr == nil && berr == nil {
			return ai < bi
		}
		return as[i] < bs[i]
	}
	return len(as) < len(bs)
}

func pathSegments(p string) []string {
	return strings.FieldsFunc(p, func(r rune) bool { return r == '.' || r == '[' || r == ']' })
}
