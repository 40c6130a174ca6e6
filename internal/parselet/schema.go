// internal/parselet/schema.go
package parselet

import (
	"errors"
	"fmt"
	"sync"

	"github.com/andybalholm/cascadia"
)

// Kind is the shape of a schema node.
type Kind int

const (
	// LeafNode holds a value specifier string.
	LeafNode Kind = iota
	// MapNode holds ordered key specifier fields.
	MapNode
	// ListNode repeats its item schema once per matched node.
	ListNode
)

func (k Kind) String() string {
	switch k {
	case LeafNode:
		return "leaf"
	case MapNode:
		return "mapping"
	case ListNode:
		return "list"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Field is one key/value pair of a mapping node. Key is the raw key
// specifier; it is parsed during traversal.
type Field struct {
	Key   string
	Value *Node
}

// Node is an immutable parselet schema tree.
type Node struct {
	Kind   Kind
	Spec   string
	Fields []Field
	Item   *Node

	remoteOnce sync.Once
	remote     bool
}

// Leaf returns a leaf node for a value specifier.
func Leaf(spec string) *Node {
	return &Node{Kind: LeafNode, Spec: spec}
}

// Map returns a mapping node. Field order is kept in the output.
func Map(fields ...Field) *Node {
	return &Node{Kind: MapNode, Fields: fields}
}

// List returns a list node repeating item once per matched node.
func List(item *Node) *Node {
	return &Node{Kind: ListNode, Item: item}
}

// F is shorthand for a mapping field.
func F(key string, value *Node) Field {
	return Field{Key: key, Value: value}
}

// HasRemote reports whether any key at or below n dereferences a remote
// document. The extractor only fans out subtrees that fetch.
func (n *Node) HasRemote() bool {
	if n == nil {
		return false
	}
	n.remoteOnce.Do(func() {
		switch n.Kind {
		case MapNode:
			for _, f := range n.Fields {
				if k, err := ParseKey(f.Key); err == nil && k.IsRemote() {
					n.remote = true
					return
				}
				if f.Value.HasRemote() {
					n.remote = true
					return
				}
			}
		case ListNode:
			n.remote = n.Item.HasRemote()
		}
	})
	return n.remote
}

// Validate checks every key and value specifier in the tree, the CSS
// selectors they carry and the structural rules of the schema. All problems
// are returned joined.
func (n *Node) Validate() error {
	if n == nil || n.Kind != MapNode {
		return schemaError("$", "top-level parselet must be a mapping")
	}
	var errs []error
	n.validate("$", &errs)
	return errors.Join(errs...)
}

func (n *Node) validate(path string, errs *[]error) {
	switch n.Kind {
	case LeafNode:
		v, err := ParseValue(n.Spec)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("%s: %w", path, err))
			return
		}
		checkSelector(path, v.Selector, errs)
	case MapNode:
		for _, f := range n.Fields {
			k, err := ParseKey(f.Key)
			if err != nil {
				*errs = append(*errs, fmt.Errorf("%s: %w", path, err))
				continue
			}
			child := path
			if !k.IsVoid() {
				child = path + "." + k.Name
			}
			if f.Value == nil {
				*errs = append(*errs, schemaError(child, "missing value"))
				continue
			}
			if k.IsVoid() && f.Value.Kind != MapNode {
				*errs = append(*errs, schemaError(child, "void key requires a mapping value"))
				continue
			}
			checkSelector(child, k.Scope, errs)
			checkSelector(child, k.Link, errs)
			f.Value.validate(child, errs)
		}
		seen := make(map[string]bool)
		for _, name := range n.outputNames() {
			if seen[name] {
				*errs = append(*errs, schemaError(path+"."+name, "duplicate output key"))
				continue
			}
			seen[name] = true
		}
	case ListNode:
		if n.Item == nil {
			*errs = append(*errs, schemaError(path, "list requires an item schema"))
			return
		}
		n.Item.validate(path+"[]", errs)
	}
}

// outputNames lists the keys a mapping produces, including those spliced in
// by void keys. Unparsable keys are skipped; validate reports them.
func (n *Node) outputNames() []string {
	var names []string
	for _, f := range n.Fields {
		k, err := ParseKey(f.Key)
		if err != nil {
			continue
		}
		if k.IsVoid() {
			if f.Value != nil && f.Value.Kind == MapNode {
				names = append(names, f.Value.outputNames()...)
			}
			continue
		}
		names = append(names, k.Name)
	}
	return names
}

func checkSelector(path, selector string, errs *[]error) {
	if selector == "" || selector == IdentitySelector {
		return
	}
	if _, err := cascadia.ParseGroup(selector); err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", path, &GrammarError{
			Kind:   KindSelector,
			Input:  selector,
			Pos:    -1,
			Reason: err.Error(),
		}))
	}
}
