// internal/parselet/load.go
package parselet

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a parselet file. JSON files are accepted as well since JSON is
// a subset of YAML; key order is preserved in both cases.
func Load(path string) (*Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parselet file: %w", err)
	}
	n, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parselet %s: %w", path, err)
	}
	return n, nil
}

// Parse decodes a parselet document and validates its specifiers.
func Parse(data []byte) (*Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &GrammarError{Kind: KindSchema, Input: "$", Pos: -1, Reason: err.Error()}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, schemaError("$", "empty parselet")
	}

	n, err := FromYAML(doc.Content[0])
	if err != nil {
		return nil, err
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

// FromYAML converts a decoded YAML node into a schema tree without
// validating specifiers.
func FromYAML(y *yaml.Node) (*Node, error) {
	n, err := convert(y, "$")
	if err != nil {
		return nil, err
	}
	if n.Kind != MapNode {
		return nil, schemaError("$", "top-level parselet must be a mapping")
	}
	return n, nil
}

func convert(y *yaml.Node, path string) (*Node, error) {
	if y.Kind == yaml.AliasNode {
		return convert(y.Alias, path)
	}

	switch y.Kind {
	case yaml.ScalarNode:
		if y.Tag != "!!str" {
			return nil, schemaError(path, fmt.Sprintf("leaf must be a string, got %s", y.Tag))
		}
		return Leaf(y.Value), nil

	case yaml.MappingNode:
		fields := make([]Field, 0, len(y.Content)/2)
		for i := 0; i+1 < len(y.Content); i += 2 {
			k, v := y.Content[i], y.Content[i+1]
			if k.Kind != yaml.ScalarNode {
				return nil, schemaError(path, "mapping keys must be strings")
			}
			child, err := convert(v, path+"."+k.Value)
			if err != nil {
				return nil, err
			}
			fields = append(fields, F(k.Value, child))
		}
		return Map(fields...), nil

	case yaml.SequenceNode:
		if len(y.Content) != 1 {
			return nil, schemaError(path, fmt.Sprintf("list must have exactly one item schema, got %d", len(y.Content)))
		}
		item, err := convert(y.Content[0], path+"[]")
		if err != nil {
			return nil, err
		}
		return List(item), nil
	}

	return nil, schemaError(path, "unsupported node")
}
