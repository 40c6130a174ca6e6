// internal/parselet/schema_test.go
package parselet

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseJSONKeepsOrder(t *testing.T) {
	n, err := Parse([]byte(`{"title": "h1", "links(ul a)": [{"href": "@href", "name": "."}], ` +
		`"published": "[itemprop=date-published]@content"}`))
	require.NoError(t, err)
	require.Equal(t, MapNode, n.Kind)
	require.Len(t, n.Fields, 3)

	assert.Equal(t, "title", n.Fields[0].Key)
	assert.Equal(t, "links(ul a)", n.Fields[1].Key)
	assert.Equal(t, "published", n.Fields[2].Key)

	list := n.Fields[1].Value
	require.Equal(t, ListNode, list.Kind)
	require.Equal(t, MapNode, list.Item.Kind)
	assert.Equal(t, "@href", list.Item.Fields[0].Value.Spec)
	assert.False(t, n.HasRemote())
}

func TestParseYAML(t *testing.T) {
	n, err := Parse([]byte(`
name: h1
rating: ".biz-rating img@alt|parseFloat"
lastReviewedPlace~(.reviews li:first-child a):
  name: h1
`))
	require.NoError(t, err)
	require.Len(t, n.Fields, 3)
	assert.True(t, n.HasRemote())
	assert.False(t, n.Fields[0].Value.HasRemote())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"top level list", `["h1"]`},
		{"top level scalar", `"h1"`},
		{"empty", ``},
		{"number leaf", `{"n": 3}`},
		{"two item list", `{"x(li)": ["a", "b"]}`},
		{"empty list", `{"x(li)": []}`},
		{"bad key", `{"x(li": "a"}`},
		{"bad value", `{"x": "h1@"}`},
		{"bad selector", `{"x": "h1[[["}`},
		{"void leaf", `{"--(div)": "h1"}`},
		{"malformed yaml", "a: [b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			var gerr *GrammarError
			require.True(t, errors.As(err, &gerr), "want *GrammarError, got %v", err)
		})
	}
}

func TestValidateCollectsAll(t *testing.T) {
	n := Map(
		F("a(", Leaf("h1")),
		F("b", Leaf("h1|")),
		F("c", Map(F("d", Leaf("p@")))),
	)
	err := n.Validate()
	require.Error(t, err)

	var gerr *GrammarError
	assert.True(t, errors.As(err, &gerr))
	assert.Contains(t, err.Error(), "$.c.d")
	assert.Contains(t, err.Error(), `"h1|"`)
}

func TestValidateDuplicateOutputKeys(t *testing.T) {
	tests := []struct {
		name   string
		schema *Node
		path   string
	}{
		{"same name twice", Map(F("a", Leaf("h1")), F("a?", Leaf("h2"))), "$.a"},
		{"void splice collides", Map(F("a", Leaf("h1")), F("--(p)", Map(F("a", Leaf("."))))), "$.a"},
		{"two void splices", Map(
			F("--(.x)", Map(F("b", Leaf(".")))),
			F("--(.y)", Map(F("--(span)", Map(F("b", Leaf(".")))))),
		), "$.b"},
		{"nested mapping", Map(F("c", Map(F("d", Leaf("p")), F("d(em)", Leaf("."))))), "$.c.d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.schema.Validate()
			require.Error(t, err)

			var gerr *GrammarError
			require.True(t, errors.As(err, &gerr))
			assert.Equal(t, KindSchema, gerr.Kind)
			assert.Equal(t, tt.path, gerr.Input)
		})
	}

	ok := Map(F("a", Leaf("h1")), F("--(p)", Map(F("b", Leaf(".")))), F("c", Map(F("a", Leaf("em")))))
	assert.NoError(t, ok.Validate())
}

func TestHasRemote(t *testing.T) {
	deep := Map(F("reviews(.review)", List(Map(F("place~(a)", Map(F("name", Leaf("h1"))))))))
	assert.True(t, deep.HasRemote())
	assert.True(t, deep.Fields[0].Value.HasRemote())

	local := Map(F("x(li)", List(Leaf("."))))
	assert.False(t, local.HasRemote())

	var nilNode *Node
	assert.False(t, nilNode.HasRemote())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"title":"h1"}`), 0o644))

	n, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "h1", n.Fields[0].Value.Spec)

	_, err = Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestObjectOrder(t *testing.T) {
	o := NewObject()
	o.Set("z", "last")
	o.Set("a", 1.5)
	inner := NewObject()
	inner.Set("k", nil)
	o.Set("m", []any{inner})
	o.Set("z", "again")

	assert.Equal(t, []string{"z", "a", "m"}, o.Keys())
	assert.Equal(t, 3, o.Len())

	b, err := json.Marshal(o)
	require.NoError(t, err)
	assert.Equal(t, `{"z":"again","a":1.5,"m":[{"k":null}]}`, string(b))

	y, err := yaml.Marshal(o)
	require.NoError(t, err)
	out := string(y)
	assert.Contains(t, out, "z: again")
	assert.Contains(t, out, "k: null")
	assert.Less(t, strings.Index(out, "z:"), strings.Index(out, "a:"))
	assert.Less(t, strings.Index(out, "a:"), strings.Index(out, "m:"))

	assert.Equal(t, map[string]any{
		"z": "again",
		"a": 1.5,
		"m": []any{map[string]any{"k": nil}},
	}, o.Map())

	var empty *Object
	b, err = json.Marshal(empty)
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
}
