package cache

import (
	"slices"
	"strings"
)

const separator = ":"

// Operation names the kind of upstream response a key refers to. It is the
// first segment of every key.
type Operation string

const (
	OpRecords     Operation = "records"
	OpRecord      Operation = "record"
	OpSpaces      Operation = "spaces"
	OpSpace       Operation = "space"
	OpNodeTree    Operation = "full_nodes_tree"
	OpViews       Operation = "views"
	OpFields      Operation = "fields"
	OpSpaceConfig Operation = "space_config"
)

// Param is a named request parameter that distinguishes otherwise identical
// requests.
type Param struct {
	Name  string
	Value string
}

// Key builds a deterministic cache key. The scope identifies the resource
// (datasheet, record, space) and always directly follows the operation, so
// that Pattern(op, scope...) matches every key for that resource. Parameters
// are rendered sorted by name and so may be added in any order.
type Key struct {
	op     Operation
	scope  []string
	params []Param
}

func NewKey(op Operation, scope ...string) Key {
	return Key{op: op, scope: scope}
}

// With returns a copy of the key with an additional parameter.
func (k Key) With(name, value string) Key {
	params := make([]Param, len(k.params), len(k.params)+1)
	copy(params, k.params)
	k.params = append(params, Param{Name: name, Value: value})
	return k
}

func (k Key) String() string {
	params := slices.Clone(k.params)
	slices.SortStableFunc(params, func(a, b Param) int {
		return strings.Compare(a.Name, b.Name)
	})

	parts := make([]string, 0, 1+len(k.scope)+len(params))
	parts = append(parts, string(k.op))
	parts = append(parts, k.scope...)
	for _, p := range params {
		parts = append(parts, p.Name+"="+p.Value)
	}

	return strings.Join(parts, separator)
}

// Pattern returns the invalidation pattern covering every key of the given
// operation and scope.
func Pattern(op Operation, scope ...string) string {
	return NewKey(op, scope...).String()
}
