// Package route resolves fields out of fetched documents: ordered key paths
// over a generic tree (decoded JSON or normalized XML) and CSS selectors over
// rendered HTML. A miss at any step resolves to empty and never fails.
package route

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	Empty Kind = iota
	Map
	Seq
	Scalar
)

// Value is a node of a generic document tree.
type Value struct {
	kind   Kind
	fields map[string]Value
	items  []Value
	scalar any
}

// FromAny converts the output of encoding/json (or any map/slice tree of the
// same shape) into a Value.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Value{}
	case Value:
		return t
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, child := range t {
			fields[k] = FromAny(child)
		}
		return Value{kind: Map, fields: fields}
	case []any:
		items := make([]Value, len(t))
		for i, child := range t {
			items[i] = FromAny(child)
		}
		return Value{kind: Seq, items: items}
	case []map[string]any:
		items := make([]Value, len(t))
		for i, child := range t {
			items[i] = FromAny(child)
		}
		return Value{kind: Seq, items: items}
	default:
		return Value{kind: Scalar, scalar: t}
	}
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsEmpty reports whether v holds nothing.
func (v Value) IsEmpty() bool { return v.kind == Empty }

// Len returns the number of children of a map or sequence.
func (v Value) Len() int {
	switch v.kind {
	case Map:
		return len(v.fields)
	case Seq:
		return len(v.items)
	}
	return 0
}

// Items returns the members of a sequence. A map or scalar is returned as a
// one-element sequence, which matches how XML collapses single children.
func (v Value) Items() []Value {
	switch v.kind {
	case Seq:
		return v.items
	case Map, Scalar:
		return []Value{v}
	}
	return nil
}

// Field returns the child named key of a map.
func (v Value) Field(key string) (Value, bool) {
	switch v.kind {
	case Map:
		child, ok := v.fields[key]
		return child, ok
	case Seq:
		i, err := strconv.Atoi(key)
		if err != nil {
			return Value{}, false
		}
		return v.Index(i)
	}
	return Value{}, false
}

// Index returns the i-th member of a sequence. Negative indexes count from
// the end.
func (v Value) Index(i int) (Value, bool) {
	switch v.kind {
	case Seq:
		if i < 0 {
			i += len(v.items)
		}
		if i < 0 || i >= len(v.items) {
			return Value{}, false
		}
		return v.items[i], true
	case Map:
		child, ok := v.fields[strconv.Itoa(i)]
		return child, ok
	}
	return Value{}, false
}

// String renders a scalar as text. Maps, sequences and empty values render
// as "".
func (v Value) String() string {
	if v.kind != Scalar {
		return ""
	}
	switch s := v.scalar.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprint(s)
	}
}

// Strings flattens a scalar or a sequence of scalars into a list of
// non-empty strings.
func (v Value) Strings() []string {
	switch v.kind {
	case Scalar:
		if s := v.String(); s != "" {
			return []string{s}
		}
	case Seq:
		var out []string
		for _, item := range v.items {
			if s := item.String(); item.kind == Scalar && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
