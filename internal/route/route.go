package route

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Key is one step of a Route: a map key or a sequence index. A null key is
// skipped during resolution.
type Key struct {
	Name    string
	Index   int
	IsIndex bool
	Null    bool
}

// Name builds a map key.
func Name(s string) Key { return Key{Name: s} }

// Idx builds a sequence index.
func Idx(i int) Key { return Key{Index: i, IsIndex: true} }

func (k Key) String() string {
	switch {
	case k.Null:
		return "~"
	case k.IsIndex:
		return strconv.Itoa(k.Index)
	}
	return k.Name
}

// UnmarshalYAML decodes integers as indexes, null as a skipped step and
// everything else as a map key.
func (k *Key) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("route key must be a scalar, got %s at line %d", node.Tag, node.Line)
	}
	switch node.Tag {
	case "!!null":
		*k = Key{Null: true}
	case "!!int":
		i, err := strconv.Atoi(node.Value)
		if err != nil {
			return fmt.Errorf("route index %q: %w", node.Value, err)
		}
		*k = Idx(i)
	default:
		*k = Name(node.Value)
	}
	return nil
}

// Route is an ordered key path into a generic tree.
type Route []Key

// Path builds a Route from strings and ints.
func Path(keys ...any) Route {
	r := make(Route, 0, len(keys))
	for _, k := range keys {
		switch t := k.(type) {
		case int:
			r = append(r, Idx(t))
		case string:
			r = append(r, Name(t))
		case nil:
			r = append(r, Key{Null: true})
		default:
			r = append(r, Name(fmt.Sprint(t)))
		}
	}
	return r
}

// UnmarshalYAML accepts either a sequence of keys or a single scalar key.
func (r *Route) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		keys := make([]Key, 0, len(node.Content))
		if err := node.Decode(&keys); err != nil {
			return err
		}
		*r = keys
	case yaml.ScalarNode:
		var k Key
		if err := k.UnmarshalYAML(node); err != nil {
			return err
		}
		*r = Route{k}
	default:
		return fmt.Errorf("route must be a list of keys, line %d", node.Line)
	}
	return nil
}

// IsSet reports whether the route was configured at all.
func (r Route) IsSet() bool { return len(r) > 0 }

func (r Route) String() string {
	parts := make([]string, len(r))
	for i, k := range r {
		parts[i] = k.String()
	}
	return strings.Join(parts, ".")
}

// Resolve walks v along r. Any missing step yields (Empty, false).
func Resolve(v Value, r Route) (Value, bool) {
	if !r.IsSet() {
		return Value{}, false
	}
	cur := v
	for _, k := range r {
		var ok bool
		switch {
		case k.Null:
			continue
		case k.IsIndex:
			cur, ok = cur.Index(k.Index)
		default:
			cur, ok = cur.Field(k.Name)
		}
		if !ok {
			return Value{}, false
		}
	}
	return cur, !cur.IsEmpty()
}

// Lookup resolves r against v and renders the result as text.
func Lookup(v Value, r Route) string {
	got, _ := Resolve(v, r)
	return got.String()
}

// LookupAll resolves r against v and flattens the result to strings.
func LookupAll(v Value, r Route) []string {
	got, _ := Resolve(v, r)
	return got.Strings()
}
