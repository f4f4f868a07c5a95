// Package coordinator implements the engine's only shared mutable state:
// keyed JSON documents in an external store mutated exclusively through
// conditional updates. Concurrent workers contend by condition failure and
// retry; nothing in this package holds a lock across I/O.
package coordinator

import (
	"context"
	"fmt"
	"strings"

	xerrors "github.com/kapilsinha/privadex/internal/errors"
)

// Document is a decoded JSON document stored at one key.
type Document = map[string]any

// CondOp enumerates the condition kinds a backend must evaluate atomically.
type CondOp string

const (
	CondExists      CondOp = "exists"
	CondNotExists   CondOp = "not_exists"
	CondEq          CondOp = "eq"
	CondLess        CondOp = "lt"
	CondSizeEq      CondOp = "size_eq"
	CondSizeGt      CondOp = "size_gt"
	CondNotContains CondOp = "not_contains"
	CondAny         CondOp = "any"
)

// Condition is one predicate over the stored document. Value is encoded
// even when zero: false and the empty list are meaningful operands.
type Condition struct {
	Op    CondOp      `json:"op"`
	Path  []string    `json:"path,omitempty"`
	Value any         `json:"value"`
	Any   []Condition `json:"any,omitempty"`
}

// MutOp enumerates the mutation kinds.
type MutOp string

const (
	MutSet         MutOp = "set"           // set Path to Value
	MutSetFromPath MutOp = "set_from_path" // copy value at From to Path
	MutSetFromHead MutOp = "set_from_head" // set Path to head of list at From
	MutIncr        MutOp = "incr"          // add numeric Value to Path
	MutRemove      MutOp = "remove"        // delete Path
	MutListAppend  MutOp = "list_append"   // append Value (or value at From) to list at Path
	MutPopHead     MutOp = "pop_head"      // remove head of list at Path
	MutSetAdd      MutOp = "set_add"       // append Value to Path if absent
	MutSetRemove   MutOp = "set_remove"    // remove Value from set at Path
)

// Mutation is one edit applied to the stored document.
type Mutation struct {
	Op    MutOp    `json:"op"`
	Path  []string `json:"path"`
	Value any      `json:"value"`
	From  []string `json:"from,omitempty"`
}

// ErrConditionFailed is returned when a conditional update's predicate does
// not hold. Callers re-read and retry their enclosing logic.
var ErrConditionFailed = xerrors.New(xerrors.CodeConditionFailed, "")

// Store is the coordinator KV client. ConditionalUpdate evaluates every
// condition and applies every mutation as one atomic step, returning the
// updated document.
type Store interface {
	Get(ctx context.Context, key string) (Document, error)
	ConditionalUpdate(ctx context.Context, key string, conds []Condition, muts []Mutation) (Document, error)
	Close() error
}

// --- shared evaluation, used by the in-memory backend and by tests ---

func lookup(doc Document, path []string) (any, bool) {
	var cur any = doc
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// containerFor walks to the parent of path, creating intermediate maps.
func containerFor(doc Document, path []string) (map[string]any, string, error) {
	if len(path) == 0 {
		return nil, "", fmt.Errorf("empty mutation path")
	}
	cur := map[string]any(doc)
	for _, seg := range path[:len(path)-1] {
		next, ok := cur[seg]
		if !ok {
			child := map[string]any{}
			cur[seg] = child
			cur = child
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return nil, "", fmt.Errorf("path segment %q is not a map", seg)
		}
		cur = m
	}
	return cur, path[len(path)-1], nil
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	}
	return 0, false
}

// asList tolerates the empty-object/empty-array ambiguity of JSON
// re-encoding: an emptied list may come back as {}.
func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case map[string]any:
		if len(l) == 0 {
			return nil, true
		}
	case nil:
		return nil, true
	}
	return nil, false
}

func valuesEqual(a, b any) bool {
	if an, ok := asNumber(a); ok {
		bn, ok := asNumber(b)
		return ok && an == bn
	}
	return a == b
}

func sizeOf(v any) (int, bool) {
	switch c := v.(type) {
	case map[string]any:
		return len(c), true
	case []any:
		return len(c), true
	case nil:
		return 0, true
	}
	return 0, false
}

func evalCondition(doc Document, c Condition) (bool, error) {
	switch c.Op {
	case CondExists:
		_, ok := lookup(doc, c.Path)
		return ok, nil
	case CondNotExists:
		_, ok := lookup(doc, c.Path)
		return !ok, nil
	case CondEq:
		v, ok := lookup(doc, c.Path)
		return ok && valuesEqual(v, c.Value), nil
	case CondLess:
		v, ok := lookup(doc, c.Path)
		if !ok {
			return false, nil
		}
		vn, ok1 := asNumber(v)
		cn, ok2 := asNumber(c.Value)
		return ok1 && ok2 && vn < cn, nil
	case CondSizeEq, CondSizeGt:
		v, found := lookup(doc, c.Path)
		var size int
		if found {
			var ok bool
			if size, ok = sizeOf(v); !ok {
				return false, fmt.Errorf("size condition on non-container at %v", c.Path)
			}
		}
		want, ok := asNumber(c.Value)
		if !ok {
			return false, fmt.Errorf("size condition needs a numeric value")
		}
		if c.Op == CondSizeEq {
			return size == int(want), nil
		}
		return size > int(want), nil
	case CondNotContains:
		v, found := lookup(doc, c.Path)
		if !found {
			return true, nil
		}
		list, ok := asList(v)
		if !ok {
			return false, fmt.Errorf("membership condition on non-list at %v", c.Path)
		}
		for _, item := range list {
			if valuesEqual(item, c.Value) {
				return false, nil
			}
		}
		return true, nil
	case CondAny:
		for _, sub := range c.Any {
			ok, err := evalCondition(doc, sub)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("unknown condition op %q", c.Op)
}

func applyMutation(doc Document, m Mutation) error {
	parent, leaf, err := containerFor(doc, m.Path)
	if err != nil {
		return err
	}
	switch m.Op {
	case MutSet:
		parent[leaf] = m.Value
	case MutSetFromPath:
		v, ok := lookup(doc, m.From)
		if !ok {
			return fmt.Errorf("set_from_path: no value at %v", m.From)
		}
		parent[leaf] = v
	case MutSetFromHead:
		v, ok := lookup(doc, m.From)
		if !ok {
			return fmt.Errorf("set_from_head: no list at %v", m.From)
		}
		list, ok := asList(v)
		if !ok || len(list) == 0 {
			return fmt.Errorf("set_from_head: empty or non-list at %v", m.From)
		}
		parent[leaf] = list[0]
	case MutIncr:
		cur, _ := lookup(doc, m.Path)
		curN, _ := asNumber(cur)
		delta, ok := asNumber(m.Value)
		if !ok {
			return fmt.Errorf("incr needs a numeric value")
		}
		parent[leaf] = curN + delta
	case MutRemove:
		delete(parent, leaf)
	case MutListAppend:
		v := m.Value
		if len(m.From) > 0 {
			src, ok := lookup(doc, m.From)
			if !ok {
				return fmt.Errorf("list_append: no value at %v", m.From)
			}
			v = src
		}
		list, _ := asList(parent[leaf])
		parent[leaf] = append(list, v)
	case MutPopHead:
		list, ok := asList(parent[leaf])
		if !ok || len(list) == 0 {
			return fmt.Errorf("pop_head: empty or non-list at %v", m.Path)
		}
		parent[leaf] = list[1:]
	case MutSetAdd:
		list, _ := asList(parent[leaf])
		for _, item := range list {
			if valuesEqual(item, m.Value) {
				return nil
			}
		}
		parent[leaf] = append(list, m.Value)
	case MutSetRemove:
		list, ok := asList(parent[leaf])
		if !ok {
			return nil
		}
		out := make([]any, 0, len(list))
		for _, item := range list {
			if !valuesEqual(item, m.Value) {
				out = append(out, item)
			}
		}
		parent[leaf] = out
	default:
		return fmt.Errorf("unknown mutation op %q", m.Op)
	}
	return nil
}

// NumberAt reads a numeric field out of a document.
func NumberAt(doc Document, path ...string) (uint64, bool) {
	v, ok := lookup(doc, path)
	if !ok {
		return 0, false
	}
	n, ok := asNumber(v)
	if !ok {
		return 0, false
	}
	return uint64(n), true
}

// StringsAt reads a list of strings out of a document.
func StringsAt(doc Document, path ...string) []string {
	v, ok := lookup(doc, path)
	if !ok {
		return nil
	}
	list, ok := asList(v)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// BoolAt reads a boolean field out of a document.
func BoolAt(doc Document, path ...string) (bool, bool) {
	v, ok := lookup(doc, path)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// HasPath reports whether the path resolves in the document.
func HasPath(doc Document, path ...string) bool {
	_, ok := lookup(doc, path)
	return ok
}

// isConditionFailure recognises a backend's condition-failure signal.
func isConditionFailure(err error) bool {
	return err != nil && strings.Contains(err.Error(), string(xerrors.CodeConditionFailed))
}
