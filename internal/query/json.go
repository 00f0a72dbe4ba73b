package query

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/leighmcculloch/stellar-events-api/internal/decoder"
	"github.com/leighmcculloch/stellar-events-api/internal/filter"
)

// ParseJSON parses the structured JSON form of a query: each node is an
// object with exactly one key, either a qualifier key or "and"/"or" with
// an array of one or more child nodes. It is bijective with the string
// form under DNF semantics and enforces the same atom-count and
// nesting-depth limits.
func ParseJSON(data []byte) (Node, error) {
	p := &jsonParser{}
	return p.parse(data, 0)
}

// CompileJSON parses and DNF-compiles the JSON form directly to an
// EventFilter set.
func CompileJSON(data []byte) ([]filter.EventFilter, error) {
	node, err := ParseJSON(data)
	if err != nil {
		return nil, err
	}
	return compileNode(node)
}

type jsonParser struct {
	atomCount int
}

func (p *jsonParser) parse(data []byte, depth int) (Node, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, newError(CodeInvalidParameter, "q", "invalid query node: %v", err)
	}
	if len(raw) != 1 {
		return nil, newError(CodeInvalidParameter, "q", "each query node must have exactly one key")
	}

	for k, v := range raw {
		switch k {
		case "and":
			return p.parseCombinator(v, true, depth)
		case "or":
			return p.parseCombinator(v, false, depth)
		default:
			p.atomCount++
			if p.atomCount > MaxAtoms {
				return nil, newError(CodeQueryTooComplex, "q", "query has more than %d qualifier atoms", MaxAtoms)
			}
			q, err := interpretJSONQualifier(k, v)
			if err != nil {
				return nil, err
			}
			return &QualNode{Q: q}, nil
		}
	}
	panic("unreachable")
}

func (p *jsonParser) parseCombinator(raw json.RawMessage, isAnd bool, depth int) (Node, error) {
	if depth > MaxDepth {
		return nil, newError(CodeQueryTooComplex, "q", "nesting exceeds %d", MaxDepth)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, newError(CodeInvalidParameter, "q", "and/or value must be an array")
	}
	if len(items) == 0 {
		return nil, newError(CodeInvalidParameter, "q", "and/or array must have at least one child")
	}
	children := make([]Node, 0, len(items))
	for _, item := range items {
		child, err := p.parse(item, depth+1)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	if isAnd {
		return &AndNode{Children: children}, nil
	}
	return &OrNode{Children: children}, nil
}

func interpretJSONQualifier(key string, raw json.RawMessage) (Qualifier, error) {
	switch key {
	case "type":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Qualifier{}, newError(CodeInvalidValue, "q", "invalid type value")
		}
		if s != "contract" && s != "system" && s != "diagnostic" {
			return Qualifier{}, newError(CodeInvalidValue, "q", "invalid type %q", s)
		}
		return Qualifier{Key: "type", Str: s}, nil
	case "contract":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return Qualifier{}, newError(CodeInvalidValue, "q", "invalid contract value")
		}
		return Qualifier{Key: "contract", Str: s}, nil
	case "ledger":
		var n uint32
		if err := json.Unmarshal(raw, &n); err != nil || n == 0 {
			return Qualifier{}, newError(CodeInvalidValue, "q", "invalid ledger value")
		}
		return Qualifier{Key: "ledger", Ledger: n}, nil
	case "tx":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || !isHex(s) {
			return Qualifier{}, newError(CodeInvalidValue, "q", "invalid tx value")
		}
		return Qualifier{Key: "tx", Str: s}, nil
	case "topic", "topic0", "topic1", "topic2", "topic3":
		var v decoder.Value
		if err := json.Unmarshal(raw, &v); err != nil {
			return Qualifier{}, newError(CodeInvalidValue, "q", "invalid topic value: %v", err)
		}
		pos := -1
		if key != "topic" {
			pos = int(key[len(key)-1] - '0')
		}
		return Qualifier{Key: key, Topic: v, TopicPos: pos}, nil
	default:
		return Qualifier{}, newError(CodeUnknownKey, "q", "unknown key %q", key)
	}
}

// Print renders an AST back to canonical string form. Re-parsing the
// output must reproduce an equivalent AST (the round-trip law), though the
// printed text need not match the original byte-for-byte.
func Print(n Node) string {
	switch v := n.(type) {
	case *QualNode:
		return printQualifier(v.Q)
	case *AndNode:
		parts := make([]string, len(v.Children))
		for i, c := range v.Children {
			parts[i] = maybeParen(c)
		}
		return strings.Join(parts, " ")
	case *OrNode:
		parts := make([]string, len(v.Children))
		for i, c := range v.Children {
			parts[i] = maybeParen(c)
		}
		return strings.Join(parts, " OR ")
	default:
		return ""
	}
}

func maybeParen(n Node) string {
	switch n.(type) {
	case *AndNode, *OrNode:
		return "(" + Print(n) + ")"
	default:
		return Print(n)
	}
}

func printQualifier(q Qualifier) string {
	switch q.Key {
	case "ledger":
		return fmt.Sprintf("ledger:%d", q.Ledger)
	case "topic", "topic0", "topic1", "topic2", "topic3":
		b, _ := json.Marshal(q.Topic)
		return fmt.Sprintf("%s:%s", q.Key, b)
	default:
		return fmt.Sprintf("%s:%s", q.Key, q.Str)
	}
}

// ToJSON renders an AST to its structured JSON-form equivalent.
func ToJSON(n Node) (map[string]interface{}, error) {
	switch v := n.(type) {
	case *QualNode:
		val, err := qualifierJSONValue(v.Q)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{v.Q.Key: val}, nil
	case *AndNode:
		return combinatorJSON("and", v.Children)
	case *OrNode:
		return combinatorJSON("or", v.Children)
	default:
		return nil, newError(CodeInvalidParameter, "q", "unrecognized node")
	}
}

func combinatorJSON(key string, children []Node) (map[string]interface{}, error) {
	items := make([]interface{}, len(children))
	for i, c := range children {
		v, err := ToJSON(c)
		if err != nil {
			return nil, err
		}
		items[i] = v
	}
	return map[string]interface{}{key: items}, nil
}

func qualifierJSONValue(q Qualifier) (interface{}, error) {
	switch q.Key {
	case "ledger":
		return q.Ledger, nil
	case "topic", "topic0", "topic1", "topic2", "topic3":
		b, err := json.Marshal(q.Topic)
		if err != nil {
			return nil, err
		}
		var v interface{}
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return q.Str, nil
	}
}

// sortFiltersForComparison orders an EventFilter slice deterministically so
// two DNF expansions derived from equivalent but differently-ordered ASTs
// can be compared for set equality in tests. Keys are built from
// dereferenced field values rather than the struct itself, since pointer
// fields would otherwise sort by address.
func sortFiltersForComparison(filters []filter.EventFilter) []filter.EventFilter {
	out := make([]filter.EventFilter, len(filters))
	copy(out, filters)
	sort.Slice(out, func(i, j int) bool {
		return filterSortKey(out[i]) < filterSortKey(out[j])
	})
	return out
}

func filterSortKey(f filter.EventFilter) string {
	var b strings.Builder
	if f.EventType != nil {
		fmt.Fprintf(&b, "type=%v;", *f.EventType)
	}
	if f.ContractID != nil {
		fmt.Fprintf(&b, "contract=%s;", *f.ContractID)
	}
	if f.Ledger != nil {
		fmt.Fprintf(&b, "ledger=%d;", *f.Ledger)
	}
	if f.TxHash != nil {
		fmt.Fprintf(&b, "tx=%s;", *f.TxHash)
	}
	for i, t := range f.Topics {
		if t == nil {
			fmt.Fprintf(&b, "topic%d=*;", i)
			continue
		}
		tb, _ := json.Marshal(t)
		fmt.Fprintf(&b, "topic%d=%s;", i, tb)
	}
	for _, t := range f.TopicsAny {
		tb, _ := json.Marshal(t)
		fmt.Fprintf(&b, "any=%s;", tb)
	}
	return b.String()
}
