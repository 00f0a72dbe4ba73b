package query

import (
	"github.com/leighmcculloch/stellar-events-api/internal/decoder"
	"github.com/leighmcculloch/stellar-events-api/internal/filter"
)

// Compile parses a string-form query and returns the DNF-expanded
// EventFilter set ready for store.Query.
func Compile(s string) ([]filter.EventFilter, error) {
	node, err := Parse(s)
	if err != nil {
		return nil, err
	}
	return compileNode(node)
}

func compileNode(node Node) ([]filter.EventFilter, error) {
	groups, err := toDNF(node)
	if err != nil {
		return nil, err
	}
	filters := make([]filter.EventFilter, 0, len(groups))
	for _, g := range groups {
		ef, err := buildFilter(g)
		if err != nil {
			return nil, err
		}
		filters = append(filters, ef)
	}
	return filters, nil
}

// toDNF distributes AND over OR, bailing as soon as the running product of
// OR-arities would exceed MaxFilters rather than building the full
// expansion and checking after the fact.
func toDNF(n Node) ([][]Qualifier, error) {
	switch v := n.(type) {
	case *QualNode:
		return [][]Qualifier{{v.Q}}, nil
	case *AndNode:
		acc := [][]Qualifier{{}}
		for _, child := range v.Children {
			childDNF, err := toDNF(child)
			if err != nil {
				return nil, err
			}
			if len(acc)*len(childDNF) > MaxFilters {
				return nil, newError(CodeTooManyFilters, "q", "query expands to more than %d filters", MaxFilters)
			}
			next := make([][]Qualifier, 0, len(acc)*len(childDNF))
			for _, a := range acc {
				for _, b := range childDNF {
					merged := make([]Qualifier, 0, len(a)+len(b))
					merged = append(merged, a...)
					merged = append(merged, b...)
					next = append(next, merged)
				}
			}
			acc = next
		}
		return acc, nil
	case *OrNode:
		var all [][]Qualifier
		for _, child := range v.Children {
			childDNF, err := toDNF(child)
			if err != nil {
				return nil, err
			}
			if len(all)+len(childDNF) > MaxFilters {
				return nil, newError(CodeTooManyFilters, "q", "query expands to more than %d filters", MaxFilters)
			}
			all = append(all, childDNF...)
		}
		return all, nil
	default:
		return nil, newError(CodeInvalidParameter, "q", "unrecognized AST node")
	}
}

// buildFilter folds one AND-group of qualifiers into a single EventFilter,
// detecting conflicts and duplicate/positional errors per the grammar's
// DNF mapping rules.
func buildFilter(group []Qualifier) (filter.EventFilter, error) {
	var ef filter.EventFilter

	var typeSet bool
	var typeVal decoder.EventType
	var contractSet bool
	var contractVal string
	var ledgerSet bool
	var ledgerVal uint32
	var txSet bool
	var txVal string

	topicPositions := map[int]decoder.Value{}
	var topicOrder []int
	var topicsAny []decoder.Value

	for _, q := range group {
		switch q.Key {
		case "type":
			et := eventTypeOf(q.Str)
			if typeSet && et != typeVal {
				return filter.EventFilter{}, newError(CodeConflictingQualifiers, "q", "conflicting type qualifiers")
			}
			typeSet, typeVal = true, et
		case "contract":
			if contractSet && q.Str != contractVal {
				return filter.EventFilter{}, newError(CodeConflictingQualifiers, "q", "conflicting contract qualifiers")
			}
			contractSet, contractVal = true, q.Str
		case "ledger":
			if ledgerSet && q.Ledger != ledgerVal {
				return filter.EventFilter{}, newError(CodeConflictingQualifiers, "q", "conflicting ledger qualifiers")
			}
			ledgerSet, ledgerVal = true, q.Ledger
		case "tx":
			if txSet && q.Str != txVal {
				return filter.EventFilter{}, newError(CodeConflictingQualifiers, "q", "conflicting tx qualifiers")
			}
			txSet, txVal = true, q.Str
		case "topic":
			dup := false
			for _, t := range topicsAny {
				if t.Equal(q.Topic) {
					dup = true
					break
				}
			}
			if !dup {
				topicsAny = append(topicsAny, q.Topic)
			}
		default: // topic0..topic3
			pos := q.TopicPos
			if existing, ok := topicPositions[pos]; ok {
				if !existing.Equal(q.Topic) {
					return filter.EventFilter{}, newError(CodeDuplicateTopicPosition, "q", "conflicting values at topic position %d", pos)
				}
			} else {
				topicPositions[pos] = q.Topic
				topicOrder = append(topicOrder, pos)
			}
		}
	}

	if txSet && !ledgerSet {
		return filter.EventFilter{}, newError(CodeMissingDependency, "q", "tx qualifier requires ledger in the same group")
	}

	if typeSet {
		ef.EventType = &typeVal
	}
	if contractSet {
		ef.ContractID = &contractVal
	}
	if ledgerSet {
		ef.Ledger = &ledgerVal
	}
	if txSet {
		ef.TxHash = &txVal
	}
	if len(topicPositions) > 0 {
		maxPos := 0
		for _, p := range topicOrder {
			if p > maxPos {
				maxPos = p
			}
		}
		topics := make([]*decoder.Value, maxPos+1)
		for p, v := range topicPositions {
			vv := v
			topics[p] = &vv
		}
		ef.Topics = topics
	}
	ef.TopicsAny = topicsAny

	return ef, nil
}

func eventTypeOf(s string) decoder.EventType {
	switch s {
	case "contract":
		return decoder.EventTypeContract
	case "system":
		return decoder.EventTypeSystem
	default:
		return decoder.EventTypeDiagnostic
	}
}
