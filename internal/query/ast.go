package query

import "github.com/leighmcculloch/stellar-events-api/internal/decoder"

// Qualifier is one parsed key:value atom, already interpreted into its
// key-specific typed form.
type Qualifier struct {
	Key string

	// Str holds the interpreted value for type, contract, and tx.
	Str string

	// Ledger holds the parsed value for the ledger key.
	Ledger uint32

	// Topic holds the parsed JSON value for topic/topic0..topic3.
	Topic decoder.Value
	// TopicPos is the positional index for topicN, or -1 for topic.
	TopicPos int
}

// Node is an AST node: *QualNode, *AndNode, or *OrNode.
type Node interface {
	node()
}

type QualNode struct{ Q Qualifier }
type AndNode struct{ Children []Node }
type OrNode struct{ Children []Node }

func (*QualNode) node() {}
func (*AndNode) node()  {}
func (*OrNode) node()   {}
