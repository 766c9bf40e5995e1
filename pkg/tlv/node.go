package tlv

import (
	"errors"
	"fmt"
)

var (
	// ErrCardinality is returned when a tag does not occur exactly once where one occurrence is required.
	ErrCardinality = errors.New("tlv: unexpected tag cardinality")
	// ErrNotContainer is returned when a path walks into a leaf.
	ErrNotContainer = errors.New("tlv: node is not a container")
	// ErrNotLeaf is returned when a raw value is requested from a container.
	ErrNotLeaf = errors.New("tlv: node is not a leaf")
)

// Node is one element of a decoded simple-TLV tree.
//
// A Node is either a leaf, holding the raw Value bytes, or a container,
// holding its children grouped by tag. Every tag always maps to a sequence
// of nodes: a tag seen once yields a one-element sequence, a repeated tag
// yields its occurrences in insertion order. Tags records first-seen order
// so the tree can be re-encoded.
//
// Leaves always carry a non-nil Value and a nil Items map; containers carry
// a nil Value and a non-nil Items map.
type Node struct {
	Value []byte
	Tags  []byte
	Items map[byte][]*Node
}

// NewLeaf creates a leaf node holding a copy of value.
func NewLeaf(value []byte) *Node {
	return &Node{Value: append([]byte{}, value...)}
}

// NewContainer creates an empty container node.
func NewContainer() *Node {
	return &Node{Items: map[byte][]*Node{}}
}

// Add appends child under tag and returns n, so trees can be built inline.
// Adding to a leaf turns it into a container and drops its value.
func (n *Node) Add(tag byte, child *Node) *Node {
	if n.Items == nil {
		n.Items = map[byte][]*Node{}
		n.Value = nil
	}
	if _, seen := n.Items[tag]; !seen {
		n.Tags = append(n.Tags, tag)
	}
	n.Items[tag] = append(n.Items[tag], child)
	return n
}

// IsLeaf reports whether n is a raw value.
func (n *Node) IsLeaf() bool {
	return n != nil && n.Items == nil
}

// IsEmpty reports whether n is nil or a container without children.
func (n *Node) IsEmpty() bool {
	return n == nil || (n.Items != nil && len(n.Tags) == 0)
}

// Has reports whether tag occurs at least once directly below n.
func (n *Node) Has(tag byte) bool {
	return n.Len(tag) > 0
}

// Len returns the number of occurrences of tag directly below n.
func (n *Node) Len(tag byte) int {
	if n == nil {
		return 0
	}
	return len(n.Items[tag])
}

// All returns every occurrence of tag directly below n, in insertion order.
func (n *Node) All(tag byte) []*Node {
	if n == nil {
		return nil
	}
	return n.Items[tag]
}

// One returns the single occurrence of tag directly below n.
// It fails with ErrCardinality when the tag is absent or repeated.
func (n *Node) One(tag byte) (*Node, error) {
	if n.IsLeaf() {
		return nil, fmt.Errorf("%w: looking up tag %02X", ErrNotContainer, tag)
	}
	items := n.All(tag)
	if len(items) != 1 {
		return nil, fmt.Errorf("%w: tag %02X occurs %d times", ErrCardinality, tag, len(items))
	}
	return items[0], nil
}

// Path follows tags from n, requiring exactly one occurrence at each level.
func (n *Node) Path(tags ...byte) (*Node, error) {
	cur := n
	for i, tag := range tags {
		next, err := cur.One(tag)
		if err != nil {
			return nil, fmt.Errorf("path %X at depth %d: %w", tags, i, err)
		}
		cur = next
	}
	return cur, nil
}

// Bytes follows tags like Path and returns the value of the leaf reached.
func (n *Node) Bytes(tags ...byte) ([]byte, error) {
	leaf, err := n.Path(tags...)
	if err != nil {
		return nil, err
	}
	if !leaf.IsLeaf() {
		return nil, fmt.Errorf("path %X: %w", tags, ErrNotLeaf)
	}
	return leaf.Value, nil
}
