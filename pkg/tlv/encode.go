package tlv

import (
	"bytes"
	"fmt"
)

// Encode serializes the children of a container node back into simple-TLV.
// Tags are written in first-seen order and repeated tags are written
// together, so a decode/encode round trip keeps the tag/value structure
// but not the interleaving of different repeated tags.
func Encode(n *Node) ([]byte, error) {
	if n.IsLeaf() {
		return nil, fmt.Errorf("%w: cannot encode a bare leaf", ErrNotContainer)
	}

	buf := new(bytes.Buffer)
	if n == nil {
		return buf.Bytes(), nil
	}

	for _, tag := range n.Tags {
		for _, child := range n.Items[tag] {
			value := child.Value
			if !child.IsLeaf() {
				enc, err := Encode(child)
				if err != nil {
					return nil, err
				}
				value = enc
			}

			if len(value) > 0xFF {
				return nil, fmt.Errorf("value of tag %02X too long: %d bytes", tag, len(value))
			}
			buf.WriteByte(tag)
			buf.WriteByte(byte(len(value)))
			buf.Write(value)
		}
	}
	return buf.Bytes(), nil
}
