package tlv

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// SIMPLE-TLV DECODING (PKCS#15 / GlobalPlatform Access Rule Files):
// The files of the Access Rule File hierarchy are read with READ BINARY and
// decoded with a deliberately lenient single-pass scanner:
//
// 1. Tag and length are one byte each (no multi-byte BER tags or lengths).
// 2. A tag of 0xFF marks the start of the unused, padded part of a file:
//    scanning stops and the remaining bytes are ignored.
// 3. Constructed tags from a fixed set are decoded recursively; every other
//    tag is a leaf, whatever its bit pattern says.
// 4. A length running past the end of the buffer truncates the value to the
//    available bytes instead of failing.

// PaddingTag terminates decoding of the current buffer.
const PaddingTag byte = 0xFF

// ContainerTags lists the tags whose value is decoded as a nested structure.
var ContainerTags = map[byte]bool{
	0x30: true, // SEQUENCE
	0x62: true, // FCP template
	0xA0: true,
	0xA1: true,
	0xA5: true,
	0xA7: true,
}

// IsContainer reports whether tag is decoded recursively.
func IsContainer(tag byte) bool {
	return ContainerTags[tag]
}

// Decode parses data into a container node. It never fails: malformed
// lengths truncate, padding and a dangling final tag byte are ignored.
func Decode(data []byte) *Node {
	root := NewContainer()
	decodeInto(root, data)
	return root
}

// DecodeHex decodes a hex string (spaces allowed) and parses it like Decode.
func DecodeHex(s string) (*Node, error) {
	data, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid hex input: %w", err)
	}
	return Decode(data), nil
}

func decodeInto(parent *Node, data []byte) {
	i := 0
	for i+1 < len(data) {
		tag := data[i]
		if tag == PaddingTag {
			return
		}

		length := int(data[i+1])
		start := i + 2
		end := min(start+length, len(data))
		value := data[start:end]

		if IsContainer(tag) {
			child := NewContainer()
			decodeInto(child, value)
			parent.Add(tag, child)
		} else {
			parent.Add(tag, NewLeaf(value))
		}

		i = start + length
	}
}
