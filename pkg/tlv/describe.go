package tlv

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/moov-io/bertlv"
)

// Describe renders a decoded simple-TLV tree, one tag per line, children
// indented below their container. Leaves show their value in hex.
func Describe(n *Node) string {
	var lines []string
	describeNode(&lines, 0, n)
	return strings.Join(lines, "\n")
}

func describeNode(lines *[]string, depth int, n *Node) {
	if n == nil {
		return
	}
	indent := strings.Repeat("  ", depth)
	for _, tag := range n.Tags {
		for _, child := range n.Items[tag] {
			if child.IsLeaf() {
				*lines = append(*lines, fmt.Sprintf("%s%02X (%d): %X", indent, tag, len(child.Value), child.Value))
				continue
			}
			*lines = append(*lines, fmt.Sprintf("%s%02X {", indent, tag))
			describeNode(lines, depth+1, child)
			*lines = append(*lines, indent+"}")
		}
	}
}

// WriteStructFields appends one line per non-empty []byte field of the
// struct s (or pointer to it), then one line per unknown TLV it kept. The
// block is separated from earlier content by a newline and has no
// trailing newline. A nil pointer writes nothing.
//
// Lines read "    - prefix.Field (tag): value". The fmt struct tag picks
// how the value is shown: "ascii" adds the printable text, "int" adds the
// big-endian value.
func WriteStructFields(sb *strings.Builder, prefix string, s any) {
	v := reflect.Indirect(reflect.ValueOf(s))
	if !v.IsValid() || v.Kind() != reflect.Struct {
		return
	}

	var lines []string
	for i := 0; i < v.NumField(); i++ {
		field, meta := v.Field(i), v.Type().Field(i)
		if !meta.IsExported() {
			continue
		}

		switch value := field.Interface().(type) {
		case []byte:
			if len(value) == 0 {
				continue
			}
			name := meta.Name
			if tag := meta.Tag.Get("tlv"); tag != "" {
				name += " (" + tag + ")"
			}
			lines = append(lines, fmt.Sprintf("    - %s.%s: %s", prefix, name, formatValue(value, meta.Tag.Get("fmt"))))
		case []bertlv.TLV:
			for _, u := range value {
				lines = append(lines, fmt.Sprintf("    - %s.Unknown Tag %s: %X", prefix, u.Tag, u.Value))
			}
		}
	}

	if len(lines) == 0 {
		return
	}
	if sb.Len() > 0 {
		sb.WriteByte('\n')
	}
	sb.WriteString(strings.Join(lines, "\n"))
}

func formatValue(data []byte, format string) string {
	switch format {
	case "ascii":
		return fmt.Sprintf("%X (%q)", data, MakeSafeASCII(data))
	case "int":
		return fmt.Sprintf("%X (Dec: %d)", data, BigEndianInt(data))
	}
	return fmt.Sprintf("%X", data)
}

// BigEndianInt reads data as an unsigned big-endian integer.
func BigEndianInt(data []byte) int {
	n := 0
	for _, b := range data {
		n = n<<8 | int(b)
	}
	return n
}

// MakeSafeASCII maps every byte outside printable ASCII to '.'.
func MakeSafeASCII(data []byte) string {
	out := make([]byte, len(data))
	for i, b := range data {
		if b < 0x20 || b > 0x7E {
			b = '.'
		}
		out[i] = b
	}
	return string(out)
}
