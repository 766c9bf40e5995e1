package iso7816

import (
	"errors"
	"fmt"
)

// A command APDU is CLA INS P1 P2, then an optional Lc and data field and
// an optional Le. Lengths use one byte unless the data exceeds 255 bytes
// or more than 256 response bytes are expected, in which case both switch
// to the extended three byte form. A response APDU is the data followed by
// SW1 SW2.

const (
	// MaxShortLc is the largest Nc of a short APDU.
	MaxShortLc = 255
	// MaxShortLe is the largest Ne of a short APDU, encoded as '00'.
	MaxShortLe = 256
	// MaxExtendedLc is the largest Nc of an extended APDU.
	MaxExtendedLc = 65535
	// MaxExtendedLe is the largest Ne of an extended APDU, encoded as '0000'.
	MaxExtendedLe = 65536

	// MaxShortCommandLength is the largest header plus data accepted by
	// ParseCommandAPDU. Extended APDUs are not supported on that path.
	MaxShortCommandLength = 255
)

// ErrMalformedCommand is returned when raw bytes are not a short C-APDU.
var ErrMalformedCommand = errors.New("malformed command APDU")

// CommandAPDU is a command sent to the card. Ne of 0 means no response
// data is expected.
type CommandAPDU struct {
	Class       Class
	Instruction Instruction
	P1, P2      byte
	Data        []byte
	Ne          int
}

func NewCommandAPDU(cla Class, ins Instruction, p1, p2 byte, data []byte, ne int) *CommandAPDU {
	return &CommandAPDU{Class: cla, Instruction: ins, P1: p1, P2: p2, Data: data, Ne: ne}
}

// Bytes encodes the command, in the extended form only when Nc or Ne
// does not fit the short one.
func (c *CommandAPDU) Bytes() ([]byte, error) {
	cla, err := c.Class.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode Class: %w", err)
	}
	if len(c.Data) > MaxExtendedLc || c.Ne > MaxExtendedLe {
		return nil, fmt.Errorf("Nc %d or Ne %d exceeds extended APDU limits", len(c.Data), c.Ne)
	}

	out := make([]byte, 0, 4+3+len(c.Data)+3)
	out = append(out, cla, byte(c.Instruction.Raw), c.P1, c.P2)

	nc := len(c.Data)
	extended := nc > MaxShortLc || c.Ne > MaxShortLe

	if nc > 0 {
		if extended {
			out = append(out, 0x00, byte(nc>>8), byte(nc))
		} else {
			out = append(out, byte(nc))
		}
		out = append(out, c.Data...)
	}

	if c.Ne > 0 {
		// 256 and 65536 wrap to zero on their field width.
		switch {
		case !extended:
			out = append(out, byte(c.Ne))
		case nc == 0:
			out = append(out, 0x00, byte(c.Ne>>8), byte(c.Ne))
		default:
			out = append(out, byte(c.Ne>>8), byte(c.Ne))
		}
	}

	return out, nil
}

func (c *CommandAPDU) String() string {
	return fmt.Sprintf("%s P1=%02X P2=%02X Nc=%d Ne=%d", c.Instruction.Raw, c.P1, c.P2, len(c.Data), c.Ne)
}

// ResponseAPDU is the card's reply.
type ResponseAPDU struct {
	Data   []byte
	Status StatusWord
}

// ParseResponseAPDU splits raw into data and the trailing status word.
func ParseResponseAPDU(raw []byte) (*ResponseAPDU, error) {
	n := len(raw)
	if n < 2 {
		return nil, fmt.Errorf("response too short: length %d", n)
	}
	return &ResponseAPDU{Data: raw[:n-2], Status: NewStatusWord(raw[n-2], raw[n-1])}, nil
}

func (r *ResponseAPDU) String() string {
	return fmt.Sprintf("%d bytes, SW %s", len(r.Data), r.Status)
}

// ParseCommandAPDU decodes a raw short C-APDU (cases 1 to 4).
//
// The fifth byte is read as Lc when data follows it, otherwise as Le
// (0x00 meaning 256). After the data field an optional single Le byte may
// follow. Header plus data must not exceed MaxShortCommandLength.
func ParseCommandAPDU(raw []byte) (*CommandAPDU, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("%w: length %d, header needs 4 bytes", ErrMalformedCommand, len(raw))
	}

	cls, err := NewClass(raw[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	ins, err := NewInstruction(InsCode(raw[1]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}

	cmd := NewCommandAPDU(cls, ins, raw[2], raw[3], nil, 0)
	body := raw[4:]

	switch {
	case len(body) == 0:
		// Case 1
	case len(body) == 1:
		// Case 2
		cmd.Ne = decodeShortLe(body[0])
	default:
		lc := int(body[0])
		if lc == 0 {
			return nil, fmt.Errorf("%w: extended length encoding is not supported", ErrMalformedCommand)
		}
		switch len(body) - 1 {
		case lc:
			// Case 3
		case lc + 1:
			// Case 4
			cmd.Ne = decodeShortLe(body[len(body)-1])
		default:
			return nil, fmt.Errorf("%w: Lc %d does not match %d body bytes", ErrMalformedCommand, lc, len(body)-1)
		}
		cmd.Data = append([]byte{}, body[1:1+lc]...)
	}

	if 4+len(cmd.Data) > MaxShortCommandLength {
		return nil, fmt.Errorf("%w: header and data exceed %d bytes", ErrMalformedCommand, MaxShortCommandLength)
	}
	return cmd, nil
}

func decodeShortLe(b byte) int {
	if b == 0x00 {
		return MaxShortLe
	}
	return int(b)
}

// Clone returns a deep copy of the command.
func (c *CommandAPDU) Clone() *CommandAPDU {
	dup := *c
	if c.Data != nil {
		dup.Data = append([]byte{}, c.Data...)
	}
	return &dup
}
