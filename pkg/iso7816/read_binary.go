package iso7816

import (
	"fmt"
)

// READ BINARY COMMAND LOGIC (ISO 7816-4):
// The READ BINARY command (INS 'B0') reads a part of the content of the
// currently selected transparent EF.
//
// P1-P2 (Offset):
// - If bit 8 of P1 is 0, P1-P2 encode a 15-bit offset into the file.
// - If bit 8 of P1 is 1, bits 5-1 of P1 are an SFI and P2 is an 8-bit offset.
//   (Not used here: files are always selected first.)
//
// Le: the number of bytes to read. A short command reads at most 256 bytes,
// so larger files are read in successive chunks.

// MaxBinaryOffset is the largest offset encodable in P1-P2 (15 bits).
const MaxBinaryOffset = 0x7FFF

// ReadBinary creates a READ BINARY command reading length bytes at offset
// of the current EF.
func ReadBinary(cla Class, offset int, length int) (*CommandAPDU, error) {
	if offset < 0 || offset > MaxBinaryOffset {
		return nil, fmt.Errorf("offset %d out of range (max %d)", offset, MaxBinaryOffset)
	}
	if length <= 0 || length > MaxShortLe {
		return nil, fmt.Errorf("length %d out of range (1-%d)", length, MaxShortLe)
	}

	ins, _ := NewInstruction(INS_READ_BINARY)
	return NewCommandAPDU(cla, ins, byte(offset>>8), byte(offset), nil, length), nil
}
