package iso7816

import (
	"fmt"
	"strings"

	"github.com/gregLibert/secure-element/pkg/tlv"
)

// ReadBinaryResult represents the outcome of a READ BINARY command execution.
type ReadBinaryResult struct {
	Trace
}

// NewReadBinaryResult wraps a trace that must start with READ BINARY.
func NewReadBinaryResult(t Trace) (*ReadBinaryResult, error) {
	if len(t) == 0 {
		return nil, fmt.Errorf("cannot create result from empty trace")
	}

	if t[0].Command.Instruction.Raw != INS_READ_BINARY {
		return nil, fmt.Errorf("trace must start with READ BINARY command (got %02X)", t[0].Command.Instruction.Raw)
	}

	return &ReadBinaryResult{Trace: t}, nil
}

// Data returns the bytes read, or nil when the read did not succeed.
// A successful read of nothing returns an empty, non-nil slice.
// An end-of-file warning (6282) still returns the bytes the card sent.
func (r *ReadBinaryResult) Data() []byte {
	result := r.Result()
	if result == nil {
		return nil
	}
	if result.Status != SW_NO_ERROR && result.Status != SW_WARN_EOF_REACHED {
		return nil
	}
	if result.Data == nil {
		return []byte{}
	}
	return result.Data
}

// Describe generates a detailed, ASCII-formatted report of the read operation.
func (r *ReadBinaryResult) Describe() string {
	var sb strings.Builder

	tx0 := r.Trace[0]
	cmd := tx0.Command
	offset := int(cmd.P1)<<8 | int(cmd.P2)

	sb.WriteString("=== READ BINARY COMMAND REPORT ===\n")
	fmt.Fprintf(&sb, "[1] Command: READ BINARY (channel %d)\n", cmd.Class.Channel)
	fmt.Fprintf(&sb, "    + Offset:  %04X (%d)\n", offset, offset)
	fmt.Fprintf(&sb, "    + Le:      %d\n", cmd.Ne)

	writeStatusLine(&sb, tx0.Response.Status)
	writeFollowUps(&sb, r.Trace)

	finalPayload := r.Result().Data

	sb.WriteString("[=] DATA OUTCOME:\n")
	if len(finalPayload) > 0 {
		fmt.Fprintf(&sb, "    + Length: %d bytes\n", len(finalPayload))
		fmt.Fprintf(&sb, "    + Dump:   %X\n", finalPayload)
		fmt.Fprintf(&sb, "    + ASCII:  %q\n", tlv.MakeSafeASCII(finalPayload))
	} else {
		sb.WriteString("    - No Data Received.\n")
	}

	return strings.TrimRight(sb.String(), "\n")
}
