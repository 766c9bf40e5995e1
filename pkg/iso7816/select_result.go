package iso7816

import (
	"fmt"
	"strings"

	"github.com/gregLibert/secure-element/pkg/tlv"
)

// SelectResult is the trace of a SELECT, GET RESPONSE follow-ups included.
type SelectResult struct {
	Trace
}

// NewSelectResult wraps a trace that must start with SELECT.
func NewSelectResult(t Trace) (*SelectResult, error) {
	if len(t) == 0 {
		return nil, fmt.Errorf("cannot create result from empty trace")
	}
	if ins := t[0].Command.Instruction.Raw; ins != INS_SELECT {
		return nil, fmt.Errorf("trace must start with SELECT command (got %02X)", byte(ins))
	}
	return &SelectResult{Trace: t}, nil
}

// FCI decodes the assembled response data according to the P2 of the SELECT.
func (r *SelectResult) FCI() (*FileControlInfo, error) {
	if !r.IsSuccess() {
		return nil, fmt.Errorf("selection failed with %s", r.Last().Response.Status)
	}

	result := r.Result()
	if result == nil || len(result.Data) == 0 {
		return nil, fmt.Errorf("no response data found")
	}
	return ParseSelectData(result.Data, r.Trace[0].Command.P2)
}

// FileSize returns the size announced in the FCP of the selected file.
func (r *SelectResult) FileSize() (int, bool) {
	fci, err := r.FCI()
	if err != nil || fci == nil {
		return 0, false
	}
	return fci.FCP.Size()
}

// Describe renders the exchange and the decoded templates as a text report.
func (r *SelectResult) Describe() string {
	var sb strings.Builder

	cmd := r.Trace[0].Command
	sb.WriteString("=== SELECT COMMAND REPORT ===\n")
	fmt.Fprintf(&sb, "[1] Command: SELECT (channel %d)\n", cmd.Class.Channel)
	fmt.Fprintf(&sb, "    + Method:  %02X -> %s\n", cmd.P1, SelectionMethod(cmd.P1))
	fmt.Fprintf(&sb, "    + Control: %02X -> %s occurrence, return %s\n", cmd.P2, FileOccurrence(cmd.P2&0x03), SelectionControl(cmd.P2&0x0C))
	if len(cmd.Data) > 0 {
		fmt.Fprintf(&sb, "    + Data:    %X (%q)\n", cmd.Data, tlv.MakeSafeASCII(cmd.Data))
	}
	writeStatusLine(&sb, r.Trace[0].Response.Status)
	writeFollowUps(&sb, r.Trace)

	result := r.Result()
	sb.WriteString("[=] FINAL OUTCOME:\n")
	if result != nil && len(result.Data) > 0 {
		fmt.Fprintf(&sb, "    + Payload: %d bytes: %X\n", len(result.Data), result.Data)
	}

	fci, err := r.FCI()
	switch {
	case err != nil && result != nil && len(result.Data) > 0:
		fmt.Fprintf(&sb, "    - FCI parsing failed: %v\n", err)
	case err != nil || fci == nil:
		sb.WriteString("    - No data returned to parse.\n")
	default:
		writeFCI(&sb, fci)
	}

	return strings.TrimRight(sb.String(), "\n")
}

func writeFCI(sb *strings.Builder, fci *FileControlInfo) {
	var parts []string
	if fci.FCP != nil {
		parts = append(parts, "FCP")
	}
	if fci.FMD != nil {
		parts = append(parts, "FMD")
	}
	if len(fci.Proprietary) > 0 {
		parts = append(parts, "Proprietary")
	}
	if len(parts) == 0 {
		parts = append(parts, "None")
	}
	fmt.Fprintf(sb, "    - Structure: %s\n", strings.Join(parts, " + "))

	if fci.FCP != nil {
		tlv.WriteStructFields(sb, "FCP", fci.FCP)
		sb.WriteString("\n")
	}
	if fci.FMD != nil {
		tlv.WriteStructFields(sb, "FMD", fci.FMD)
		sb.WriteString("\n")
	}
	if len(fci.Proprietary) > 0 {
		fmt.Fprintf(sb, "    - Proprietary: %X\n", fci.Proprietary)
	}
}

// writeStatusLine prints the status of the first exchange of a report.
func writeStatusLine(sb *strings.Builder, sw StatusWord) {
	mark, text := "[OK]", "Success"
	switch {
	case sw.SW1() == 0x61:
		text = fmt.Sprintf("%02X (%d) bytes still available", sw.SW2(), sw.SW2())
	case sw.SW1() == 0x6C:
		mark, text = "[!!]", fmt.Sprintf("Wrong length, correct is %02X (%d)", sw.SW2(), sw.SW2())
	case sw != SW_NO_ERROR:
		mark, text = "[!!]", sw.Verbose()
	}
	fmt.Fprintf(sb, "    + Result:  [%02X %02X] %s %s\n\n", sw.SW1(), sw.SW2(), mark, text)
}

// writeFollowUps summarizes the 61XX/6CXX continuations of a trace.
func writeFollowUps(sb *strings.Builder, t Trace) {
	if len(t) < 2 {
		return
	}
	fmt.Fprintf(sb, "[2] Protocol: Auto-handling (%d steps)\n", len(t))
	for _, tx := range t[1:] {
		fmt.Fprintf(sb, "    + %-12s -> %s\n", tx.Command.Instruction.Raw, tx.Response.Status)
	}
	fmt.Fprintf(sb, "    + Final SW: [%s]\n", t.Last().Response.Status)
}
