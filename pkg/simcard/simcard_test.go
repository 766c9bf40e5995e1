package simcard

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gregLibert/secure-element/pkg/iso7816"
	"github.com/gregLibert/secure-element/pkg/tlv"
)

var testAID = tlv.Hex("A000000063504B43532D3135")

func newTestCard(t0 bool) *Card {
	card := New()
	card.T0 = t0
	card.Install(testAID, map[string][]byte{
		"5031":     tlv.Hex("A7 06 30 04 04 02 5207"),
		"3F005207": tlv.Hex("0102030405"),
	})
	return card
}

func transmit(t *testing.T, card *Card, hexCmd string) string {
	t.Helper()
	resp, err := card.Transmit(tlv.Hex(hexCmd))
	if err != nil {
		t.Fatalf("Transmit(%s) failed: %v", hexCmd, err)
	}
	return fmt.Sprintf("%X", resp)
}

func TestCard_ManageChannel(t *testing.T) {
	card := newTestCard(false)

	if got := transmit(t, card, "00 70 00 00 01"); got != "019000" {
		t.Errorf("Open #1 = %s, want 019000", got)
	}
	if got := transmit(t, card, "00 70 00 00 01"); got != "029000" {
		t.Errorf("Open #2 = %s, want 029000", got)
	}
	if got := transmit(t, card, "00 70 00 00 01"); got != "039000" {
		t.Errorf("Open #3 = %s, want 039000", got)
	}
	if got := transmit(t, card, "00 70 00 00 01"); got != "6A81" {
		t.Errorf("Open beyond capacity = %s, want 6A81", got)
	}
	if card.OpenChannels() != 3 {
		t.Errorf("OpenChannels() = %d, want 3", card.OpenChannels())
	}

	if got := transmit(t, card, "00 70 80 02"); got != "9000" {
		t.Errorf("Close #2 = %s, want 9000", got)
	}
	if got := transmit(t, card, "02 B0 00 00 01"); got != "6881" {
		t.Errorf("Command on closed channel = %s, want 6881", got)
	}
	if got := transmit(t, card, "00 70 80 00"); got != "6A86" {
		t.Errorf("Closing basic channel = %s, want 6A86", got)
	}
}

func TestCard_SelectAndRead(t *testing.T) {
	card := newTestCard(false)
	transmit(t, card, "00 70 00 00 01")

	if got := transmit(t, card, "01 A4 04 00 0C A000000063504B43532D3135"); got != "6F0E840CA000000063504B43532D31359000" {
		t.Errorf("Select AID = %s", got)
	}
	if got := transmit(t, card, "01 A4 00 04 02 5031"); got != "620B8201018302503180020008"+"9000" {
		t.Errorf("Select ODF = %s", got)
	}
	if got := transmit(t, card, "01 B0 00 00 08"); got != "A706300404025207"+"9000" {
		t.Errorf("Read ODF = %s", got)
	}
	if got := transmit(t, card, "01 B0 00 06 00"); got != "5207"+"6282" {
		t.Errorf("Read past end = %s, want 52076282", got)
	}
	if got := transmit(t, card, "01 A4 08 04 02 5207"); got != "620B8201018302520780020005"+"9000" {
		t.Errorf("Select path from MF = %s", got)
	}
	if got := transmit(t, card, "01 A4 00 04 02 9999"); got != "6A82" {
		t.Errorf("Select missing file = %s, want 6A82", got)
	}

	// The basic channel has no application selected.
	if got := transmit(t, card, "00 A4 00 04 02 5031"); got != "6A82" {
		t.Errorf("Select on basic channel = %s, want 6A82", got)
	}
}

func TestCard_T0ThroughClient(t *testing.T) {
	card := newTestCard(true)
	client := iso7816.NewClient(card)
	transmit(t, card, "00 70 00 00 01")
	cls, _ := iso7816.NewClass(0x01)

	trace, err := client.Send(iso7816.SelectByAID(cls, testAID))
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(trace) != 2 || trace[1].Command.Instruction.Raw != iso7816.INS_GET_RESPONSE {
		t.Fatalf("Expected SELECT then GET RESPONSE, got %d exchanges", len(trace))
	}

	sel, _ := iso7816.SelectFile(cls, []byte{0x50, 0x31})
	if _, err := client.Send(sel); err != nil {
		t.Fatalf("Select ODF failed: %v", err)
	}

	read, _ := iso7816.ReadBinary(cls, 0, iso7816.MaxShortLe)
	trace, err = client.Send(read)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if diff := cmp.Diff(tlv.Hex("A706300404025207"), trace.Result().Data); diff != "" {
		t.Errorf("Read data mismatch (-want +got):\n%s", diff)
	}
	if trace[0].Response.Status.SW1() != 0x6C {
		t.Errorf("Expected a 6CXX correction first, got %04X", uint16(trace[0].Response.Status))
	}
}

func TestCard_LogAndFailures(t *testing.T) {
	card := newTestCard(false)
	transmit(t, card, "00 70 00 00 01")
	transmit(t, card, "01 A4 04 00 0C A000000063504B43532D3135")

	card.FailWith(iso7816.INS_READ_BINARY, iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT)
	transmit(t, card, "01 A4 00 04 02 5031")
	if got := transmit(t, card, "01 B0 00 00 08"); got != "6982" {
		t.Errorf("Injected failure = %s, want 6982", got)
	}
	card.FailWith(iso7816.INS_READ_BINARY, iso7816.SW_NO_ERROR)
	if got := transmit(t, card, "01 B0 00 00 02"); got != "A7069000" {
		t.Errorf("After clearing failure = %s, want A7069000", got)
	}

	if n := card.Count(iso7816.INS_READ_BINARY); n != 2 {
		t.Errorf("Count(READ BINARY) = %d, want 2", n)
	}
	if n := len(card.Log()); n != 5 {
		t.Errorf("Log length = %d, want 5", n)
	}
	card.ResetLog()
	if len(card.Log()) != 0 {
		t.Error("ResetLog() should clear the log")
	}

	if !card.WriteFile(testAID, "5031", tlv.Hex("00")) {
		t.Error("WriteFile on installed applet should succeed")
	}
	if card.WriteFile(tlv.Hex("A000000001"), "5031", nil) {
		t.Error("WriteFile on unknown applet should fail")
	}
}
