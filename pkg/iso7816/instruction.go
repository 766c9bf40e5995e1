package iso7816

import (
	"fmt"

	"github.com/gregLibert/secure-element/pkg/bits"
)

// InsCode is the raw instruction byte (INS) of a command.
//
// Values with a high nibble of 6 or 9 are reserved by ISO/IEC 7816-3 for
// procedure bytes and cannot be instructions. With interindustry classes an
// odd INS announces a BER-TLV data field (READ BINARY B0 vs B1).
type InsCode byte

// Instructions seen on the access control path and on applet channels.
const (
	INS_VERIFY                InsCode = 0x20
	INS_MANAGE_CHANNEL        InsCode = 0x70
	INS_EXTERNAL_AUTHENTICATE InsCode = 0x82
	INS_GET_CHALLENGE         InsCode = 0x84
	INS_INTERNAL_AUTHENTICATE InsCode = 0x88
	INS_SELECT                InsCode = 0xA4
	INS_READ_BINARY           InsCode = 0xB0
	INS_READ_BINARY_BER       InsCode = 0xB1
	INS_READ_RECORD           InsCode = 0xB2
	INS_GET_RESPONSE          InsCode = 0xC0
	INS_ENVELOPE              InsCode = 0xC2
	INS_GET_DATA              InsCode = 0xCA
	INS_GET_DATA_BER          InsCode = 0xCB
	INS_UPDATE_BINARY         InsCode = 0xD6
	INS_PUT_DATA              InsCode = 0xDA
)

var insNames = map[InsCode]string{
	INS_VERIFY:                "VERIFY",
	INS_MANAGE_CHANNEL:        "MANAGE CHANNEL",
	INS_EXTERNAL_AUTHENTICATE: "EXTERNAL AUTHENTICATE",
	INS_GET_CHALLENGE:         "GET CHALLENGE",
	INS_INTERNAL_AUTHENTICATE: "INTERNAL AUTHENTICATE",
	INS_SELECT:                "SELECT",
	INS_READ_BINARY:           "READ BINARY",
	INS_READ_BINARY_BER:       "READ BINARY",
	INS_READ_RECORD:           "READ RECORD",
	INS_GET_RESPONSE:          "GET RESPONSE",
	INS_ENVELOPE:              "ENVELOPE",
	INS_GET_DATA:              "GET DATA",
	INS_GET_DATA_BER:          "GET DATA",
	INS_UPDATE_BINARY:         "UPDATE BINARY",
	INS_PUT_DATA:              "PUT DATA",
}

// String returns the command name, or the hex value of an unlisted INS.
func (i InsCode) String() string {
	if name, ok := insNames[i]; ok {
		return name
	}
	return fmt.Sprintf("INS %02X", byte(i))
}

// Instruction is a validated INS byte.
type Instruction struct {
	Raw      InsCode
	IsBERTLV bool
}

// NewInstruction validates ins. 6X and 9X values are rejected.
func NewInstruction(ins InsCode) (Instruction, error) {
	switch byte(ins) & 0xF0 {
	case 0x60, 0x90:
		return Instruction{}, fmt.Errorf("invalid INS 0x%02X: 6X and 9X are reserved", byte(ins))
	}

	return Instruction{
		Raw:      ins,
		IsBERTLV: bits.IsSet(byte(ins), 1),
	}, nil
}

// Verbose returns a one-line description, e.g. "B1 READ BINARY (BER-TLV data)".
func (i Instruction) Verbose() string {
	format := "plain data"
	if i.IsBERTLV {
		format = "BER-TLV data"
	}
	name := i.Raw.String()
	if _, known := insNames[i.Raw]; !known {
		name = "unlisted"
	}
	return fmt.Sprintf("%02X %s (%s)", byte(i.Raw), name, format)
}
