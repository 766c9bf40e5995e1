package iso7816

import (
	"fmt"
)

// SELECT (INS 'A4') carries the selection method in P1. P2 packs what the
// card should return (bits 4-3) with the occurrence to pick (bits 2-1).

// SelectionMethod is the P1 of a SELECT.
type SelectionMethod byte

const (
	SelectByFileID          SelectionMethod = 0x00
	SelectChildDF           SelectionMethod = 0x01
	SelectEFUnderCurrentDF  SelectionMethod = 0x02
	SelectParentDF          SelectionMethod = 0x03
	SelectByDFName          SelectionMethod = 0x04
	SelectPathFromMF        SelectionMethod = 0x08
	SelectPathFromCurrentDF SelectionMethod = 0x09
)

var methodNames = map[SelectionMethod]string{
	SelectByFileID:          "by file ID",
	SelectChildDF:           "child DF",
	SelectEFUnderCurrentDF:  "EF under current DF",
	SelectParentDF:          "parent DF",
	SelectByDFName:          "by DF name",
	SelectPathFromMF:        "path from MF",
	SelectPathFromCurrentDF: "path from current DF",
}

func (s SelectionMethod) String() string {
	if name, ok := methodNames[s]; ok {
		return name
	}
	return fmt.Sprintf("method %02X", byte(s))
}

// FileOccurrence is carried in bits 2-1 of P2.
type FileOccurrence byte

const (
	FirstOrOnlyOccurrence FileOccurrence = 0x00
	LastOccurrence        FileOccurrence = 0x01
	NextOccurrence        FileOccurrence = 0x02
	PreviousOccurrence    FileOccurrence = 0x03
)

func (f FileOccurrence) String() string {
	return [...]string{"first", "last", "next", "previous"}[f&0x03]
}

// SelectionControl is carried in bits 4-3 of P2.
type SelectionControl byte

const (
	ReturnFCI    SelectionControl = 0x00
	ReturnFCP    SelectionControl = 0x04
	ReturnFMD    SelectionControl = 0x08
	ReturnNoData SelectionControl = 0x0C
)

func (s SelectionControl) String() string {
	return [...]string{"FCI", "FCP", "FMD", "no data"}[(s>>2)&0x03]
}

// NewSelectCommand builds a SELECT.
//
// Le is only set when no data is sent, so the command stays a case 2 or a
// case 3 APDU that T=0 readers can carry. Case 3 responses come back
// through '61XX' and a GET RESPONSE.
func NewSelectCommand(cla Class, method SelectionMethod, occurrence FileOccurrence, ctrl SelectionControl, data []byte) *CommandAPDU {
	ins, _ := NewInstruction(INS_SELECT)

	ne := 0
	if len(data) == 0 && ctrl != ReturnNoData {
		ne = MaxShortLe
	}
	return NewCommandAPDU(cla, ins, byte(method), byte(ctrl)|byte(occurrence), data, ne)
}

// SelectByAID selects an application by its AID and asks for the FCI.
func SelectByAID(cla Class, aid []byte) *CommandAPDU {
	return NewSelectCommand(cla, SelectByDFName, FirstOrOnlyOccurrence, ReturnFCI, aid)
}

// SelectMF selects the master file.
func SelectMF(cla Class) *CommandAPDU {
	return NewSelectCommand(cla, SelectByFileID, FirstOrOnlyOccurrence, ReturnFCI, nil)
}

// MasterFile is the file identifier of the MF.
var MasterFile = []byte{0x3F, 0x00}

// SelectFile creates a SELECT of an EF or DF by its file path, asking for
// the FCP so the caller learns the file size.
//
// A single 2-byte file ID is selected directly (P1 '00'). Longer paths are
// selected from the MF when they start with '3F00' (P1 '08', the MF
// identifier itself is dropped), otherwise from the current DF (P1 '09').
func SelectFile(cla Class, path []byte) (*CommandAPDU, error) {
	if len(path) == 0 || len(path)%2 != 0 {
		return nil, fmt.Errorf("invalid file path %X: expected a non-empty sequence of 2-byte file IDs", path)
	}

	method := SelectByFileID
	data := path
	switch {
	case len(path) == 2:
	case path[0] == MasterFile[0] && path[1] == MasterFile[1]:
		method = SelectPathFromMF
		data = path[2:]
	default:
		method = SelectPathFromCurrentDF
	}

	return NewSelectCommand(cla, method, FirstOrOnlyOccurrence, ReturnFCP, data), nil
}
