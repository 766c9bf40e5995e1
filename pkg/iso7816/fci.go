package iso7816

import (
	"fmt"
	"strings"

	"github.com/gregLibert/secure-element/pkg/tlv"
	"github.com/moov-io/bertlv"
)

// The data returned by SELECT depends on the selection control bits of P2:
//
//	Return FCI  '6F' wrapping an FCP '62' and/or an FMD '64', or their tags inline
//	Return FCP  '62'
//	Return FMD  '64'
//	No data     nothing
//
// Data starting with a tag of 'C0' or above is proprietary and kept raw.

// FCPTemplate holds the File Control Parameters ('62') a UICC returns for
// an application or a transparent file.
type FCPTemplate struct {
	FileSize         []byte `tlv:"80" fmt:"int"`
	TotalSize        []byte `tlv:"81" fmt:"int"`
	Descriptor       []byte `tlv:"82"`
	FileID           []byte `tlv:"83"`
	DFName           []byte `tlv:"84" fmt:"ascii"`
	ShortFileID      []byte `tlv:"88"`
	LifeCycle        []byte `tlv:"8A"`
	SecurityCompact  []byte `tlv:"8C"`
	Proprietary      []byte `tlv:"A5"`
	SecurityExpanded []byte `tlv:"AB"`
	PINStatus        []byte `tlv:"C6"`

	Unknown []bertlv.TLV `tlv:",unknown"`
}

// Size returns the number of data bytes of the file from tag '80', or from
// the total size in tag '81' when '80' is absent.
func (t *FCPTemplate) Size() (int, bool) {
	if t == nil {
		return 0, false
	}
	for _, raw := range [][]byte{t.FileSize, t.TotalSize} {
		if n := len(raw); n > 0 && n <= 4 {
			return tlv.BigEndianInt(raw), true
		}
	}
	return 0, false
}

// FMDTemplate holds the File Management Data ('64').
type FMDTemplate struct {
	AID   []byte `tlv:"84" fmt:"ascii"`
	Label []byte `tlv:"50" fmt:"ascii"`

	Unknown []bertlv.TLV `tlv:",unknown"`
}

// FileControlInfo is the decoded data field of a SELECT response.
type FileControlInfo struct {
	FCP *FCPTemplate
	FMD *FMDTemplate

	// Unknown holds inline tags matching neither template.
	Unknown []bertlv.TLV

	Proprietary []byte
}

// AID returns the DF name from the FCP, else the application identifier from the FMD.
func (fci *FileControlInfo) AID() []byte {
	switch {
	case fci.FCP != nil && len(fci.FCP.DFName) > 0:
		return fci.FCP.DFName
	case fci.FMD != nil && len(fci.FMD.AID) > 0:
		return fci.FMD.AID
	default:
		return nil
	}
}

// Label returns the application label ('50') from the FMD.
func (fci *FileControlInfo) Label() []byte {
	if fci.FMD == nil {
		return nil
	}
	return fci.FMD.Label
}

// ParseSelectData decodes the data field of a SELECT response sent with p2.
// It returns nil for empty data and for the no-data selection control.
func ParseSelectData(data []byte, p2 byte) (*FileControlInfo, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] >= 0xC0 {
		return &FileControlInfo{Proprietary: data}, nil
	}

	packets, err := bertlv.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("BER-TLV decode failed: %w", err)
	}

	fci := &FileControlInfo{FCP: &FCPTemplate{}, FMD: &FMDTemplate{}}

	switch SelectionControl(p2 & 0x0C) {
	case ReturnFCP:
		return fci, decodeTemplate(packets, "62", fci.FCP)
	case ReturnFMD:
		return fci, decodeTemplate(packets, "64", fci.FMD)
	case ReturnNoData:
		return nil, nil
	}

	if wrapper, ok := findPacket(packets, "6F"); ok {
		packets = wrapper.TLVs
	}

	hasFCP := decodeTemplate(packets, "62", fci.FCP) == nil
	hasFMD := decodeTemplate(packets, "64", fci.FMD) == nil
	if hasFCP || hasFMD {
		return fci, nil
	}

	// Inline tags: FCP first, what it leaves to FMD, the rest stays unknown.
	if err := tlv.UnmarshalFromPackets(packets, fci.FCP); err != nil {
		return nil, fmt.Errorf("inline FCP: %w", err)
	}
	rest := fci.FCP.Unknown
	fci.FCP.Unknown = nil

	if err := tlv.UnmarshalFromPackets(rest, fci.FMD); err != nil {
		return nil, fmt.Errorf("inline FMD: %w", err)
	}
	fci.Unknown = fci.FMD.Unknown
	fci.FMD.Unknown = nil

	return fci, nil
}

func findPacket(packets []bertlv.TLV, tag string) (bertlv.TLV, bool) {
	for _, p := range packets {
		if strings.EqualFold(p.Tag, tag) {
			return p, true
		}
	}
	return bertlv.TLV{}, false
}

func decodeTemplate(packets []bertlv.TLV, tag string, target any) error {
	p, ok := findPacket(packets, tag)
	if !ok {
		return fmt.Errorf("template '%s' not found", tag)
	}
	if err := tlv.UnmarshalFromPackets(p.TLVs, target); err != nil {
		return fmt.Errorf("template '%s': %w", tag, err)
	}
	return nil
}
