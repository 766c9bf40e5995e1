package iso7816

import (
	"fmt"
	"strings"

	"github.com/gregLibert/secure-element/pkg/bits"
)

// A CLA byte with b8 clear is interindustry. With b7 also clear it is the
// first interindustry coding: SM in b4-b3, channel 0-3 in b2-b1. With b7
// set it is the further coding: SM flag in b6, channel minus 4 in b4-b1.
// Both carry the chaining flag in b5. Any class with b8 set is proprietary
// and taken as is.

// SecureMessaging is the SM indication of an interindustry class.
type SecureMessaging int

const (
	SMNone         SecureMessaging = 0
	SMProprietary  SecureMessaging = 1 // first coding only
	SMHeaderNoProc SecureMessaging = 2
	SMHeaderAuth   SecureMessaging = 3 // first coding only
)

var smNames = [...]string{"no SM", "proprietary SM", "ISO SM", "ISO SM, header authenticated"}

// Class is a decoded CLA byte.
type Class struct {
	Raw             byte
	IsProprietary   bool
	IsChained       bool
	SecureMessaging SecureMessaging
	Channel         uint8
}

// NewClass decodes cla. 'FF' is reserved.
func NewClass(cla byte) (Class, error) {
	if cla == 0xFF {
		return Class{}, fmt.Errorf("invalid CLA value: 0xFF is reserved")
	}
	if !IsInterindustry(cla) {
		return Class{Raw: cla, IsProprietary: true}, nil
	}

	c := Class{
		Raw:       cla,
		IsChained: bits.IsSet(cla, 5),
		Channel:   DecodeChannel(cla),
	}
	switch {
	case c.Channel < firstInterindustryLimit:
		c.SecureMessaging = SecureMessaging(bits.GetRange(cla, 4, 3))
	case bits.IsSet(cla, 6):
		c.SecureMessaging = SMHeaderNoProc
	}
	return c, nil
}

// NewInterindustryClass builds the class for channel, picking the coding
// the channel number needs.
func NewInterindustryClass(isChained bool, sm SecureMessaging, channel uint8) (Class, error) {
	if channel > MaxChannel {
		return Class{}, fmt.Errorf("channel %d out of range (max %d)", channel, MaxChannel)
	}
	if channel >= firstInterindustryLimit && (sm == SMProprietary || sm == SMHeaderAuth) {
		return Class{}, fmt.Errorf("SM indicator %d not supported for further interindustry range (ch 4-19)", sm)
	}

	c := Class{IsChained: isChained, SecureMessaging: sm, Channel: channel}
	raw, err := c.Encode()
	if err != nil {
		return Class{}, err
	}
	c.Raw = raw
	return c, nil
}

// Encode returns the CLA byte for c.
func (c *Class) Encode() (byte, error) {
	if c.IsProprietary {
		return c.Raw, nil
	}

	var cla byte
	if c.IsChained {
		cla = bits.Set(cla, 5)
	}
	switch {
	case c.Channel < firstInterindustryLimit:
		cla |= byte(c.SecureMessaging) << 2
	case c.SecureMessaging != SMNone:
		cla = bits.Set(cla, 6)
	}
	return EncodeChannel(cla, c.Channel)
}

// String describes c, e.g. "CLA 45 (interindustry, channel 9, no SM)".
func (c Class) String() string {
	if c.IsProprietary {
		return fmt.Sprintf("CLA %02X (proprietary)", c.Raw)
	}

	parts := []string{"interindustry", fmt.Sprintf("channel %d", c.Channel)}
	if int(c.SecureMessaging) < len(smNames) {
		parts = append(parts, smNames[c.SecureMessaging])
	}
	if c.IsChained {
		parts = append(parts, "chained")
	}
	return fmt.Sprintf("CLA %02X (%s)", c.Raw, strings.Join(parts, ", "))
}

// Commands from applications carry an arbitrary channel in their CLA. The
// channel bits are replaced with the channel the application was given,
// keeping the other bits the target coding can carry: b8 b5 b4 b3 for
// channels 0-3, b8 b6 b5 for channels 4-19.

const (
	// BasicChannel is the logical channel that is always open.
	BasicChannel uint8 = 0
	// MaxChannel is the highest addressable logical channel.
	MaxChannel uint8 = 19

	firstInterindustryLimit uint8 = 4
)

// EncodeChannel rewrites the channel bits of cla for the given channel.
func EncodeChannel(cla byte, channel uint8) (byte, error) {
	switch {
	case channel < firstInterindustryLimit:
		return (cla & 0x9C) | channel, nil
	case channel <= MaxChannel:
		return (cla & 0xB0) | bits.Bit(7) | (channel - firstInterindustryLimit), nil
	default:
		return 0, fmt.Errorf("channel %d out of range (max %d)", channel, MaxChannel)
	}
}

// DecodeChannel extracts the logical channel number from cla.
func DecodeChannel(cla byte) uint8 {
	if bits.IsSet(cla, 7) {
		return bits.GetRange(cla, 4, 1) + firstInterindustryLimit
	}
	return bits.GetRange(cla, 2, 1)
}

// IsInterindustry reports whether cla uses an ISO/IEC 7816-4 interindustry
// coding (b8 clear), as opposed to a proprietary or GlobalPlatform class.
func IsInterindustry(cla byte) bool {
	return !bits.IsSet(cla, 8)
}
