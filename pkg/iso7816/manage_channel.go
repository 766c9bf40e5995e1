package iso7816

import (
	"fmt"
)

// MANAGE CHANNEL COMMAND LOGIC (ISO 7816-4):
// The MANAGE CHANNEL command (INS '70') opens and closes logical channels.
//
// P1:
// - '00': Open. With P2 = '00' the card assigns the channel number and
//   returns it as a single data byte.
// - '80': Close the channel given in P2.
//
// The command is always sent on the basic channel here.

const (
	manageChannelOpen  byte = 0x00
	manageChannelClose byte = 0x80
)

// ManageChannelOpen creates a MANAGE CHANNEL asking the card to assign a channel.
func ManageChannelOpen(cla Class) *CommandAPDU {
	ins, _ := NewInstruction(INS_MANAGE_CHANNEL)
	return NewCommandAPDU(cla, ins, manageChannelOpen, 0x00, nil, 1)
}

// ManageChannelClose creates a MANAGE CHANNEL closing the given channel.
func ManageChannelClose(cla Class, channel uint8) (*CommandAPDU, error) {
	if channel == BasicChannel || channel > MaxChannel {
		return nil, fmt.Errorf("channel %d cannot be closed", channel)
	}
	ins, _ := NewInstruction(INS_MANAGE_CHANNEL)
	return NewCommandAPDU(cla, ins, manageChannelClose, channel, nil, 0), nil
}

// OpenedChannel extracts the channel number from a MANAGE CHANNEL open response.
func OpenedChannel(resp *ResponseAPDU) (uint8, error) {
	if resp == nil {
		return 0, fmt.Errorf("manage channel: no response")
	}
	if resp.Status != SW_NO_ERROR {
		return 0, fmt.Errorf("manage channel failed: %s", resp.Status.Verbose())
	}
	if len(resp.Data) != 1 {
		return 0, fmt.Errorf("manage channel returned %d bytes, want 1", len(resp.Data))
	}
	channel := resp.Data[0]
	if channel == BasicChannel || channel > MaxChannel {
		return 0, fmt.Errorf("card assigned invalid channel %d", channel)
	}
	return channel, nil
}
