/*
Package cardlink connects the access control layers to a physical secure element.

A Link owns the card: it opens and closes logical channels and moves raw
APDUs on one of them. It does not interpret procedure bytes; callers wrap a
channel with On and hand it to an iso7816.Client for that.

# Card State

The link also reports whether the card can be used. Anything other than
StateReady means no channel operation should be attempted.

	link, err := cardlink.Connect("", cardlink.WithLogger(logger))
	if err != nil {
	    return err
	}
	defer link.Close()

	ch, resp, err := link.OpenChannel(aid)
	client := iso7816.NewClient(cardlink.On(link, ch))
*/
package cardlink

import (
	"fmt"

	"github.com/gregLibert/secure-element/pkg/iso7816"
)

// State describes the readiness of the secure element.
type State int

const (
	StateUnknown State = iota
	StateReady
	StateAbsent
	StateIllegal
	StatePersoInProgress
	StatePermanentlyBlocked
)

var stateNames = map[State]string{
	StateUnknown:            "unknown",
	StateReady:              "ready",
	StateAbsent:             "absent",
	StateIllegal:            "illegal",
	StatePersoInProgress:    "perso-in-progress",
	StatePermanentlyBlocked: "permanently-blocked",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// IsReady reports whether channel operations are allowed in this state.
func (s State) IsReady() bool {
	return s == StateReady
}

// Link is the raw capability to talk to a single card.
type Link interface {
	// OpenChannel opens a logical channel and selects aid on it. It returns
	// the channel number and the SELECT response (data followed by SW1 SW2).
	OpenChannel(aid []byte) (uint8, []byte, error)

	// Transmit sends one command APDU on channel and returns the raw
	// response, status word included.
	Transmit(channel uint8, cmd []byte) ([]byte, error)

	// CloseChannel releases a channel opened with OpenChannel.
	CloseChannel(channel uint8) error

	State() State
}

type channelTransmitter struct {
	link    Link
	channel uint8
}

func (t channelTransmitter) Transmit(cmd []byte) ([]byte, error) {
	return t.link.Transmit(t.channel, cmd)
}

// On binds a Link to one of its channels so it can back an iso7816.Client.
func On(link Link, channel uint8) iso7816.Transmitter {
	return channelTransmitter{link: link, channel: channel}
}
