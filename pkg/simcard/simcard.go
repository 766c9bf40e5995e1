/*
Package simcard is an in-memory UICC for exercising the card stack without hardware.

It implements iso7816.Transmitter and understands the small command set the
access control layers use: MANAGE CHANNEL, SELECT (by AID, file ID or path),
READ BINARY and GET RESPONSE. Every exchange is logged so tests can count
what actually reached the card.

	card := simcard.New()
	card.Install([]byte{0xA0, 0x00, 0x00, 0x00, 0x63, ...}, map[string][]byte{
	    "5031": odf,
	    "4300": acmf,
	})
	link := cardlink.NewPCSC(card)

In T0 mode the card behaves like a T=0 contact card: case 4 responses are
announced with 61XX and READ BINARY with a wrong Le is answered with 6CXX.
*/
package simcard

import (
	"bytes"
	"strings"
	"sync"

	"github.com/gregLibert/secure-element/pkg/iso7816"
)

// DefaultChannels is the number of logical channels a card supports, basic channel included.
const DefaultChannels = 4

// Exchange is one command/response pair seen by the card.
type Exchange struct {
	Command  []byte
	Response []byte
}

// INS returns the instruction byte of the command.
func (e Exchange) INS() iso7816.InsCode {
	if len(e.Command) < 2 {
		return 0
	}
	return iso7816.InsCode(e.Command[1])
}

// Applet is a selectable application and the transparent files behind it.
// Files are keyed by the upper-case hex of the path used to select them.
type Applet struct {
	AID   []byte
	Files map[string][]byte
}

type channelState struct {
	applet  *Applet
	ef      string
	pending []byte
}

// Card is a simulated UICC. Its zero value is not usable; call New.
type Card struct {
	// T0 enables 61XX/6CXX procedure bytes.
	T0 bool

	// Channels is the number of logical channels, basic channel included.
	Channels int

	mu       sync.Mutex
	applets  []*Applet
	open     map[uint8]*channelState
	failures map[iso7816.InsCode]iso7816.StatusWord
	log      []Exchange
}

// New creates an empty card with the basic channel open.
func New() *Card {
	return &Card{
		Channels: DefaultChannels,
		open:     map[uint8]*channelState{iso7816.BasicChannel: {}},
		failures: make(map[iso7816.InsCode]iso7816.StatusWord),
	}
}

// Install adds an applet. Installing an AID twice replaces its files.
func (c *Card) Install(aid []byte, files map[string][]byte) *Applet {
	c.mu.Lock()
	defer c.mu.Unlock()

	normalized := make(map[string][]byte, len(files))
	for path, data := range files {
		normalized[strings.ToUpper(path)] = data
	}

	for _, a := range c.applets {
		if bytes.Equal(a.AID, aid) {
			a.Files = normalized
			return a
		}
	}

	a := &Applet{AID: append([]byte{}, aid...), Files: normalized}
	c.applets = append(c.applets, a)
	return a
}

// WriteFile replaces the content of a file of an installed applet.
func (c *Card) WriteFile(aid []byte, path string, data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	a := c.findApplet(aid)
	if a == nil {
		return false
	}
	a.Files[strings.ToUpper(path)] = data
	return true
}

// FailWith makes every command with the given INS answer sw.
// A sw of 9000 clears the failure.
func (c *Card) FailWith(ins iso7816.InsCode, sw iso7816.StatusWord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sw == iso7816.SW_NO_ERROR {
		delete(c.failures, ins)
		return
	}
	c.failures[ins] = sw
}

// Log returns a copy of the exchanges seen so far.
func (c *Card) Log() []Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Exchange{}, c.log...)
}

// Count returns how many commands with the given INS reached the card.
func (c *Card) Count(ins iso7816.InsCode) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, e := range c.log {
		if e.INS() == ins {
			n++
		}
	}
	return n
}

// ResetLog forgets the recorded exchanges.
func (c *Card) ResetLog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = nil
}

// OpenChannels returns the number of open logical channels, basic channel excluded.
func (c *Card) OpenChannels() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.open) - 1
}

// Transmit implements iso7816.Transmitter.
func (c *Card) Transmit(cmd []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp := c.process(cmd)
	c.log = append(c.log, Exchange{
		Command:  append([]byte{}, cmd...),
		Response: append([]byte{}, resp...),
	})
	return resp, nil
}

func (c *Card) findApplet(aid []byte) *Applet {
	for _, a := range c.applets {
		if bytes.Equal(a.AID, aid) {
			return a
		}
	}
	return nil
}
