package iso7816

import (
	"errors"
	"fmt"
	"sync"
)

// DefaultMaxContinuations bounds the 61XX/6CXX follow-ups of a single Send.
const DefaultMaxContinuations = 32

// ErrTooManyContinuations is returned when the card keeps answering 61XX/6CXX.
var ErrTooManyContinuations = errors.New("too many procedure byte continuations")

// Transmitter sends one raw command and returns the raw response.
type Transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

// Client sends commands and follows the procedure bytes of T=0 cards:
// '61XX' is answered with a GET RESPONSE on the same channel and its data
// appended, '6CXX' replays the command with Le set to XX. Send calls are
// serialized.
type Client struct {
	Card Transmitter

	// MaxContinuations overrides DefaultMaxContinuations when positive.
	MaxContinuations int

	mu sync.Mutex
}

func NewClient(card Transmitter) *Client {
	return &Client{Card: card}
}

// Send runs cmd to its final status word and returns every transaction
// it took. The trace built so far is returned with any error.
func (c *Client) Send(cmd *CommandAPDU) (Trace, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	limit := c.MaxContinuations
	if limit <= 0 {
		limit = DefaultMaxContinuations
	}

	var trace Trace
	current := cmd

	for {
		resp, err := c.exchange(current)
		if err != nil {
			return trace, err
		}
		trace = append(trace, Transaction{Command: current, Response: resp})

		sw1 := resp.Status.SW1()
		if sw1 != 0x61 && sw1 != 0x6C {
			return trace, nil
		}
		if len(trace) > limit {
			return trace, fmt.Errorf("%w: gave up after %d exchanges", ErrTooManyContinuations, len(trace))
		}

		ne := decodeShortLe(resp.Status.SW2())
		if sw1 == 0x6C {
			current = current.Clone()
			current.Ne = ne
			continue
		}
		if current, err = getResponseFor(cmd, ne); err != nil {
			return trace, err
		}
	}
}

func (c *Client) exchange(cmd *CommandAPDU) (*ResponseAPDU, error) {
	rawCmd, err := cmd.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encoding error: %w", err)
	}

	rawResp, err := c.Card.Transmit(rawCmd)
	if err != nil {
		return nil, fmt.Errorf("transmission error: %w", err)
	}

	return ParseResponseAPDU(rawResp)
}

// getResponseFor builds the GET RESPONSE for cmd, on cmd's channel.
func getResponseFor(cmd *CommandAPDU, ne int) (*CommandAPDU, error) {
	raw, err := cmd.Class.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode Class: %w", err)
	}

	cla, err := EncodeChannel(0x00, DecodeChannel(raw))
	if err != nil {
		return nil, err
	}
	cls, err := NewClass(cla)
	if err != nil {
		return nil, err
	}

	ins, _ := NewInstruction(INS_GET_RESPONSE)
	return NewCommandAPDU(cls, ins, 0x00, 0x00, nil, ne), nil
}
