package cardlink

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gregLibert/secure-element/pkg/iso7816"
	"github.com/rs/zerolog"
)

// ErrChannelMismatch is returned when a command's CLA addresses another channel.
var ErrChannelMismatch = errors.New("command class byte does not address the channel")

// Option configures a link.
type Option func(*options)

type options struct {
	logger           zerolog.Logger
	maxContinuations int
}

// WithLogger sets the logger used for channel management events.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMaxContinuations bounds the 61XX/6CXX follow-ups of the link's own commands.
func WithMaxContinuations(n int) Option {
	return func(o *options) {
		o.maxContinuations = n
	}
}

// PCSC implements Link over any transmitter speaking ISO 7816-4, typically
// a PC/SC card handle. Channels are managed with MANAGE CHANNEL on the
// basic channel.
type PCSC struct {
	card   iso7816.Transmitter
	client *iso7816.Client
	logger zerolog.Logger

	mu    sync.Mutex
	state State
	open  map[uint8]bool
}

// NewPCSC creates a link over card. The card is assumed ready until told otherwise.
func NewPCSC(card iso7816.Transmitter, opts ...Option) *PCSC {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	return &PCSC{
		card:   card,
		client: &iso7816.Client{Card: card, MaxContinuations: o.maxContinuations},
		logger: o.logger,
		state:  StateReady,
		open:   make(map[uint8]bool),
	}
}

// OpenChannel implements Link.
func (l *PCSC) OpenChannel(aid []byte) (uint8, []byte, error) {
	trace, err := l.client.Send(iso7816.ManageChannelOpen(iso7816.Class{}))
	if err != nil {
		return 0, nil, fmt.Errorf("manage channel open: %w", err)
	}
	channel, err := iso7816.OpenedChannel(trace.Result())
	if err != nil {
		return 0, nil, err
	}

	l.mu.Lock()
	l.open[channel] = true
	l.mu.Unlock()

	cls, err := iso7816.NewInterindustryClass(false, iso7816.SMNone, channel)
	if err != nil {
		l.closeQuietly(channel)
		return 0, nil, err
	}

	trace, err = l.client.Send(iso7816.SelectByAID(cls, aid))
	if err != nil {
		l.closeQuietly(channel)
		return 0, nil, fmt.Errorf("select %X: %w", aid, err)
	}

	result := trace.Result()
	if !trace.IsSuccess() {
		l.closeQuietly(channel)
		return 0, nil, fmt.Errorf("select %X failed: %s", aid, result.Status.Verbose())
	}

	l.logger.Debug().Uint8("channel", channel).Hex("aid", aid).Msg("channel opened")

	resp := append(append([]byte{}, result.Data...), result.Status.SW1(), result.Status.SW2())
	return channel, resp, nil
}

// Transmit implements Link. The command must already carry the channel in its CLA.
func (l *PCSC) Transmit(channel uint8, cmd []byte) ([]byte, error) {
	if len(cmd) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	if got := iso7816.DecodeChannel(cmd[0]); got != channel {
		return nil, fmt.Errorf("%w: CLA %02X is channel %d, want %d", ErrChannelMismatch, cmd[0], got, channel)
	}

	l.mu.Lock()
	open := channel == iso7816.BasicChannel || l.open[channel]
	l.mu.Unlock()
	if !open {
		return nil, fmt.Errorf("channel %d is not open", channel)
	}

	return l.card.Transmit(cmd)
}

// CloseChannel implements Link.
func (l *PCSC) CloseChannel(channel uint8) error {
	cmd, err := iso7816.ManageChannelClose(iso7816.Class{}, channel)
	if err != nil {
		return err
	}

	l.mu.Lock()
	delete(l.open, channel)
	l.mu.Unlock()

	trace, err := l.client.Send(cmd)
	if err != nil {
		return fmt.Errorf("manage channel close: %w", err)
	}
	if !trace.IsSuccess() {
		return fmt.Errorf("close channel %d failed: %s", channel, trace.Last().Response.Status.Verbose())
	}

	l.logger.Debug().Uint8("channel", channel).Msg("channel closed")
	return nil
}

func (l *PCSC) closeQuietly(channel uint8) {
	if err := l.CloseChannel(channel); err != nil {
		l.logger.Warn().Err(err).Uint8("channel", channel).Msg("close after failed open")
	}
}

// State implements Link.
func (l *PCSC) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// SetState records a card state reported by a watcher.
func (l *PCSC) SetState(s State) {
	l.mu.Lock()
	prev := l.state
	l.state = s
	if !s.IsReady() {
		// The card forgets its channels when it goes away.
		l.open = make(map[uint8]bool)
	}
	l.mu.Unlock()

	if prev != s {
		l.logger.Info().Stringer("from", prev).Stringer("to", s).Msg("card state changed")
	}
}

// OpenChannels returns the number of channels currently held open.
func (l *PCSC) OpenChannels() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.open)
}
