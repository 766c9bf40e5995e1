package cardlink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ebfe/scard"
)

// PollInterval bounds each GetStatusChange wait so Watch notices cancellation.
const PollInterval = 500 * time.Millisecond

// ErrNoReader is returned when PC/SC reports no reader.
var ErrNoReader = errors.New("no smart card reader found")

// Reader is a PCSC link bound to a PC/SC reader.
type Reader struct {
	*PCSC

	Name string

	ctx  *scard.Context
	card *scard.Card
}

// ListReaders returns the names of the connected PC/SC readers.
func ListReaders() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("error establishing context: %w", err)
	}
	defer ctx.Release()

	readers, err := ctx.ListReaders()
	if err != nil {
		return nil, fmt.Errorf("error listing readers: %w", err)
	}
	return readers, nil
}

// Connect opens the named reader, or the first one when name is empty.
func Connect(name string, opts ...Option) (*Reader, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("error establishing context: %w", err)
	}

	if name == "" {
		readers, err := ctx.ListReaders()
		if err != nil || len(readers) == 0 {
			_ = ctx.Release()
			return nil, ErrNoReader
		}
		name = readers[0]
	}

	// Force T=0 or T=1 to avoid "Parameter Incorrect" errors (Error 57)
	card, err := ctx.Connect(name, scard.ShareShared, scard.ProtocolT0|scard.ProtocolT1)
	if err != nil {
		_ = ctx.Release()
		return nil, fmt.Errorf("error connecting to card in %q: %w", name, err)
	}

	return &Reader{
		PCSC: NewPCSC(card, opts...),
		Name: name,
		ctx:  ctx,
		card: card,
	}, nil
}

// Close disconnects the card and releases the PC/SC context.
func (r *Reader) Close() error {
	errDisconnect := r.card.Disconnect(scard.LeaveCard)
	errRelease := r.ctx.Release()
	return errors.Join(errDisconnect, errRelease)
}

// Watch follows the reader's state until ctx is done, recording every change
// on the link and reporting it to notify. It returns nil on cancellation.
func (r *Reader) Watch(ctx context.Context, notify func(State)) error {
	rs := []scard.ReaderState{{Reader: r.Name, CurrentState: scard.StateUnaware}}

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := r.ctx.GetStatusChange(rs, PollInterval)
		if errors.Is(err, scard.ErrTimeout) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to get status change: %w", err)
		}

		state := StateFromFlags(rs[0].EventState)
		prev := r.State()
		r.SetState(state)
		if notify != nil && state != prev {
			notify(state)
		}

		rs[0].CurrentState = rs[0].EventState &^ scard.StateChanged
	}
}

// StateFromFlags maps PC/SC reader flags to a card state.
func StateFromFlags(flags scard.StateFlag) State {
	switch {
	case flags&scard.StateMute != 0:
		return StateIllegal
	case flags&scard.StatePresent != 0:
		return StateReady
	case flags&scard.StateEmpty != 0:
		return StateAbsent
	default:
		return StateUnknown
	}
}
