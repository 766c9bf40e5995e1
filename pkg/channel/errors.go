package channel

import (
	"errors"
	"fmt"
)

var (
	// ErrResource marks requests rejected before any card exchange.
	ErrResource = errors.New("resource error")

	ErrChannelLimit   = fmt.Errorf("%w: session channel limit reached", ErrResource)
	ErrInvalidAID     = fmt.Errorf("%w: invalid AID", ErrResource)
	ErrUnknownToken   = fmt.Errorf("%w: unknown token", ErrResource)
	ErrReaderMismatch = fmt.Errorf("%w: reader type mismatch", ErrResource)
	ErrCommandTooLong = fmt.Errorf("%w: command too long", ErrResource)
	ErrBadCommand     = fmt.Errorf("%w: malformed command", ErrResource)

	// ErrSecurity marks requests refused for policy reasons.
	ErrSecurity = errors.New("security error")

	ErrAccessDenied     = fmt.Errorf("%w: access denied", ErrSecurity)
	ErrForbiddenCommand = fmt.Errorf("%w: command not allowed on application channels", ErrSecurity)

	// ErrClosed is returned for tokens of channels or sessions already closed.
	ErrClosed = errors.New("already closed")

	ErrCardNotReady      = errors.New("card not ready")
	ErrUnsupportedReader = errors.New("unsupported reader type")
)
