package access

import (
	"errors"
	"fmt"

	"github.com/gregLibert/secure-element/pkg/arf"
	"github.com/rs/zerolog"
)

// ErrNoCertificateHash is returned when the caller has no usable certificate hash.
var ErrNoCertificateHash = errors.New("no certificate hash for the requesting application")

// RuleSource provides the current access rules.
type RuleSource interface {
	Refresh() (arf.RuleSet, error)
}

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithLogger sets the logger used to report decisions.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Enforcer) {
		e.logger = logger
	}
}

// Enforcer answers access queries against the rules read from the card.
type Enforcer struct {
	rules  RuleSource
	logger zerolog.Logger
}

// NewEnforcer creates an Enforcer reading its rules from src.
func NewEnforcer(src RuleSource, opts ...Option) *Enforcer {
	e := &Enforcer{rules: src, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsAccessAllowed refreshes the rules and decides for (hash, aid).
//
// A missing or malformed hash fails the request. A rule read failure does
// not: the rule set is then empty and the answer is false.
func (e *Enforcer) IsAccessAllowed(hash, aid []byte) (bool, error) {
	if len(hash) != arf.HashSize {
		return false, fmt.Errorf("%w: got %d bytes, want %d", ErrNoCertificateHash, len(hash), arf.HashSize)
	}

	set, err := e.rules.Refresh()
	if err != nil {
		e.logger.Warn().Err(err).Hex("aid", aid).Msg("access rules unavailable, denying")
		return false, nil
	}

	allowed := IsAccessAllowed(set.Rules, hash, aid)
	e.logger.Debug().
		Hex("hash", hash).
		Hex("aid", aid).
		Int("rules", len(set.Rules)).
		Bool("allowed", allowed).
		Msg("access decision")
	return allowed, nil
}
