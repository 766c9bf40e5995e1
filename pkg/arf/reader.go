package arf

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/gregLibert/secure-element/pkg/cardlink"
	"github.com/gregLibert/secure-element/pkg/iso7816"
	"github.com/gregLibert/secure-element/pkg/tlv"
	"github.com/rs/zerolog"
)

// State is the step a Reader is at. A read moves through the states in
// declaration order and ends in StateDone or StateFailed.
type State int

const (
	StateIdle State = iota
	StateAwaitOpen
	StateAwaitODF
	StateAwaitDODF
	StateAwaitACMF
	StateAwaitACRules
	StateAwaitConditions
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateIdle:            "idle",
	StateAwaitOpen:       "await-open",
	StateAwaitODF:        "await-odf",
	StateAwaitDODF:       "await-dodf",
	StateAwaitACMF:       "await-acmf",
	StateAwaitACRules:    "await-acrules",
	StateAwaitConditions: "await-conditions",
	StateDone:            "done",
	StateFailed:          "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the logger used to report reads and failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reader) {
		r.logger = logger
	}
}

// WithMaxContinuations bounds the 61XX/6CXX follow-ups of each command.
func WithMaxContinuations(n int) Option {
	return func(r *Reader) {
		r.maxContinuations = n
	}
}

// FileHook receives every file of the rule hierarchy once it is decoded.
type FileHook func(path []byte, content *tlv.Node)

// WithFileHook calls hook for each file read during a refresh.
func WithFileHook(hook FileHook) Option {
	return func(r *Reader) {
		r.onFile = hook
	}
}

// Reader retrieves the access rules over a card link and caches them.
type Reader struct {
	link             cardlink.Link
	logger           zerolog.Logger
	maxContinuations int
	onFile           FileHook

	mu     sync.Mutex
	state  State
	rules  RuleSet
	cached bool
}

// NewReader creates a Reader using link to reach the card.
func NewReader(link cardlink.Link, opts ...Option) *Reader {
	r := &Reader{
		link:   link,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the step the last read reached.
func (r *Reader) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Refresh returns the current rule set, reading it from the card unless
// the ACMF refresh tag matches the cached one. On error the cache is
// cleared and an empty set is returned with the error.
func (r *Reader) Refresh() (RuleSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rules, err := r.read()
	if err != nil {
		r.logger.Error().Err(err).Stringer("state", r.state).Msg("access rule read failed")
		r.state = StateFailed
		r.rules = RuleSet{}
		r.cached = false
		return RuleSet{}, err
	}

	r.state = StateDone
	r.rules = rules
	r.cached = true
	return rules.clone(), nil
}

func (r *Reader) read() (RuleSet, error) {
	r.state = StateAwaitOpen
	channel, _, err := r.link.OpenChannel(PKCS15AID)
	if err != nil {
		return RuleSet{}, fmt.Errorf("%w: open PKCS#15 application: %v", ErrCardLink, err)
	}
	defer func() {
		if cerr := r.link.CloseChannel(channel); cerr != nil {
			r.logger.Warn().Err(cerr).Uint8("channel", channel).Msg("closing rule channel")
		}
	}()

	files, err := newFileReader(r.link, channel, r.maxContinuations, r.logger, r.onFile)
	if err != nil {
		return RuleSet{}, err
	}

	r.state = StateAwaitODF
	odf, err := files.decode(ODFPath)
	if err != nil {
		return RuleSet{}, err
	}
	dodfPath, err := odf.Bytes(tagDODF, tagSequence, tagPath)
	if err != nil {
		return RuleSet{}, fmt.Errorf("%w: ODF has no DODF path: %v", ErrProtocol, err)
	}

	r.state = StateAwaitDODF
	dodf, err := files.decode(dodfPath)
	if err != nil {
		return RuleSet{}, err
	}
	acmfPath, err := findACMF(dodf, r.logger)
	if err != nil {
		return RuleSet{}, err
	}

	r.state = StateAwaitACMF
	acmf, err := files.decode(acmfPath)
	if err != nil {
		return RuleSet{}, err
	}
	acmfEntries := acmf.All(tagSequence)
	if len(acmfEntries) == 0 {
		return RuleSet{}, fmt.Errorf("%w: ACMF is empty", ErrProtocol)
	}
	tag, err := acmfEntries[0].Bytes(tagPath)
	if err != nil {
		return RuleSet{}, fmt.Errorf("%w: ACMF has no refresh tag: %v", ErrProtocol, err)
	}

	if r.cached && bytes.Equal(tag, r.rules.RefreshTag) {
		r.logger.Debug().Hex("refresh_tag", tag).Msg("access rules unchanged")
		return r.rules, nil
	}
	r.rules.RefreshTag = tag

	rulesPath, err := acmfEntries[0].Bytes(tagSequence, tagPath)
	if err != nil {
		return RuleSet{}, fmt.Errorf("%w: ACMF has no ACRules path: %v", ErrProtocol, err)
	}

	r.state = StateAwaitACRules
	acrules, err := files.decode(rulesPath)
	if err != nil {
		return RuleSet{}, err
	}
	entries := acrules.All(tagSequence)

	r.state = StateAwaitConditions
	conditions := make(map[string]Application)
	result := RuleSet{Rules: make([]Rule, 0, len(entries)), RefreshTag: tag}

	for i, entry := range entries {
		applet, err := parseApplet(entry)
		if err != nil {
			return RuleSet{}, fmt.Errorf("rule %d: %w", i, err)
		}

		condPath, err := entry.Bytes(tagSequence, tagPath)
		if err != nil {
			return RuleSet{}, fmt.Errorf("%w: rule %d has no condition path: %v", ErrProtocol, i, err)
		}

		key := fmt.Sprintf("%X", condPath)
		app, seen := conditions[key]
		if !seen {
			cond, err := files.decode(condPath)
			if err != nil {
				return RuleSet{}, err
			}
			if app, err = parseConditions(cond); err != nil {
				return RuleSet{}, fmt.Errorf("condition file %s: %w", key, err)
			}
			conditions[key] = app
		}

		result.Rules = append(result.Rules, Rule{Applet: applet, Application: app})
	}

	r.logger.Info().
		Hex("refresh_tag", tag).
		Int("rules", len(result.Rules)).
		Int("condition_files", len(conditions)).
		Msg("access rules loaded")

	return result, nil
}
