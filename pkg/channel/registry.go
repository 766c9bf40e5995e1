/*
Package channel keeps track of the sessions and logical channels opened by device applications.

Applications never see channel numbers. They hold opaque tokens that the
Registry maps to card channels, so one application cannot reach another
one's channels. Every operation runs under a single lock, which keeps the
card link to one outstanding exchange chain.

Opening a channel goes through the access control gate first:

	reg := channel.NewRegistry(link, enforcer, channel.StaticResolver{
	    "com.example.wallet": hash,
	})
	s, _ := reg.OpenSession("com.example.wallet", channel.UICC)
	ch, err := reg.OpenChannel("com.example.wallet", s.Token, channel.UICC, aid)
	resp, err := reg.Transmit("com.example.wallet", ch.Token, apdu)
*/
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gregLibert/secure-element/pkg/cardlink"
	"github.com/gregLibert/secure-element/pkg/iso7816"
	"github.com/rs/zerolog"
)

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMaxContinuations bounds the 61XX/6CXX follow-ups of each transmitted command.
func WithMaxContinuations(n int) Option {
	return func(r *Registry) {
		r.maxContinuations = n
	}
}

type session struct {
	Session
	channels []*openChannel
}

type openChannel struct {
	Channel
	appID string
}

// Registry owns the sessions and channels of every application.
type Registry struct {
	link             cardlink.Link
	gate             Gate
	resolver         HashResolver
	logger           zerolog.Logger
	maxContinuations int

	mu       sync.Mutex
	state    cardlink.State
	sessions map[string]*session
	channels map[string]*openChannel
	closed   map[string]string // token -> owning appID
}

// NewRegistry creates a registry sending its traffic over link.
func NewRegistry(link cardlink.Link, gate Gate, resolver HashResolver, opts ...Option) *Registry {
	r := &Registry{
		link:     link,
		gate:     gate,
		resolver: resolver,
		logger:   zerolog.Nop(),
		state:    link.State(),
		sessions: make(map[string]*session),
		channels: make(map[string]*openChannel),
		closed:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) ready() error {
	if !r.state.IsReady() {
		return fmt.Errorf("%w: %s", ErrCardNotReady, r.state)
	}
	return nil
}

// OpenSession opens a session of the given reader type for appID.
func (r *Registry) OpenSession(appID string, typ ReaderType) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ready(); err != nil {
		return Session{}, err
	}
	if typ != UICC {
		return Session{}, fmt.Errorf("%w: %s", ErrUnsupportedReader, typ)
	}

	s := &session{Session: Session{Token: uuid.NewString(), Type: typ, AppID: appID}}
	r.sessions[s.Token] = s

	r.logger.Info().Str("app", appID).Str("session", s.Token).Stringer("type", typ).Msg("session opened")
	return s.view(), nil
}

// OpenChannel opens a logical channel to aid under an existing session.
// Argument and capacity checks run before any card exchange; the access
// decision runs before the channel is opened.
func (r *Registry) OpenChannel(appID, sessionToken string, typ ReaderType, aid []byte) (Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ready(); err != nil {
		return Channel{}, err
	}
	s, err := r.lookupSession(appID, sessionToken)
	if err != nil {
		return Channel{}, err
	}
	if s.Type != typ {
		return Channel{}, fmt.Errorf("%w: session is %s, request is %s", ErrReaderMismatch, s.Type, typ)
	}
	if len(s.channels) >= MaxChannelsPerSession {
		return Channel{}, fmt.Errorf("%w: %d channels open", ErrChannelLimit, len(s.channels))
	}
	if len(aid) < MinAIDLength || len(aid) > MaxAIDLength {
		return Channel{}, fmt.Errorf("%w: length %d outside [%d,%d]", ErrInvalidAID, len(aid), MinAIDLength, MaxAIDLength)
	}

	hash, err := r.resolver.CertificateHash(appID)
	if err != nil {
		return Channel{}, fmt.Errorf("resolving certificate of %q: %w", appID, err)
	}
	allowed, err := r.gate.IsAccessAllowed(hash, aid)
	if err != nil {
		return Channel{}, fmt.Errorf("access check: %w", err)
	}
	if !allowed {
		r.logger.Warn().Str("app", appID).Hex("aid", aid).Msg("channel refused by access rules")
		return Channel{}, fmt.Errorf("%w: %q to %X", ErrAccessDenied, appID, aid)
	}

	number, resp, err := r.link.OpenChannel(aid)
	if err != nil {
		return Channel{}, fmt.Errorf("opening channel to %X: %w", aid, err)
	}
	if number == iso7816.BasicChannel || number > iso7816.MaxChannel {
		if number != iso7816.BasicChannel {
			r.closeOnCard(number)
		}
		return Channel{}, fmt.Errorf("%w: card assigned channel %d", ErrResource, number)
	}

	ch := &openChannel{
		Channel: Channel{
			Token:          uuid.NewString(),
			Session:        s.Token,
			Type:           typ,
			AID:            append([]byte{}, aid...),
			Number:         number,
			SelectResponse: resp,
		},
		appID: appID,
	}
	s.channels = append(s.channels, ch)
	r.channels[ch.Token] = ch

	r.logger.Info().Str("app", appID).Str("channel", ch.Token).Uint8("number", number).Hex("aid", aid).Msg("channel opened")
	return ch.Channel, nil
}

// CloseChannel closes one channel. The token is unusable afterwards even
// when the card fails to acknowledge the close.
func (r *Registry) CloseChannel(appID, channelToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ready(); err != nil {
		return err
	}
	ch, err := r.lookupChannel(appID, channelToken)
	if err != nil {
		return err
	}
	return r.closeChannel(ch)
}

// CloseSession closes a session and every channel it holds.
func (r *Registry) CloseSession(appID, sessionToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ready(); err != nil {
		return err
	}
	s, err := r.lookupSession(appID, sessionToken)
	if err != nil {
		return err
	}
	return r.closeSession(s)
}

// CloseReader closes every session of appID on the given reader type.
func (r *Registry) CloseReader(appID string, typ ReaderType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ready(); err != nil {
		return err
	}

	var errs []error
	for _, s := range r.sessionsOf(appID) {
		if s.Type == typ {
			errs = append(errs, r.closeSession(s))
		}
	}
	return errors.Join(errs...)
}

// ReleaseApp drops everything appID holds, as when its process ends.
// Channels are closed on the card when it is ready.
func (r *Registry) ReleaseApp(appID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, s := range r.sessionsOf(appID) {
		if r.state.IsReady() {
			errs = append(errs, r.closeSession(s))
		} else {
			r.forgetSession(s)
		}
	}
	return errors.Join(errs...)
}

// CardStateChanged records a new card state. Leaving the ready state drops
// every session and channel without talking to the card.
func (r *Registry) CardStateChanged(state cardlink.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.state
	r.state = state
	if state.IsReady() {
		return
	}

	dropped := len(r.sessions)
	for _, s := range r.sessions {
		r.forgetSession(s)
	}
	r.logger.Info().Stringer("from", prev).Stringer("to", state).Int("sessions_dropped", dropped).Msg("card state changed")
}

// Watcher reports card state changes until ctx is done.
type Watcher interface {
	Watch(ctx context.Context, notify func(cardlink.State)) error
}

// Follow feeds the states reported by w to CardStateChanged in the
// background. The returned function stops the watch and returns its error.
func (r *Registry) Follow(ctx context.Context, w Watcher) (stop func() error) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, r.CardStateChanged)
	}()
	return func() error {
		cancel()
		return <-done
	}
}

// Sessions lists the open sessions of appID.
func (r *Registry) Sessions(appID string) []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Session
	for _, s := range r.sessionsOf(appID) {
		out = append(out, s.view())
	}
	return out
}

func (r *Registry) lookupSession(appID, token string) (*session, error) {
	s, ok := r.sessions[token]
	if !ok || s.AppID != appID {
		if owner, ok := r.closed[token]; ok && owner == appID {
			return nil, fmt.Errorf("session %s: %w", token, ErrClosed)
		}
		return nil, fmt.Errorf("%w: session %q", ErrUnknownToken, token)
	}
	return s, nil
}

func (r *Registry) lookupChannel(appID, token string) (*openChannel, error) {
	ch, ok := r.channels[token]
	if !ok || ch.appID != appID {
		if owner, ok := r.closed[token]; ok && owner == appID {
			return nil, fmt.Errorf("channel %s: %w", token, ErrClosed)
		}
		return nil, fmt.Errorf("%w: channel %q", ErrUnknownToken, token)
	}
	return ch, nil
}

func (r *Registry) sessionsOf(appID string) []*session {
	var out []*session
	for _, s := range r.sessions {
		if s.AppID == appID {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) closeChannel(ch *openChannel) error {
	r.forgetChannel(ch)
	if err := r.link.CloseChannel(ch.Number); err != nil {
		return fmt.Errorf("closing channel %d: %w", ch.Number, err)
	}
	r.logger.Info().Str("app", ch.appID).Str("channel", ch.Token).Msg("channel closed")
	return nil
}

func (r *Registry) closeSession(s *session) error {
	var errs []error
	for _, ch := range append([]*openChannel{}, s.channels...) {
		errs = append(errs, r.closeChannel(ch))
	}
	r.forgetSession(s)
	r.logger.Info().Str("app", s.AppID).Str("session", s.Token).Msg("session closed")
	return errors.Join(errs...)
}

func (r *Registry) closeOnCard(number uint8) {
	if err := r.link.CloseChannel(number); err != nil {
		r.logger.Warn().Err(err).Uint8("number", number).Msg("closing rejected channel")
	}
}

func (r *Registry) forgetChannel(ch *openChannel) {
	delete(r.channels, ch.Token)
	r.closed[ch.Token] = ch.appID

	if s, ok := r.sessions[ch.Session]; ok {
		for i, c := range s.channels {
			if c == ch {
				s.channels = append(s.channels[:i], s.channels[i+1:]...)
				break
			}
		}
	}
}

func (r *Registry) forgetSession(s *session) {
	for _, ch := range s.channels {
		delete(r.channels, ch.Token)
		r.closed[ch.Token] = ch.appID
	}
	s.channels = nil
	delete(r.sessions, s.Token)
	r.closed[s.Token] = s.AppID
}

func (s *session) view() Session {
	v := s.Session
	v.Channels = make([]string, len(s.channels))
	for i, ch := range s.channels {
		v.Channels[i] = ch.Token
	}
	return v
}
