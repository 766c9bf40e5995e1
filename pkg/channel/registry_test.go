package channel

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/gregLibert/secure-element/pkg/cardlink"
	"github.com/gregLibert/secure-element/pkg/iso7816"
	"github.com/gregLibert/secure-element/pkg/simcard"
	"github.com/gregLibert/secure-element/pkg/tlv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testApp = "com.example.wallet"

var (
	walletAID = tlv.Hex("A0000001510001")
	otherAID  = tlv.Hex("A0000001510002")
	testHash  = bytes.Repeat([]byte{0xAA}, 20)
)

type gateFunc func(hash, aid []byte) (bool, error)

func (f gateFunc) IsAccessAllowed(hash, aid []byte) (bool, error) { return f(hash, aid) }

var allowAll = gateFunc(func([]byte, []byte) (bool, error) { return true, nil })

func newTestRegistry(t *testing.T, gate Gate) (*Registry, *simcard.Card) {
	t.Helper()

	card := simcard.New()
	card.Channels = 20
	card.Install(walletAID, map[string][]byte{"0001": tlv.Hex("0102030405060708")})
	card.Install(otherAID, nil)

	reg := NewRegistry(cardlink.NewPCSC(card), gate, StaticResolver{testApp: testHash})
	return reg, card
}

func openTestChannel(t *testing.T, reg *Registry, aid []byte) (Session, Channel) {
	t.Helper()

	s, err := reg.OpenSession(testApp, UICC)
	require.NoError(t, err)
	ch, err := reg.OpenChannel(testApp, s.Token, UICC, aid)
	require.NoError(t, err)
	return s, ch
}

func TestRegistry_OpenChannel(t *testing.T) {
	reg, card := newTestRegistry(t, allowAll)

	s, ch := openTestChannel(t, reg, walletAID)

	assert.Equal(t, uint8(1), ch.Number)
	assert.Equal(t, s.Token, ch.Session)
	assert.Equal(t, walletAID, ch.AID)
	assert.Equal(t, tlv.Hex("6F 09 84 07 A0000001510001 9000"), ch.SelectResponse)
	assert.Equal(t, 1, card.OpenChannels())

	sessions := reg.Sessions(testApp)
	require.Len(t, sessions, 1)
	assert.Equal(t, []string{ch.Token}, sessions[0].Channels)
	assert.Empty(t, reg.Sessions("com.example.other"))
}

func TestRegistry_ChannelLimit(t *testing.T) {
	reg, card := newTestRegistry(t, allowAll)

	s, err := reg.OpenSession(testApp, UICC)
	require.NoError(t, err)
	for i := 0; i < MaxChannelsPerSession; i++ {
		_, err := reg.OpenChannel(testApp, s.Token, UICC, walletAID)
		require.NoError(t, err)
	}

	exchanges := len(card.Log())
	_, err = reg.OpenChannel(testApp, s.Token, UICC, walletAID)
	assert.ErrorIs(t, err, ErrChannelLimit)
	assert.ErrorIs(t, err, ErrResource)
	assert.Len(t, card.Log(), exchanges, "no exchange after the limit")

	// The limit is per session.
	other, err := reg.OpenSession(testApp, UICC)
	require.NoError(t, err)
	ch, err := reg.OpenChannel(testApp, other.Token, UICC, walletAID)
	require.NoError(t, err)
	assert.Equal(t, uint8(5), ch.Number)
}

func TestRegistry_OpenChannelRejections(t *testing.T) {
	reg, card := newTestRegistry(t, allowAll)

	s, err := reg.OpenSession(testApp, UICC)
	require.NoError(t, err)

	tests := []struct {
		name    string
		app     string
		session string
		typ     ReaderType
		aid     []byte
		want    error
	}{
		{"empty AID", testApp, s.Token, UICC, nil, ErrInvalidAID},
		{"short AID", testApp, s.Token, UICC, tlv.Hex("A0000001"), ErrInvalidAID},
		{"long AID", testApp, s.Token, UICC, bytes.Repeat([]byte{0xA0}, MaxAIDLength+1), ErrInvalidAID},
		{"reader mismatch", testApp, s.Token, ESE, walletAID, ErrReaderMismatch},
		{"unknown session", testApp, "no-such-session", UICC, walletAID, ErrUnknownToken},
		{"foreign session", "com.example.other", s.Token, UICC, walletAID, ErrUnknownToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.OpenChannel(tt.app, tt.session, tt.typ, tt.aid)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrResource)
		})
	}
	assert.Empty(t, card.Log())

	_, err = reg.OpenChannel(testApp, s.Token, UICC, bytes.Repeat([]byte{0xA0}, MinAIDLength))
	assert.NotErrorIs(t, err, ErrInvalidAID, "shortest valid AID")
	_, err = reg.OpenChannel(testApp, s.Token, UICC, []byte{})
	assert.ErrorIs(t, err, ErrInvalidAID)
}

func TestRegistry_UnsupportedReader(t *testing.T) {
	reg, _ := newTestRegistry(t, allowAll)

	_, err := reg.OpenSession(testApp, ESE)
	assert.ErrorIs(t, err, ErrUnsupportedReader)
}

func TestRegistry_AccessDenied(t *testing.T) {
	var gotHash, gotAID []byte
	reg, card := newTestRegistry(t, gateFunc(func(hash, aid []byte) (bool, error) {
		gotHash, gotAID = hash, aid
		return bytes.Equal(aid, walletAID), nil
	}))

	s, err := reg.OpenSession(testApp, UICC)
	require.NoError(t, err)

	_, err = reg.OpenChannel(testApp, s.Token, UICC, otherAID)
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.ErrorIs(t, err, ErrSecurity)
	assert.Equal(t, testHash, gotHash)
	assert.Equal(t, otherAID, gotAID)
	assert.Empty(t, card.Log())

	_, err = reg.OpenChannel(testApp, s.Token, UICC, walletAID)
	assert.NoError(t, err)
}

func TestRegistry_ResolverAndGateErrors(t *testing.T) {
	gateErr := errors.New("gate offline")
	reg, card := newTestRegistry(t, gateFunc(func([]byte, []byte) (bool, error) { return false, gateErr }))

	s, err := reg.OpenSession("com.example.unsigned", UICC)
	require.NoError(t, err)
	_, err = reg.OpenChannel("com.example.unsigned", s.Token, UICC, walletAID)
	assert.ErrorContains(t, err, "no certificate hash")

	s, err = reg.OpenSession(testApp, UICC)
	require.NoError(t, err)
	_, err = reg.OpenChannel(testApp, s.Token, UICC, walletAID)
	assert.ErrorIs(t, err, gateErr)
	assert.Empty(t, card.Log())
}

func TestRegistry_Transmit(t *testing.T) {
	for _, t0 := range []bool{false, true} {
		reg, card := newTestRegistry(t, allowAll)
		card.T0 = t0
		_, ch := openTestChannel(t, reg, walletAID)

		resp, err := reg.Transmit(testApp, ch.Token, tlv.Hex("00 A4 00 0C 02 0001"))
		require.NoError(t, err, "T0=%v", t0)
		assert.Equal(t, iso7816.SW_NO_ERROR, resp.Status)

		resp, err = reg.Transmit(testApp, ch.Token, tlv.Hex("00 B0 00 00 00"))
		require.NoError(t, err, "T0=%v", t0)
		assert.Equal(t, tlv.Hex("0102030405060708"), resp.Data, "T0=%v", t0)

		for _, ex := range card.Log()[len(card.Log())-2:] {
			assert.Equal(t, ch.Number, iso7816.DecodeChannel(ex.Command[0]), "T0=%v", t0)
		}
	}
}

func TestRegistry_TransmitRewritesClass(t *testing.T) {
	reg, card := newTestRegistry(t, allowAll)

	var channels []Channel
	for s := 0; s < 2; s++ {
		session, err := reg.OpenSession(testApp, UICC)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			ch, err := reg.OpenChannel(testApp, session.Token, UICC, walletAID)
			require.NoError(t, err)
			channels = append(channels, ch)
		}
	}

	tests := []struct {
		channel int
		cla     byte
		want    byte
	}{
		{0, 0x00, 0x01},
		{2, 0x03, 0x03},
		{3, 0x00, 0x40},
		{4, 0x01, 0x41},
		{5, 0x80, 0xC2},
	}

	for _, tt := range tests {
		ch := channels[tt.channel]
		_, err := reg.Transmit(testApp, ch.Token, []byte{tt.cla, 0xCA, 0x00, 0x66, 0x00})
		require.NoError(t, err)

		sent := card.Log()[len(card.Log())-1].Command
		assert.Equal(t, tt.want, sent[0], "channel %d, CLA %02X", ch.Number, tt.cla)
	}
}

func TestRegistry_ForbiddenCommands(t *testing.T) {
	reg, card := newTestRegistry(t, allowAll)
	_, ch := openTestChannel(t, reg, walletAID)
	exchanges := len(card.Log())

	for _, apdu := range []string{
		"00 70 00 00 01",
		"01 70 80 01",
		"00 A4 04 00 07 A0000001510002",
		"41 A4 04 00 07 A0000001510002",
	} {
		_, err := reg.Transmit(testApp, ch.Token, tlv.Hex(apdu))
		assert.ErrorIs(t, err, ErrForbiddenCommand, apdu)
		assert.ErrorIs(t, err, ErrSecurity, apdu)
	}
	assert.Len(t, card.Log(), exchanges)

	// Proprietary classes and other selections pass.
	for _, apdu := range []string{"80 70 00 00 00", "00 A4 00 0C 02 0001"} {
		_, err := reg.Transmit(testApp, ch.Token, tlv.Hex(apdu))
		assert.NoError(t, err, apdu)
	}
}

func TestRegistry_BadCommands(t *testing.T) {
	reg, card := newTestRegistry(t, allowAll)
	_, ch := openTestChannel(t, reg, walletAID)
	exchanges := len(card.Log())

	tooLong := append(tlv.Hex("00 D6 00 00 FC"), make([]byte, 0xFC)...)
	_, err := reg.Transmit(testApp, ch.Token, tooLong)
	assert.ErrorIs(t, err, ErrCommandTooLong)

	_, err = reg.Transmit(testApp, ch.Token, make([]byte, 300))
	assert.ErrorIs(t, err, ErrCommandTooLong)

	_, err = reg.Transmit(testApp, ch.Token, tlv.Hex("00 B0"))
	assert.ErrorIs(t, err, ErrBadCommand)

	_, err = reg.Transmit(testApp, ch.Token, tlv.Hex("00 D6 00 00 05 0102"))
	assert.ErrorIs(t, err, ErrBadCommand)
	assert.ErrorIs(t, err, ErrResource)

	assert.Len(t, card.Log(), exchanges)
}

func TestRegistry_ClosedTokens(t *testing.T) {
	reg, card := newTestRegistry(t, allowAll)
	s, ch := openTestChannel(t, reg, walletAID)

	require.NoError(t, reg.CloseChannel(testApp, ch.Token))
	assert.Equal(t, 2, card.Count(iso7816.INS_MANAGE_CHANNEL))
	assert.Equal(t, 0, card.OpenChannels())

	_, err := reg.Transmit(testApp, ch.Token, tlv.Hex("00 B0 00 00 00"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, reg.CloseChannel(testApp, ch.Token), ErrClosed)

	_, err = reg.Transmit(testApp, "no-such-channel", tlv.Hex("00 B0 00 00 00"))
	assert.ErrorIs(t, err, ErrUnknownToken)

	require.NoError(t, reg.CloseSession(testApp, s.Token))
	_, err = reg.OpenChannel(testApp, s.Token, UICC, walletAID)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRegistry_ForeignChannel(t *testing.T) {
	reg, _ := newTestRegistry(t, allowAll)
	_, ch := openTestChannel(t, reg, walletAID)

	_, err := reg.Transmit("com.example.other", ch.Token, tlv.Hex("00 B0 00 00 00"))
	assert.ErrorIs(t, err, ErrUnknownToken)
	assert.ErrorIs(t, reg.CloseChannel("com.example.other", ch.Token), ErrUnknownToken)

	require.NoError(t, reg.CloseChannel(testApp, ch.Token))
	_, err = reg.Transmit("com.example.other", ch.Token, tlv.Hex("00 B0 00 00 00"))
	assert.ErrorIs(t, err, ErrUnknownToken, "closed tokens of other applications stay unknown")
	assert.NotErrorIs(t, err, ErrClosed)
}

func TestRegistry_CloseSession(t *testing.T) {
	reg, card := newTestRegistry(t, allowAll)

	s, err := reg.OpenSession(testApp, UICC)
	require.NoError(t, err)
	var tokens []string
	for i := 0; i < 3; i++ {
		ch, err := reg.OpenChannel(testApp, s.Token, UICC, walletAID)
		require.NoError(t, err)
		tokens = append(tokens, ch.Token)
	}
	require.Equal(t, 3, card.OpenChannels())

	require.NoError(t, reg.CloseSession(testApp, s.Token))
	assert.Equal(t, 0, card.OpenChannels())
	assert.Empty(t, reg.Sessions(testApp))
	for _, token := range tokens {
		_, err := reg.Transmit(testApp, token, tlv.Hex("00 B0 00 00 00"))
		assert.ErrorIs(t, err, ErrClosed)
	}
}

func TestRegistry_CloseReaderAndRelease(t *testing.T) {
	reg, card := newTestRegistry(t, allowAll)

	openTestChannel(t, reg, walletAID)
	openTestChannel(t, reg, otherAID)
	require.Equal(t, 2, card.OpenChannels())

	require.NoError(t, reg.CloseReader(testApp, UICC))
	assert.Equal(t, 0, card.OpenChannels())
	assert.Empty(t, reg.Sessions(testApp))

	openTestChannel(t, reg, walletAID)
	require.NoError(t, reg.ReleaseApp(testApp))
	assert.Equal(t, 0, card.OpenChannels())
	assert.Empty(t, reg.Sessions(testApp))
}

func TestRegistry_CloseFailureStillForgets(t *testing.T) {
	reg, card := newTestRegistry(t, allowAll)
	_, ch := openTestChannel(t, reg, walletAID)

	card.FailWith(iso7816.INS_MANAGE_CHANNEL, iso7816.SW_ERR_FUNC_NOT_SUPPORTED)
	assert.Error(t, reg.CloseChannel(testApp, ch.Token))

	_, err := reg.Transmit(testApp, ch.Token, tlv.Hex("00 B0 00 00 00"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRegistry_CardNotReady(t *testing.T) {
	reg, card := newTestRegistry(t, allowAll)
	s, ch := openTestChannel(t, reg, walletAID)
	exchanges := len(card.Log())

	reg.CardStateChanged(cardlink.StateAbsent)
	assert.Len(t, card.Log(), exchanges, "dropping sessions sends nothing")
	assert.Empty(t, reg.Sessions(testApp))

	_, err := reg.OpenSession(testApp, UICC)
	assert.ErrorIs(t, err, ErrCardNotReady)
	_, err = reg.OpenChannel(testApp, s.Token, UICC, walletAID)
	assert.ErrorIs(t, err, ErrCardNotReady)
	_, err = reg.Transmit(testApp, ch.Token, tlv.Hex("00 B0 00 00 00"))
	assert.ErrorIs(t, err, ErrCardNotReady)
	assert.ErrorIs(t, reg.CloseSession(testApp, s.Token), ErrCardNotReady)
	assert.NoError(t, reg.ReleaseApp(testApp))

	reg.CardStateChanged(cardlink.StateReady)
	_, err = reg.Transmit(testApp, ch.Token, tlv.Hex("00 B0 00 00 00"))
	assert.ErrorIs(t, err, ErrClosed)

	_, err = reg.OpenSession(testApp, UICC)
	assert.NoError(t, err)
}

// removal reports one card removal, then waits for cancellation.
type removal struct {
	sent chan struct{}
	err  error
}

func (w *removal) Watch(ctx context.Context, notify func(cardlink.State)) error {
	notify(cardlink.StateAbsent)
	close(w.sent)
	<-ctx.Done()
	return w.err
}

func TestRegistry_Follow(t *testing.T) {
	reg, _ := newTestRegistry(t, allowAll)
	_, ch := openTestChannel(t, reg, walletAID)

	w := &removal{sent: make(chan struct{})}
	stop := reg.Follow(context.Background(), w)
	<-w.sent

	assert.Empty(t, reg.Sessions(testApp))
	_, err := reg.Transmit(testApp, ch.Token, tlv.Hex("00 B0 00 00 00"))
	assert.ErrorIs(t, err, ErrCardNotReady)
	assert.NoError(t, stop())
}

func TestRegistry_FollowError(t *testing.T) {
	reg, _ := newTestRegistry(t, allowAll)
	lost := errors.New("reader unplugged")

	w := &removal{sent: make(chan struct{}), err: lost}
	stop := reg.Follow(context.Background(), w)
	<-w.sent
	assert.ErrorIs(t, stop(), lost)
}

func TestReaderType(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want ReaderType
	}{
		{"uicc", UICC},
		{"UICC", UICC},
		{"eSE", ESE},
	} {
		got, err := ParseReaderType(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseReaderType("sd")
	assert.Error(t, err)
	assert.Equal(t, "eSE", ESE.String())
	assert.Equal(t, "ReaderType(7)", ReaderType(7).String())
}
