package channel

import (
	"testing"

	"github.com/gregLibert/secure-element/pkg/access"
	"github.com/gregLibert/secure-element/pkg/arf"
	"github.com/gregLibert/secure-element/pkg/cardlink"
	"github.com/gregLibert/secure-element/pkg/simcard"
	"github.com/gregLibert/secure-element/pkg/tlv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CardRules(t *testing.T) {
	card := simcard.New()
	card.Channels = 8
	card.Install(walletAID, nil)
	card.Install(otherAID, nil)
	card.Install(simcard.PKCS15AID, simcard.BuildARF(tlv.Hex("0001"), []simcard.ARFRule{
		{AID: walletAID, Condition: "4310"},
	}, map[string][]byte{
		"4310": simcard.HashCondition(testHash),
	}))

	link := cardlink.NewPCSC(card)
	enforcer := access.NewEnforcer(arf.NewReader(link))
	reg := NewRegistry(link, enforcer, StaticResolver{
		testApp:             testHash,
		"com.example.other": tlv.Hex("BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"),
	})

	s, err := reg.OpenSession(testApp, UICC)
	require.NoError(t, err)
	ch, err := reg.OpenChannel(testApp, s.Token, UICC, walletAID)
	require.NoError(t, err)

	// The rule read borrowed channel 1 and gave it back.
	assert.Equal(t, uint8(1), ch.Number)
	assert.Equal(t, 1, card.OpenChannels())

	// No rule grants otherAID to anyone.
	_, err = reg.OpenChannel(testApp, s.Token, UICC, otherAID)
	assert.ErrorIs(t, err, ErrAccessDenied)

	other, err := reg.OpenSession("com.example.other", UICC)
	require.NoError(t, err)
	_, err = reg.OpenChannel("com.example.other", other.Token, UICC, walletAID)
	assert.ErrorIs(t, err, ErrAccessDenied)
}
