package channel

import (
	"fmt"

	"github.com/gregLibert/secure-element/pkg/cardlink"
	"github.com/gregLibert/secure-element/pkg/iso7816"
)

// selectByName is the SELECT P1 value addressing a DF by AID.
const selectByName = 0x04

// Transmit sends apdu on the card channel behind channelToken and returns
// the assembled response. The class byte is rewritten for that channel, and
// 61XX/6CXX procedure bytes are followed before returning.
func (r *Registry) Transmit(appID, channelToken string, apdu []byte) (*iso7816.ResponseAPDU, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ready(); err != nil {
		return nil, err
	}
	ch, err := r.lookupChannel(appID, channelToken)
	if err != nil {
		return nil, err
	}

	cmd, err := parseCommand(apdu)
	if err != nil {
		return nil, err
	}
	if err := checkCommand(cmd); err != nil {
		r.logger.Warn().Str("app", appID).Str("channel", channelToken).Hex("apdu", apdu).Msg("command refused")
		return nil, err
	}

	cla, err := iso7816.EncodeChannel(cmd.Class.Raw, ch.Number)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCommand, err)
	}
	if cmd.Class, err = iso7816.NewClass(cla); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCommand, err)
	}

	client := &iso7816.Client{
		Card:             cardlink.On(r.link, ch.Number),
		MaxContinuations: r.maxContinuations,
	}
	trace, err := client.Send(cmd)
	if err != nil {
		return nil, fmt.Errorf("transmit on channel %d: %w", ch.Number, err)
	}

	resp := trace.Result()
	r.logger.Debug().Str("channel", channelToken).Int("exchanges", len(trace)).Stringer("sw", resp.Status).Msg("transmit")
	return resp, nil
}

func parseCommand(apdu []byte) (*iso7816.CommandAPDU, error) {
	if len(apdu) > iso7816.MaxShortCommandLength+2 {
		return nil, fmt.Errorf("%w: %d bytes", ErrCommandTooLong, len(apdu))
	}
	cmd, err := iso7816.ParseCommandAPDU(apdu)
	if err != nil {
		if len(apdu) > 5 && 4+int(apdu[4]) > iso7816.MaxShortCommandLength {
			return nil, fmt.Errorf("%w: %v", ErrCommandTooLong, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrBadCommand, err)
	}
	return cmd, nil
}

// checkCommand refuses channel management and selection by name on
// interindustry classes. Proprietary classes (b8 set) pass through.
func checkCommand(cmd *iso7816.CommandAPDU) error {
	if !iso7816.IsInterindustry(cmd.Class.Raw) {
		return nil
	}
	switch cmd.Instruction.Raw {
	case iso7816.INS_MANAGE_CHANNEL:
		return fmt.Errorf("%w: MANAGE CHANNEL", ErrForbiddenCommand)
	case iso7816.INS_SELECT:
		if cmd.P1 == selectByName {
			return fmt.Errorf("%w: SELECT by DF name", ErrForbiddenCommand)
		}
	}
	return nil
}
