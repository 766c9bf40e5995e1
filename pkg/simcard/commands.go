package simcard

import (
	"encoding/hex"
	"strings"

	"github.com/gregLibert/secure-element/pkg/iso7816"
)

func status(sw iso7816.StatusWord, data ...byte) []byte {
	return append(append([]byte{}, data...), sw.SW1(), sw.SW2())
}

func (c *Card) process(raw []byte) []byte {
	cmd, err := iso7816.ParseCommandAPDU(raw)
	if err != nil {
		return status(iso7816.SW_ERR_WRONG_LENGTH)
	}

	channel := iso7816.DecodeChannel(raw[0])
	state, ok := c.open[channel]
	if !ok {
		return status(iso7816.SW_ERR_LOGICAL_CHANNEL_NOT_SUPP)
	}

	ins := cmd.Instruction.Raw
	if sw, failing := c.failures[ins]; failing {
		return status(sw)
	}
	if ins != iso7816.INS_GET_RESPONSE {
		state.pending = nil
	}

	switch ins {
	case iso7816.INS_MANAGE_CHANNEL:
		return c.manageChannel(channel, cmd)
	case iso7816.INS_SELECT:
		return c.selectFile(state, cmd)
	case iso7816.INS_READ_BINARY:
		return c.readBinary(state, cmd)
	case iso7816.INS_GET_RESPONSE:
		return c.getResponse(state, cmd)
	default:
		return status(iso7816.SW_ERR_INS_INVALID)
	}
}

func (c *Card) manageChannel(channel uint8, cmd *iso7816.CommandAPDU) []byte {
	if channel != iso7816.BasicChannel {
		return status(iso7816.SW_ERR_FUNC_NOT_SUPPORTED)
	}

	switch cmd.P1 {
	case 0x00:
		for ch := uint8(1); int(ch) < c.Channels && ch <= iso7816.MaxChannel; ch++ {
			if _, used := c.open[ch]; !used {
				c.open[ch] = &channelState{}
				return status(iso7816.SW_NO_ERROR, ch)
			}
		}
		return status(iso7816.SW_ERR_FUNC_NOT_SUPPORTED)
	case 0x80:
		if _, used := c.open[cmd.P2]; !used || cmd.P2 == iso7816.BasicChannel {
			return status(iso7816.SW_ERR_INCORRECT_PARAMS_P1P2)
		}
		delete(c.open, cmd.P2)
		return status(iso7816.SW_NO_ERROR)
	default:
		return status(iso7816.SW_ERR_INCORRECT_PARAMS_P1P2)
	}
}

func (c *Card) selectFile(state *channelState, cmd *iso7816.CommandAPDU) []byte {
	var body []byte

	switch iso7816.SelectionMethod(cmd.P1) {
	case iso7816.SelectByDFName:
		a := c.findApplet(cmd.Data)
		if a == nil {
			return status(iso7816.SW_ERR_FILE_NOT_FOUND)
		}
		state.applet = a
		state.ef = ""
		body = fci(a.AID)

	case iso7816.SelectByFileID, iso7816.SelectPathFromMF, iso7816.SelectPathFromCurrentDF:
		if state.applet == nil {
			return status(iso7816.SW_ERR_FILE_NOT_FOUND)
		}
		if len(cmd.Data) < 2 {
			return status(iso7816.SW_ERR_INCORRECT_PARAMS_DATA)
		}
		path := strings.ToUpper(hex.EncodeToString(cmd.Data))
		if iso7816.SelectionMethod(cmd.P1) == iso7816.SelectPathFromMF {
			path = "3F00" + path
		}
		data, ok := state.applet.Files[path]
		if !ok {
			return status(iso7816.SW_ERR_FILE_NOT_FOUND)
		}
		state.ef = path
		body = fcp(cmd.Data[len(cmd.Data)-2:], len(data))

	default:
		return status(iso7816.SW_ERR_INCORRECT_PARAMS_P1P2)
	}

	if iso7816.SelectionControl(cmd.P2&0x0C) == iso7816.ReturnNoData {
		return status(iso7816.SW_NO_ERROR)
	}
	return c.respond(state, body)
}

func (c *Card) readBinary(state *channelState, cmd *iso7816.CommandAPDU) []byte {
	if state.applet == nil || state.ef == "" {
		return status(iso7816.SW_ERR_CMD_NOT_ALLOWED_NO_EF)
	}
	if cmd.P1&0x80 != 0 {
		return status(iso7816.SW_ERR_FUNC_NOT_SUPPORTED)
	}

	data := state.applet.Files[state.ef]
	offset := int(cmd.P1)<<8 | int(cmd.P2)
	if offset > len(data) {
		return status(iso7816.SW_ERR_WRONG_P1P2)
	}

	available := len(data) - offset
	ne := cmd.Ne
	if ne == 0 {
		ne = iso7816.MaxShortLe
	}

	if available < ne {
		if c.T0 && available > 0 {
			return status(iso7816.NewStatusWord(0x6C, byte(available)))
		}
		return status(iso7816.SW_WARN_EOF_REACHED, data[offset:]...)
	}
	return status(iso7816.SW_NO_ERROR, data[offset:offset+ne]...)
}

func (c *Card) getResponse(state *channelState, cmd *iso7816.CommandAPDU) []byte {
	if len(state.pending) == 0 {
		return status(iso7816.SW_ERR_CHECKING_NO_INFO)
	}
	ne := cmd.Ne
	if ne == 0 {
		ne = iso7816.MaxShortLe
	}
	return c.flush(state, ne)
}

// respond returns body directly, or announces it with 61XX in T0 mode.
func (c *Card) respond(state *channelState, body []byte) []byte {
	if c.T0 && len(body) > 0 {
		state.pending = body
		return status(iso7816.NewStatusWord(0x61, byte(len(body))))
	}
	return status(iso7816.SW_NO_ERROR, body...)
}

func (c *Card) flush(state *channelState, ne int) []byte {
	n := min(ne, len(state.pending))
	out := state.pending[:n]
	state.pending = state.pending[n:]

	if len(state.pending) > 0 {
		return status(iso7816.NewStatusWord(0x61, byte(min(len(state.pending), 0xFF))), out...)
	}
	return status(iso7816.SW_NO_ERROR, out...)
}

func fci(aid []byte) []byte {
	inner := append([]byte{0x84, byte(len(aid))}, aid...)
	return append([]byte{0x6F, byte(len(inner))}, inner...)
}

func fcp(fid []byte, size int) []byte {
	inner := []byte{
		0x82, 0x01, 0x01,
		0x83, 0x02, fid[0], fid[1],
		0x80, 0x02, byte(size >> 8), byte(size),
	}
	return append([]byte{0x62, byte(len(inner))}, inner...)
}
