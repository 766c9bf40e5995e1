package iso7816

import (
	"fmt"

	"github.com/gregLibert/secure-element/pkg/bits"
)

// StatusWord is the two-byte trailer (SW1-SW2) of every response.
//
// A few SW1 values make SW2 a parameter rather than part of a code:
//   - 61XX: XX bytes are waiting for a GET RESPONSE.
//   - 6CXX: wrong Le, XX is the length to ask for.
//   - 62XX and 64XX with XX in [02, 80]: triggering by the card, XX bytes to query.
//   - 63CX: warning carrying a counter X, such as remaining PIN tries.
type StatusWord uint16

// NewStatusWord joins SW1 and SW2.
func NewStatusWord(sw1, sw2 byte) StatusWord {
	return StatusWord(uint16(sw1)<<8 | uint16(sw2))
}

// SW1 returns the high byte.
func (sw StatusWord) SW1() byte {
	return byte(sw >> 8)
}

// SW2 returns the low byte.
func (sw StatusWord) SW2() byte {
	return byte(sw)
}

// IsTriggeringByCard reports a 62XX/64XX status with XX in [02, 80].
func (sw StatusWord) IsTriggeringByCard() bool {
	sw1, sw2 := sw.SW1(), sw.SW2()
	return (sw1 == 0x62 || sw1 == 0x64) && sw2 >= 0x02 && sw2 <= 0x80
}

// IsCounter reports a 63CX status.
func (sw StatusWord) IsCounter() bool {
	return sw.SW1() == 0x63 && bits.GetRange(sw.SW2(), 8, 5) == 0x0C
}

// IsSuccess reports 9000, or 61XX where the command completed and data is waiting.
func (sw StatusWord) IsSuccess() bool {
	return sw == SW_NO_ERROR || sw.SW1() == 0x61
}

// IsWarning reports 62XX and 63XX.
func (sw StatusWord) IsWarning() bool {
	sw1 := sw.SW1()
	return sw1 == 0x62 || sw1 == 0x63
}

// IsError reports execution and checking errors, 64XX to 6FXX.
func (sw StatusWord) IsError() bool {
	sw1 := sw.SW1()
	return sw1 >= 0x64 && sw1 <= 0x6F
}

// String returns the four hex digits of the status word.
func (sw StatusWord) String() string {
	return fmt.Sprintf("%04X", uint16(sw))
}

// Verbose returns the status word followed by what it means.
func (sw StatusWord) Verbose() string {
	return fmt.Sprintf("[%04X] %s", uint16(sw), sw.meaning())
}

func (sw StatusWord) meaning() string {
	sw1, sw2 := sw.SW1(), sw.SW2()

	switch {
	case sw1 == 0x61:
		return fmt.Sprintf("Process completed, %d bytes available", sw2)
	case sw1 == 0x6C:
		return fmt.Sprintf("Wrong length, correct Le is %d", sw2)
	case sw.IsTriggeringByCard() && sw1 == 0x62:
		return fmt.Sprintf("Warning (triggering): card expects query of %d bytes", sw2)
	case sw.IsTriggeringByCard():
		return fmt.Sprintf("Error (triggering): card expects query of %d bytes", sw2)
	case sw.IsCounter():
		return fmt.Sprintf("Warning: state changed, counter = %d", bits.GetRange(sw2, 4, 1))
	}

	if text, ok := statusText[sw]; ok {
		return text
	}

	switch sw1 {
	case 0x62:
		return "Warning: NV memory unchanged"
	case 0x63:
		return "Warning: NV memory changed"
	case 0x64:
		return "Execution error: NV memory unchanged"
	case 0x65:
		return "Execution error: NV memory changed"
	case 0x66:
		return "Execution error: security issue"
	case 0x68:
		return "Checking error: function in CLA not supported"
	case 0x69:
		return "Checking error: command not allowed"
	case 0x6A:
		return "Checking error: wrong parameters P1-P2"
	default:
		return "Unknown status"
	}
}

// Status words returned along the file and channel commands.
const (
	SW_NO_ERROR StatusWord = 0x9000

	SW_WARN_TRIGGERING_BY_CARD StatusWord = 0x6202
	SW_WARN_DATA_CORRUPTED     StatusWord = 0x6281
	SW_WARN_EOF_REACHED        StatusWord = 0x6282
	SW_WARN_FILE_DEACTIVATED   StatusWord = 0x6283

	SW_ERR_MEMORY_FAILURE StatusWord = 0x6581

	SW_ERR_WRONG_LENGTH             StatusWord = 0x6700
	SW_ERR_CHECKING_NO_INFO         StatusWord = 0x6800
	SW_ERR_LOGICAL_CHANNEL_NOT_SUPP StatusWord = 0x6881
	SW_ERR_SM_NOT_SUPPORTED         StatusWord = 0x6882

	SW_ERR_CMD_INCOMPATIBLE_FILE   StatusWord = 0x6981
	SW_ERR_SECURITY_STATUS_NOT_SAT StatusWord = 0x6982
	SW_ERR_COND_OF_USE_NOT_SAT     StatusWord = 0x6985
	SW_ERR_CMD_NOT_ALLOWED_NO_EF   StatusWord = 0x6986

	SW_ERR_INCORRECT_PARAMS_DATA StatusWord = 0x6A80
	SW_ERR_FUNC_NOT_SUPPORTED    StatusWord = 0x6A81
	SW_ERR_FILE_NOT_FOUND        StatusWord = 0x6A82
	SW_ERR_NOT_ENOUGH_MEMORY     StatusWord = 0x6A84
	SW_ERR_INCORRECT_PARAMS_P1P2 StatusWord = 0x6A86
	SW_ERR_REF_DATA_NOT_FOUND    StatusWord = 0x6A88

	SW_ERR_WRONG_P1P2        StatusWord = 0x6B00
	SW_ERR_INS_INVALID       StatusWord = 0x6D00
	SW_ERR_CLA_NOT_SUPPORTED StatusWord = 0x6E00
	SW_ERR_UNKNOWN           StatusWord = 0x6F00
)

var statusText = map[StatusWord]string{
	SW_NO_ERROR:                     "Success",
	SW_WARN_DATA_CORRUPTED:          "Warning: part of returned data may be corrupted",
	SW_WARN_EOF_REACHED:             "Warning: end of file reached before reading Ne bytes",
	SW_WARN_FILE_DEACTIVATED:        "Warning: selected file deactivated",
	SW_ERR_MEMORY_FAILURE:           "Execution error: memory failure",
	SW_ERR_WRONG_LENGTH:             "Wrong length",
	SW_ERR_LOGICAL_CHANNEL_NOT_SUPP: "Logical channel not supported",
	SW_ERR_SM_NOT_SUPPORTED:         "Secure messaging not supported",
	SW_ERR_CMD_INCOMPATIBLE_FILE:    "Command incompatible with file structure",
	SW_ERR_SECURITY_STATUS_NOT_SAT:  "Security status not satisfied",
	SW_ERR_COND_OF_USE_NOT_SAT:      "Conditions of use not satisfied",
	SW_ERR_CMD_NOT_ALLOWED_NO_EF:    "Command not allowed, no current EF",
	SW_ERR_INCORRECT_PARAMS_DATA:    "Incorrect parameters in the data field",
	SW_ERR_FUNC_NOT_SUPPORTED:       "Function not supported",
	SW_ERR_FILE_NOT_FOUND:           "File or application not found",
	SW_ERR_NOT_ENOUGH_MEMORY:        "Not enough memory space in the file",
	SW_ERR_INCORRECT_PARAMS_P1P2:    "Incorrect parameters P1-P2",
	SW_ERR_REF_DATA_NOT_FOUND:       "Referenced data not found",
	SW_ERR_WRONG_P1P2:               "Wrong parameters P1-P2",
	SW_ERR_INS_INVALID:              "Instruction code not supported",
	SW_ERR_CLA_NOT_SUPPORTED:        "Class not supported",
	SW_ERR_UNKNOWN:                  "No precise diagnosis",
}
