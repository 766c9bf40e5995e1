/*
Package iso7816 implements the ISO/IEC 7816-4 command layer used to talk to a UICC.

It covers Command and Response APDUs, the class byte and its logical channel
coding, Status Word (SW) analysis, and the SELECT, READ BINARY, MANAGE CHANNEL
and GET RESPONSE commands together with parsers for their answers.

# Logical Channels

The class byte carries the logical channel of a command. Channels 0 to 3 use
the first interindustry coding (bits 2-1), channels 4 to 19 the further
interindustry coding (bit 7 set, bits 4-1 hold channel - 4). EncodeChannel and
DecodeChannel convert between the two without touching the other class bits
they keep.

Channel 0 is always open. Others are obtained with ManageChannelOpen and
released with ManageChannelClose.

# Procedure Bytes

Client.Send follows two status words before returning:
  - 0x61XX: XX more bytes are waiting; a GET RESPONSE is sent on the same channel.
  - 0x6CXX: wrong Le; the command is sent again with Ne = XX.

The number of follow-ups is bounded by Client.MaxContinuations. Trace.Result
joins the chain back into one logical response.

# Usage Example: Reading a Transparent File

	cls, _ := iso7816.NewInterindustryClass(false, iso7816.SMNone, channel)

	cmd, _ := iso7816.SelectFile(cls, []byte{0x50, 0x31})
	trace, err := client.Send(cmd)
	if err != nil {
	    return err
	}
	sel, _ := iso7816.NewSelectResult(trace)
	size, _ := sel.FileSize()

	read, _ := iso7816.ReadBinary(cls, 0, size)
	trace, err = client.Send(read)
	if err != nil {
	    return err
	}
	result, _ := iso7816.NewReadBinaryResult(trace)
	fmt.Println(result.Describe())
*/
package iso7816
