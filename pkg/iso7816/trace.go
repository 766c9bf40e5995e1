package iso7816

// Transaction is one command and the response the card gave to it.
type Transaction struct {
	Command  *CommandAPDU
	Response *ResponseAPDU
}

func (t *Transaction) IsSuccess() bool {
	return t.Response != nil && t.Response.Status.IsSuccess()
}

// Trace lists every transaction of one logical exchange, the GET RESPONSE
// and Le retries that followed the first command included.
type Trace []Transaction

// Last returns the final transaction, or nil for an empty trace.
func (t Trace) Last() *Transaction {
	if len(t) == 0 {
		return nil
	}
	return &t[len(t)-1]
}

// IsSuccess reports the outcome of the final transaction only.
func (t Trace) IsSuccess() bool {
	last := t.Last()
	return last != nil && last.IsSuccess()
}

// Result joins the data of all responses but the '6CXX' rejections and
// pairs it with the final status word. It is nil for an empty trace.
func (t Trace) Result() *ResponseAPDU {
	last := t.Last()
	if last == nil || last.Response == nil {
		return nil
	}

	res := &ResponseAPDU{Status: last.Response.Status}
	for _, tx := range t {
		if tx.Response != nil && tx.Response.Status.SW1() != 0x6C {
			res.Data = append(res.Data, tx.Response.Data...)
		}
	}
	return res
}
