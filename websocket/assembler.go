package websocket

import "unicode/utf8"

// assembler implements the receive-side message state machine (spec
// Section 4.3): fragmentation assembly, control-frame interleaving, and
// incremental UTF-8 validation. It owns no transport or buffering state —
// only the logical state of "am I in the middle of a fragmented message".
type assembler struct {
	cfg FrameConfig

	fragmented           bool
	fragmentedOpcode     Opcode
	fragmentedCompressed bool
	fragmentedBuf        []byte
	utf8                 *utf8Validator
}

func newAssembler(cfg FrameConfig) *assembler {
	return &assembler{cfg: cfg}
}

// Feed advances the state machine with one decoded frame. It returns a
// non-nil Message when a complete message is ready to deliver (control
// frames are always delivered immediately; data frames only once FIN=1 has
// been seen), or (nil, nil) when f was a non-final fragment.
//
//nolint:cyclop // RFC 6455 Section 5.4 fragmentation has several cases
func (a *assembler) Feed(f *frame) (*Message, error) {
	if f.opcode.IsControl() {
		return a.feedControl(f)
	}

	switch f.opcode {
	case OpText, OpBinary:
		if a.fragmented {
			return nil, &ProtocolError{CloseCode: CloseProtocolError, Kind: KindNotContinueFrameAfterFragmented}
		}
		if f.fin {
			return a.finishData(f.opcode, f.payload, f.rsv1, true)
		}
		a.fragmented = true
		a.fragmentedOpcode = f.opcode
		a.fragmentedCompressed = f.rsv1
		a.fragmentedBuf = append([]byte(nil), f.payload...)
		// A compressed message's bytes are inflated as a whole before UTF-8
		// validation runs (spec Section 4.8), so the incremental validator
		// only tracks uncompressed fragments here.
		if a.cfg.ValidateUTF8 == UTF8Strict && f.opcode == OpText && !f.rsv1 {
			a.utf8 = newUTF8Validator()
			a.utf8.Write(f.payload)
		}
		return nil, nil

	case OpContinuation:
		if !a.fragmented {
			return nil, &ProtocolError{CloseCode: CloseProtocolError, Kind: KindMissInitialFragmentedFrame}
		}
		if f.fin {
			a.fragmented = false
			opcode := a.fragmentedOpcode
			compressed := a.fragmentedCompressed
			buf := append(a.fragmentedBuf, f.payload...)
			a.fragmentedBuf = nil
			if a.utf8 != nil {
				a.utf8.Write(f.payload)
			}
			return a.finishData(opcode, buf, compressed, false)
		}
		a.fragmentedBuf = append(a.fragmentedBuf, f.payload...)
		if a.utf8 != nil {
			a.utf8.Write(f.payload)
		}
		return nil, nil

	default:
		return nil, &UnsupportedFrameError{Opcode: f.opcode}
	}
}

// finishData validates and wraps a fully assembled Text/Binary message.
// firstFragment distinguishes an unfragmented message (validated in one
// shot with UTF8Fast/UTF8Strict equivalently) from the tail of a fragmented
// one (whose UTF8Strict validator has already consumed every fragment).
// A compressed message's payload is still deflate-compressed at this point,
// so UTF-8 validation is skipped here and left to the caller once the
// extension layer has inflated it.
func (a *assembler) finishData(opcode Opcode, payload []byte, compressed, firstFragment bool) (*Message, error) {
	if opcode == OpText && !compressed {
		switch a.cfg.ValidateUTF8 {
		case UTF8Fast:
			if !utf8.Valid(payload) {
				return nil, &ProtocolError{CloseCode: CloseInvalidFramePayloadData, Kind: KindInvalidUtf8}
			}
		case UTF8Strict:
			if firstFragment {
				v := newUTF8Validator()
				v.Write(payload)
				if !v.Finish() {
					return nil, &ProtocolError{CloseCode: CloseInvalidFramePayloadData, Kind: KindInvalidUtf8}
				}
			} else {
				ok := a.utf8 != nil && a.utf8.Finish()
				a.utf8 = nil
				if !ok {
					return nil, &ProtocolError{CloseCode: CloseInvalidFramePayloadData, Kind: KindInvalidUtf8}
				}
			}
		}
	}
	return &Message{Opcode: opcode, Payload: payload, Compressed: compressed}, nil
}

func (a *assembler) feedControl(f *frame) (*Message, error) {
	if f.opcode == OpClose {
		code, hasCode, err := parseCloseFramePayload(f.payload)
		if err != nil {
			return nil, err
		}
		return &Message{Opcode: OpClose, Payload: f.payload, CloseCode: code, HasCloseCode: hasCode}, nil
	}
	return &Message{Opcode: f.opcode, Payload: f.payload}, nil
}
