package websocket

import "crypto/rand"

// genMaskKey generates a fresh cryptographically random masking key for one
// outbound frame (spec Section 5: "masking-key generation uses
// cryptographic randomness per outbound frame but need not be globally
// ordered").
func genMaskKey() ([4]byte, error) {
	var key [4]byte
	if _, err := rand.Read(key[:]); err != nil {
		return key, err
	}
	return key, nil
}

// newOutboundFrame builds a single frame for payload, masking it if the
// config requires.
func newOutboundFrame(opcode Opcode, payload []byte, fin bool, cfg FrameConfig) (*frame, error) {
	f := &frame{fin: fin, opcode: opcode, payload: payload}
	if cfg.MaskSendFrame {
		key, err := genMaskKey()
		if err != nil {
			return nil, err
		}
		f.masked = true
		f.mask = key
	}
	return f, nil
}

// buildDataFrames splits a message's payload into one or more outbound
// frames (spec Section 4.4). When AutoFragmentSize is unset, zero, or the
// payload fits within it, a single frame with FIN=1 is produced. Otherwise
// the payload is split into chunks of at most AutoFragmentSize bytes: the
// first frame carries the original opcode with FIN=0, middle frames carry
// Continue with FIN=0, and the last carries Continue with FIN=1.
func buildDataFrames(opcode Opcode, payload []byte, cfg FrameConfig) ([]*frame, error) {
	size := cfg.AutoFragmentSize
	if size == 0 || uint64(len(payload)) <= size {
		f, err := newOutboundFrame(opcode, payload, true, cfg)
		if err != nil {
			return nil, err
		}
		return []*frame{f}, nil
	}

	var frames []*frame
	op := opcode
	for offset := 0; offset < len(payload); offset += int(size) {
		end := offset + int(size)
		if end > len(payload) {
			end = len(payload)
		}
		fin := end == len(payload)
		f, err := newOutboundFrame(op, payload[offset:end], fin, cfg)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
		op = OpContinuation
	}
	return frames, nil
}
