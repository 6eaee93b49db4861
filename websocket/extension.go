package websocket

// OutboundExtension transforms a message's payload before it is split into
// outbound frames (spec Section 9 design note: model extensions as "an
// ordered sequence of per-message transformers"). permessage-deflate
// (deflateEncoder) is the only one this package implements.
type OutboundExtension interface {
	Name() string

	// EncodeOutbound returns the bytes to put on the wire in place of
	// payload, and whether RSV1 should be set on the first frame of the
	// message.
	EncodeOutbound(opcode Opcode, payload []byte) (out []byte, rsv1 bool, err error)
}

// InboundExtension reverses an OutboundExtension's transform on receipt.
type InboundExtension interface {
	Name() string

	// DecodeInbound is only called when the message's first frame had
	// RSV1 set.
	DecodeInbound(opcode Opcode, payload []byte) (out []byte, err error)
}

// outboundPipeline and inboundPipeline are owned independently by a
// connection's write half and read half respectively (spec Section 4.7:
// Split partitions state so neither half needs to lock against the other).
// Each wraps permessage-deflate's own direction-specific compressor or
// decompressor; nothing under here is shared between the two slices.
type outboundPipeline struct {
	extensions []OutboundExtension
}

func (p *outboundPipeline) add(ext OutboundExtension) {
	p.extensions = append(p.extensions, ext)
}

func (p *outboundPipeline) encode(opcode Opcode, payload []byte) ([]byte, bool, error) {
	rsv1 := false
	for _, ext := range p.extensions {
		out, r, err := ext.EncodeOutbound(opcode, payload)
		if err != nil {
			return nil, false, err
		}
		payload = out
		rsv1 = rsv1 || r
	}
	return payload, rsv1, nil
}

type inboundPipeline struct {
	extensions []InboundExtension
}

func (p *inboundPipeline) add(ext InboundExtension) {
	p.extensions = append(p.extensions, ext)
}

// decode runs every negotiated extension's DecodeInbound in reverse
// registration order, mirroring encode's forward order (RFC 7692 Section 7
// for stacked extensions). Callers only invoke this for messages whose
// first frame had RSV1 set.
func (p *inboundPipeline) decode(opcode Opcode, payload []byte) ([]byte, error) {
	for i := len(p.extensions) - 1; i >= 0; i-- {
		out, err := p.extensions[i].DecodeInbound(opcode, payload)
		if err != nil {
			return nil, err
		}
		payload = out
	}
	return payload, nil
}
