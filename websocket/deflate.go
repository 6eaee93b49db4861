package websocket

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/gobwas/httphead"
	"github.com/klauspost/compress/flate"
)

// deflateExtensionName is the Sec-WebSocket-Extensions token for RFC 7692.
const deflateExtensionName = "permessage-deflate"

// deflateTrailer is the 4-byte tail DEFLATE always produces for a
// Z_SYNC_FLUSH block; RFC 7692 Section 7.2.1 has senders strip it and
// receivers append it back before inflating.
var deflateTrailer = []byte{0x00, 0x00, 0xff, 0xff}

// deflateFinalBlock is an empty stored block with BFINAL=1, appended after
// deflateTrailer on the receive side only. klauspost/compress/flate shares
// stdlib compress/flate's final-block semantics: without it, the reader has
// no BFINAL=1 block to stop on and returns io.ErrUnexpectedEOF instead of a
// clean io.EOF once the sync-flush bytes are exhausted.
var deflateFinalBlock = []byte{0x01, 0x00, 0x00, 0xff, 0xff}

// DeflateParams holds the negotiated permessage-deflate parameters (RFC 7692
// Section 7.1). Window-bits parameters are accepted during negotiation but
// klauspost/compress/flate always uses a full 32KB window, so they are
// recorded for Sec-WebSocket-Extensions echo purposes only.
type DeflateParams struct {
	ServerNoContextTakeover bool
	ClientNoContextTakeover bool
	ServerMaxWindowBits     int // 0 means unspecified
	ClientMaxWindowBits     int // 0 means unspecified
}

// negotiateDeflate parses a Sec-WebSocket-Extensions header value and
// returns the first permessage-deflate offer's parameters (spec Section
// 4.8 / Open Question: first-valid-offer-wins when a client lists more than
// one permessage-deflate offer). ok is false when the header names no
// permessage-deflate offer, or when every such offer is malformed.
func negotiateDeflate(headerValue string) (params DeflateParams, ok bool, err error) {
	if headerValue == "" {
		return DeflateParams{}, false, nil
	}
	options, ret := httphead.ParseOptions([]byte(headerValue), nil)
	if !ret {
		return DeflateParams{}, false, fmt.Errorf("websocket: malformed Sec-WebSocket-Extensions header")
	}
	for _, opt := range options {
		if string(opt.Name) != deflateExtensionName {
			continue
		}
		p := DeflateParams{}
		valid := true
		opt.Parameters.ForEach(func(key, value []byte) bool {
			switch string(key) {
			case "server_no_context_takeover":
				p.ServerNoContextTakeover = true
			case "client_no_context_takeover":
				p.ClientNoContextTakeover = true
			case "server_max_window_bits":
				p.ServerMaxWindowBits, valid = parseWindowBits(value)
			case "client_max_window_bits":
				p.ClientMaxWindowBits, valid = parseWindowBits(value)
			default:
				valid = false
			}
			return valid
		})
		if !valid {
			continue // malformed offer: try the next one rather than failing the handshake
		}
		return p, true, nil
	}
	return DeflateParams{}, false, nil
}

// parseWindowBits parses a (possibly empty, per RFC 7692 Section 7.1.2.2)
// *_max_window_bits value in [8, 15].
func parseWindowBits(value []byte) (int, bool) {
	if len(value) == 0 {
		return 0, true
	}
	n, err := strconv.Atoi(string(value))
	if err != nil || n < 8 || n > 15 {
		return 0, false
	}
	return n, true
}

// buildExtensionsHeader renders the Sec-WebSocket-Extensions response value
// the server sends back after accepting params.
func buildExtensionsHeader(params DeflateParams) string {
	value := deflateExtensionName
	if params.ServerNoContextTakeover {
		value += "; server_no_context_takeover"
	}
	if params.ClientNoContextTakeover {
		value += "; client_no_context_takeover"
	}
	if params.ServerMaxWindowBits != 0 {
		value += "; server_max_window_bits=" + strconv.Itoa(params.ServerMaxWindowBits)
	}
	if params.ClientMaxWindowBits != 0 {
		value += "; client_max_window_bits=" + strconv.Itoa(params.ClientMaxWindowBits)
	}
	return value
}

// ownNoContextTakeover and peerNoContextTakeover resolve which
// *_no_context_takeover flag governs a deflate encoder/decoder on a given
// connection side (spec Section 4.8: context-takeover negotiation is per
// direction, not per connection).
func ownNoContextTakeover(p DeflateParams, isServer bool) bool {
	if isServer {
		return p.ServerNoContextTakeover
	}
	return p.ClientNoContextTakeover
}

func peerNoContextTakeover(p DeflateParams, isServer bool) bool {
	if isServer {
		return p.ClientNoContextTakeover
	}
	return p.ServerNoContextTakeover
}

// deflateEncoder implements OutboundExtension for permessage-deflate,
// compressing with klauspost/compress/flate and stripping the trailing
// Z_SYNC_FLUSH marker (RFC 7692 Section 7.2.1). It holds only outbound
// state, so a connection's write half can own it without any lock shared
// with the read half (spec Section 4.7).
type deflateEncoder struct {
	noContextTakeover bool
	buf               bytes.Buffer
	writer            *flate.Writer
}

func newDeflateEncoder(params DeflateParams, isServer bool) (*deflateEncoder, error) {
	e := &deflateEncoder{noContextTakeover: ownNoContextTakeover(params, isServer)}
	w, err := flate.NewWriter(&e.buf, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("websocket: init deflate compressor: %w", err)
	}
	e.writer = w
	return e, nil
}

func (e *deflateEncoder) Name() string { return deflateExtensionName }

func (e *deflateEncoder) EncodeOutbound(opcode Opcode, payload []byte) ([]byte, bool, error) {
	if opcode != OpText && opcode != OpBinary {
		return payload, false, nil
	}

	e.buf.Reset()
	if _, err := e.writer.Write(payload); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCompressFailed, err)
	}
	if err := e.writer.Flush(); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCompressFailed, err)
	}

	out := e.buf.Bytes()
	if !bytes.HasSuffix(out, deflateTrailer) {
		return nil, false, fmt.Errorf("%w: missing sync-flush trailer", ErrCompressFailed)
	}
	compressed := make([]byte, len(out)-len(deflateTrailer))
	copy(compressed, out[:len(out)-len(deflateTrailer)])

	if e.noContextTakeover {
		e.buf.Reset()
		e.writer.Reset(&e.buf)
	}
	return compressed, true, nil
}

// deflateDecoder implements InboundExtension for permessage-deflate. It
// holds only inbound state (the sliding decompression window), owned
// independently by a connection's read half after Split.
type deflateDecoder struct {
	noContextTakeover bool
	in                *bytes.Buffer
	reader            io.ReadCloser
	window            []byte // last 32KB of inflated output, replayed as the dictionary
}

func newDeflateDecoder(params DeflateParams, isServer bool) *deflateDecoder {
	d := &deflateDecoder{
		noContextTakeover: peerNoContextTakeover(params, isServer),
		in:                new(bytes.Buffer),
	}
	d.reader = flate.NewReader(d.in)
	return d
}

func (d *deflateDecoder) Name() string { return deflateExtensionName }

// DecodeInbound appends the stripped trailer back and inflates it (RFC 7692
// Section 7.2.2).
func (d *deflateDecoder) DecodeInbound(_ Opcode, payload []byte) ([]byte, error) {
	d.in.Reset()
	d.in.Write(payload)
	d.in.Write(deflateTrailer)
	d.in.Write(deflateFinalBlock)

	// deflateFinalBlock ends the stream, so the reader is reset for every
	// message; with context takeover the previous output is its dictionary.
	if resetter, ok := d.reader.(flate.Resetter); ok {
		_ = resetter.Reset(d.in, d.window)
	}

	var out bytes.Buffer
	if _, err := io.Copy(&out, d.reader); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeCompressFailed, err)
	}

	if !d.noContextTakeover {
		const windowSize = 32 << 10
		d.window = append(d.window, out.Bytes()...)
		if len(d.window) > windowSize {
			d.window = append([]byte(nil), d.window[len(d.window)-windowSize:]...)
		}
	}
	return out.Bytes(), nil
}
