package websocket

import (
	"log/slog"
	"net"
	"sync/atomic"
)

// splitState is a shared, lock-free connection-state cell referenced by
// both halves of a split Conn (spec Section 4.7). A Close issued on the
// write half must be visible to the read half and vice versa, but neither
// half should need to take a lock on the other's state to see it — an
// atomic int satisfies that without reintroducing the cross-half mutex
// Split exists to avoid.
type splitState struct {
	v atomic.Int32
}

func newSplitState(s ConnState) *splitState {
	st := &splitState{}
	st.v.Store(int32(s))
	return st
}

func (s *splitState) load() ConnState   { return ConnState(s.v.Load()) }
func (s *splitState) store(v ConnState) { s.v.Store(int32(v)) }

// ReadHalf is the read-only side of a split Conn (spec Section 4.7). It
// owns the buffered reader, the fragment/UTF-8 assembler, and the inbound
// permessage-deflate decoder exclusively: nothing here is touched by a
// WriteHalf, so ReadHalf needs no lock of its own.
//
// Unlike Conn.ReadMessage, ReadHalf.ReadMessage does NOT automatically
// answer Ping with Pong or echo an incoming Close: doing so would require
// writing, which would reintroduce a dependency on the write half. A
// caller that splits a connection and still wants that behavior must
// forward Ping/Close notifications to its WriteHalf itself.
type ReadHalf struct {
	netConn net.Conn
	logger  *slog.Logger
	r       *connReader
	state   *splitState
}

// WriteHalf is the write-only side of a split Conn. It owns the buffered
// writer, the FrameConfig used to build outbound frames, and the outbound
// permessage-deflate encoder exclusively.
type WriteHalf struct {
	netConn net.Conn
	logger  *slog.Logger
	w       *connWriter
	state   *splitState
}

// Split consumes c and returns independent read and write halves (spec
// Section 4.7). c must not be used after Split returns; its read and write
// state has been transferred, not copied, to the two halves. Both halves
// share one splitState cell, so a Close issued on the write half is visible
// to the read half (and to later WriteHalf calls) without either half
// locking against the other.
func (c *Conn) Split() (*ReadHalf, *WriteHalf) {
	state := newSplitState(c.State())
	rh := &ReadHalf{netConn: c.netConn, logger: c.logger, r: c.r, state: state}
	wh := &WriteHalf{netConn: c.netConn, logger: c.logger, w: c.w, state: state}
	c.r, c.w = nil, nil
	return rh, wh
}

// State returns the shared connection state as last observed by this half.
func (rh *ReadHalf) State() ConnState { return rh.state.load() }

// State returns the shared connection state as last observed by this half.
func (wh *WriteHalf) State() ConnState { return wh.state.load() }

// ReadMessage reads the next complete message. Ping, Pong, and Close
// frames are returned to the caller like any other message, rather than
// handled internally (see the ReadHalf doc comment).
func (rh *ReadHalf) ReadMessage() (*Message, error) {
	f, err := readFrame(rh.r.br, rh.r.cfg)
	if err != nil {
		return nil, err
	}
	msg, err := rh.r.asm.Feed(f)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return rh.ReadMessage() // non-final fragment: keep reading
	}
	if msg.Compressed {
		payload, err := rh.r.inbound.decode(msg.Opcode, msg.Payload)
		if err != nil {
			return nil, err
		}
		if msg.Opcode == OpText && rh.r.cfg.ValidateUTF8 != UTF8Off && !validInflatedUTF8(payload) {
			return nil, &ProtocolError{CloseCode: CloseInvalidFramePayloadData, Kind: KindInvalidUtf8}
		}
		msg.Payload = payload
	}
	return msg, nil
}

// Close closes the whole underlying transport; it does not half-close the
// read direction, so the WriteHalf becomes unusable too. Callers
// coordinating a graceful shutdown should close the WriteHalf first.
func (rh *ReadHalf) Close() error {
	rh.state.store(StateClosed)
	return rh.netConn.Close()
}

// WriteMessage sends payload as one (possibly auto-fragmented) message with
// the given data opcode (OpText or OpBinary), running it through any
// negotiated outbound extension.
func (wh *WriteHalf) WriteMessage(opcode Opcode, payload []byte) error {
	if opcode != OpText && opcode != OpBinary {
		return ErrInvalidMessageType
	}
	if s := wh.state.load(); s != StateRunning {
		return &InvalidConnStateError{State: s, Op: "WriteMessage"}
	}

	wh.w.mu.Lock()
	defer wh.w.mu.Unlock()

	out, rsv1, err := wh.w.outbound.encode(opcode, payload)
	if err != nil {
		return err
	}
	frames, err := buildDataFrames(opcode, out, wh.w.cfg)
	if err != nil {
		return err
	}
	if rsv1 && len(frames) > 0 {
		frames[0].rsv1 = true
	}
	for _, f := range frames {
		if err := encodeFrame(wh.w.bw, f); err != nil {
			return err
		}
	}
	return wh.w.bw.Flush()
}

// WritePing, WritePong, and WriteClose send control frames directly,
// bypassing the outbound extension pipeline (RFC 7692 never compresses
// control frames).
func (wh *WriteHalf) WritePing(data []byte) error { return wh.writeControl(OpPing, data) }
func (wh *WriteHalf) WritePong(data []byte) error { return wh.writeControl(OpPong, data) }

// WriteClose sends a Close frame and transitions the shared state to
// Closing then Closed (spec Section 4.7): a Close issued on either half
// signals the codec has entered the Closing state, and any later
// WriteMessage, WritePing, WritePong, or WriteClose call fails with
// InvalidConnState.
func (wh *WriteHalf) WriteClose(code CloseCode, reason string) error {
	if s := wh.state.load(); s != StateRunning {
		return &InvalidConnStateError{State: s, Op: "WriteClose"}
	}
	wh.state.store(StateClosing)

	payload := make([]byte, 2+len(reason))
	payload[0] = byte(code >> 8)
	payload[1] = byte(code & 0xFF)
	copy(payload[2:], reason)
	err := wh.sendControl(OpClose, payload)

	wh.state.store(StateClosed)
	return err
}

// writeControl rejects the send once the shared state has left Running
// (spec Section 4.7), then delegates to sendControl.
func (wh *WriteHalf) writeControl(opcode Opcode, payload []byte) error {
	if s := wh.state.load(); s != StateRunning {
		return &InvalidConnStateError{State: s, Op: "Write"}
	}
	return wh.sendControl(opcode, payload)
}

// sendControl writes a control frame directly, without checking state:
// WriteClose calls this after it has already transitioned the shared state
// to Closing, so it must not reject itself via writeControl's check.
func (wh *WriteHalf) sendControl(opcode Opcode, payload []byte) error {
	if len(payload) > maxControlPayload {
		return ErrControlTooLarge
	}
	wh.w.mu.Lock()
	defer wh.w.mu.Unlock()

	f, err := newOutboundFrame(opcode, payload, true, wh.w.cfg)
	if err != nil {
		return err
	}
	return writeFrame(wh.w.bw, f)
}

// Close closes the whole underlying transport, like ReadHalf.Close; it does
// not half-close the write direction.
func (wh *WriteHalf) Close() error {
	wh.state.store(StateClosed)
	return wh.netConn.Close()
}
