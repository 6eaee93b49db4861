package websocket

import (
	"bufio"
	"encoding/json/v2"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// Conn represents a WebSocket connection (RFC 6455) moving through the
// lifecycle state machine Created -> Connecting -> HandShaking -> Running ->
// Closing -> Closed (spec Section 3). Upgrade and Dial both return a Conn
// already in StateRunning.
//
// Conn provides high-level methods for reading and writing messages,
// automatically handling:
//   - Message fragmentation (reassembly of multi-frame messages)
//   - Control frames (Ping, Pong, Close)
//   - UTF-8 validation for text messages
//   - permessage-deflate compression, if negotiated
//   - Thread-safe writes
//
// Example Usage:
//
//	conn, err := websocket.Upgrade(w, r, nil)
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//
//	msg, err := conn.ReadMessage()
//	conn.WriteText("Hello, WebSocket!")
type Conn struct {
	netConn net.Conn
	logger  *slog.Logger

	isServer    bool
	subprotocol string

	r *connReader
	w *connWriter

	stateMu sync.Mutex
	state   ConnState

	closeOnce sync.Once
}

// connReader owns everything needed to turn bytes off the wire into
// Messages: the buffered reader, frame-level config, the fragment/UTF-8
// assembler, and (if negotiated) the inbound half of permessage-deflate.
// After Split, a ReadHalf owns this exclusively; nothing here is ever
// touched by a connWriter (spec Section 4.7).
type connReader struct {
	br      *bufio.Reader
	cfg     FrameConfig
	asm     *assembler
	inbound inboundPipeline
}

// connWriter owns everything needed to turn a Message into bytes on the
// wire: the buffered writer, frame-level config, and (if negotiated) the
// outbound half of permessage-deflate. mu serializes concurrent Write
// calls on the SAME half; it is never shared with connReader.
type connWriter struct {
	bw       *bufio.Writer
	cfg      FrameConfig
	outbound outboundPipeline
	mu       sync.Mutex
}

// newConn builds a running Conn around an already-upgraded net.Conn.
// readCfg governs inbound frame validation and writeCfg outbound framing
// (Upgrade and Dial copy MaxPayloadLen only into readCfg and
// AutoFragmentSize only into writeCfg); deflateOK selects whether
// permessage-deflate extensions are attached to both pipelines.
func newConn(
	netConn net.Conn,
	reader *bufio.Reader,
	writer *bufio.Writer,
	isServer bool,
	subprotocol string,
	readCfg, writeCfg FrameConfig,
	deflateParams DeflateParams,
	deflateOK bool,
	logger *slog.Logger,
) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := &connReader{br: reader, cfg: readCfg, asm: newAssembler(readCfg)}
	w := &connWriter{bw: writer, cfg: writeCfg}

	if deflateOK {
		readCfg.CheckRSV = false
		writeCfg.CheckRSV = false
		r.cfg = readCfg
		w.cfg = writeCfg
		r.asm = newAssembler(readCfg)

		r.inbound.add(newDeflateDecoder(deflateParams, isServer))

		enc, err := newDeflateEncoder(deflateParams, isServer)
		if err != nil {
			return nil, err
		}
		w.outbound.add(enc)
	}

	return &Conn{
		netConn:     netConn,
		logger:      logger,
		isServer:    isServer,
		subprotocol: subprotocol,
		r:           r,
		w:           w,
		state:       StateRunning,
	}, nil
}

// State returns the connection's current lifecycle state.
func (c *Conn) State() ConnState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Conn) setState(s ConnState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// Subprotocol returns the subprotocol negotiated during the handshake, or
// "" if none was.
func (c *Conn) Subprotocol() string {
	return c.subprotocol
}

// LocalAddr and RemoteAddr expose the underlying transport's addresses.
func (c *Conn) LocalAddr() net.Addr  { return c.netConn.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.netConn.RemoteAddr() }

// ReadMessage reads the next complete data message, transparently replying
// to Ping frames with Pong and to an incoming Close frame with an echoing
// Close response (RFC 6455 Section 5.5.1/5.5.2). When the peer's Close frame
// arrives it returns that Close message together with an error wrapping
// ErrClosed; once the connection is Closed (that way or through Close or
// CloseWithCode), further calls fail with *InvalidConnStateError.
//
//nolint:cyclop // fragmentation/control-frame interleaving has several cases
func (c *Conn) ReadMessage() (*Message, error) {
	if c.State() != StateRunning && c.State() != StateClosing {
		return nil, &InvalidConnStateError{State: c.State(), Op: "ReadMessage"}
	}

	for {
		f, err := readFrame(c.r.br, c.r.cfg)
		if err != nil {
			c.logger.Debug("websocket: read frame failed", "error", err)
			return nil, err
		}

		msg, err := c.r.asm.Feed(f)
		if err != nil {
			c.logger.Debug("websocket: message assembly failed", "error", err)
			return nil, err
		}
		if msg == nil {
			continue // non-final fragment
		}

		switch msg.Opcode {
		case OpPing:
			if err := c.writeControl(OpPong, msg.Payload); err != nil {
				return nil, err
			}
			continue
		case OpPong:
			continue
		case OpClose:
			return msg, c.handleIncomingClose(msg)
		}

		if msg.Compressed {
			payload, err := c.r.inbound.decode(msg.Opcode, msg.Payload)
			if err != nil {
				return nil, err
			}
			if msg.Opcode == OpText && c.r.cfg.ValidateUTF8 != UTF8Off && !validInflatedUTF8(payload) {
				return nil, &ProtocolError{CloseCode: CloseInvalidFramePayloadData, Kind: KindInvalidUtf8}
			}
			msg.Payload = payload
		}
		return msg, nil
	}
}

// handleIncomingClose sends the close response required by RFC 6455 Section
// 7.1.5 and transitions the connection to Closed, unless we are the one
// who initiated the close (State already Closing), in which case the wire
// round-trip is complete and we simply finish closing.
func (c *Conn) handleIncomingClose(msg *Message) error {
	wasClosing := c.State() == StateClosing
	c.setState(StateClosing)

	if !wasClosing {
		code := CloseNormalClosure
		if msg.HasCloseCode {
			code = msg.CloseCode
		}
		_ = c.writeClose(code, "") // best-effort echo; peer is already gone if this fails
	}

	c.setState(StateClosed)
	_ = c.netConn.Close()
	return fmt.Errorf("%w: %s", ErrClosed, msg.CloseReason())
}

// Read is a convenience wrapper returning the legacy (MessageType, []byte)
// pair for callers that don't need CloseCode/Compressed metadata.
func (c *Conn) Read() (MessageType, []byte, error) {
	msg, err := c.ReadMessage()
	if err != nil {
		return 0, nil, err
	}
	return msg.Type(), msg.Payload, nil
}

// ReadText reads the next message and requires it to be a TextMessage.
func (c *Conn) ReadText() (string, error) {
	msg, err := c.ReadMessage()
	if err != nil {
		return "", err
	}
	if msg.Type() != TextMessage {
		return "", ErrInvalidMessageType
	}
	return string(msg.Payload), nil
}

// ReadJSON reads the next message, requires it to be text, and unmarshals
// it into v.
func (c *Conn) ReadJSON(v any) error {
	msg, err := c.ReadMessage()
	if err != nil {
		return err
	}
	if msg.Type() != TextMessage {
		return ErrInvalidMessageType
	}
	return json.Unmarshal(msg.Payload, v)
}

// Write sends messageType data as one (possibly auto-fragmented per
// FrameConfig.AutoFragmentSize) message.
func (c *Conn) Write(messageType MessageType, data []byte) error {
	var opcode Opcode
	switch messageType {
	case TextMessage:
		opcode = OpText
	case BinaryMessage:
		opcode = OpBinary
	default:
		return ErrInvalidMessageType
	}
	return c.writeData(opcode, data)
}

func (c *Conn) writeData(opcode Opcode, payload []byte) error {
	if c.State() != StateRunning {
		return &InvalidConnStateError{State: c.State(), Op: "Write"}
	}

	c.w.mu.Lock()
	defer c.w.mu.Unlock()

	out, rsv1, err := c.w.outbound.encode(opcode, payload)
	if err != nil {
		return err
	}

	frames, err := buildDataFrames(opcode, out, c.w.cfg)
	if err != nil {
		return err
	}
	if rsv1 && len(frames) > 0 {
		frames[0].rsv1 = true
	}
	for _, f := range frames {
		if err := encodeFrame(c.w.bw, f); err != nil {
			return err
		}
	}
	return c.w.bw.Flush()
}

// WriteText writes a text message, after validating it is UTF-8 (RFC 6455
// Section 8.1).
func (c *Conn) WriteText(text string) error {
	if c.w.cfg.ValidateUTF8 != UTF8Off && !validInflatedUTF8([]byte(text)) {
		return ErrInvalidUTF8
	}
	return c.Write(TextMessage, []byte(text))
}

// WriteJSON marshals v and sends it as a text message.
func (c *Conn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Write(TextMessage, data)
}

// writeControl writes a control frame (Ping/Pong/Close) directly, bypassing
// extension encoding: RFC 7692 never compresses control frames.
func (c *Conn) writeControl(opcode Opcode, payload []byte) error {
	if len(payload) > maxControlPayload {
		return ErrControlTooLarge
	}

	c.w.mu.Lock()
	defer c.w.mu.Unlock()

	f, err := newOutboundFrame(opcode, payload, true, c.w.cfg)
	if err != nil {
		return err
	}
	return writeFrame(c.w.bw, f)
}

// Ping sends a ping control frame; the peer SHOULD respond with Pong
// carrying the same payload (RFC 6455 Section 5.5.2).
func (c *Conn) Ping(data []byte) error {
	if c.State() != StateRunning {
		return &InvalidConnStateError{State: c.State(), Op: "Ping"}
	}
	return c.writeControl(OpPing, data)
}

// Pong sends an unsolicited pong frame. ReadMessage already answers
// incoming Pings automatically; this is for heartbeat-style keepalive.
func (c *Conn) Pong(data []byte) error {
	if c.State() != StateRunning {
		return &InvalidConnStateError{State: c.State(), Op: "Pong"}
	}
	return c.writeControl(OpPong, data)
}

// Close performs a normal (code 1000) close handshake.
func (c *Conn) Close() error {
	return c.CloseWithCode(CloseNormalClosure, "")
}

// CloseWithCode sends a Close frame with the given status code and reason
// (RFC 6455 Section 7.1.2), then closes the underlying transport. Idempotent.
func (c *Conn) CloseWithCode(code CloseCode, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.setState(StateClosing)
		err = c.writeClose(code, reason)
		if err != nil {
			c.logger.Debug("websocket: write close frame failed", "error", err)
		}
		c.setState(StateClosed)
		if closeErr := c.netConn.Close(); err == nil {
			err = closeErr
		}
	})
	return err
}

func (c *Conn) writeClose(code CloseCode, reason string) error {
	if reason != "" && !validInflatedUTF8([]byte(reason)) {
		return ErrInvalidUTF8
	}
	payload := make([]byte, 2+len(reason))
	payload[0] = byte(code >> 8)
	payload[1] = byte(code & 0xFF)
	copy(payload[2:], reason)
	return c.writeControl(OpClose, payload)
}

// validInflatedUTF8 validates a fully assembled (already-decompressed)
// byte slice in one shot; callers needing incremental validation across
// fragments go through utf8Validator instead (spec Section 4.3).
func validInflatedUTF8(p []byte) bool {
	v := newUTF8Validator()
	v.Write(p)
	return v.Finish()
}
