package websocket

import (
	"errors"
	"unicode/utf8"
)

// MessageType identifies the application-level type of a Message.
type MessageType int

const (
	// TextMessage is a UTF-8 text message (opcode Text).
	TextMessage MessageType = 1

	// BinaryMessage is an arbitrary binary message (opcode Binary).
	BinaryMessage MessageType = 2
)

// String returns the message type name.
func (mt MessageType) String() string {
	switch mt {
	case TextMessage:
		return "Text"
	case BinaryMessage:
		return "Binary"
	default:
		return "Unknown"
	}
}

// CloseCode is the 16-bit status code carried in the first two bytes of a
// Close frame's payload (RFC 6455 Section 7.4).
type CloseCode int

const (
	CloseNormalClosure           CloseCode = 1000
	CloseGoingAway               CloseCode = 1001
	CloseProtocolError           CloseCode = 1002
	CloseUnsupportedData         CloseCode = 1003
	CloseNoStatusReceived        CloseCode = 1005 // never sent on the wire
	CloseAbnormalClosure         CloseCode = 1006 // never sent on the wire
	CloseInvalidFramePayloadData CloseCode = 1007
	ClosePolicyViolation         CloseCode = 1008
	CloseMessageTooBig           CloseCode = 1009
	CloseMandatoryExtension      CloseCode = 1010
	CloseInternalServerErr       CloseCode = 1011
	CloseServiceRestart          CloseCode = 1012
	CloseTryAgainLater           CloseCode = 1013
	CloseTLSHandshake            CloseCode = 1015 // never sent on the wire
)

// String returns the close code name.
//
//nolint:cyclop // one case per RFC 6455 close code
func (cc CloseCode) String() string {
	switch cc {
	case CloseNormalClosure:
		return "Normal Closure"
	case CloseGoingAway:
		return "Going Away"
	case CloseProtocolError:
		return "Protocol Error"
	case CloseUnsupportedData:
		return "Unsupported Data"
	case CloseNoStatusReceived:
		return "No Status Received"
	case CloseAbnormalClosure:
		return "Abnormal Closure"
	case CloseInvalidFramePayloadData:
		return "Invalid Frame Payload Data"
	case ClosePolicyViolation:
		return "Policy Violation"
	case CloseMessageTooBig:
		return "Message Too Big"
	case CloseMandatoryExtension:
		return "Mandatory Extension"
	case CloseInternalServerErr:
		return "Internal Server Error"
	case CloseServiceRestart:
		return "Service Restart"
	case CloseTryAgainLater:
		return "Try Again Later"
	case CloseTLSHandshake:
		return "TLS Handshake"
	default:
		return "Unknown"
	}
}

// validCloseCode reports whether code is permitted in a received Close
// frame, per RFC 6455 Section 7.4.1 as tightened by spec:
//
//	code in [1000, 5000) and code not in {1004, 1005, 1006} and code not in
//	[1015, 2999].
func validCloseCode(code uint16) bool {
	switch {
	case code < 1000 || code >= 5000:
		return false
	case code >= 1004 && code <= 1006:
		return false
	case code >= 1015 && code <= 2999:
		return false
	default:
		return true
	}
}

// Message is a logically complete Text, Binary, or Close payload, possibly
// assembled from multiple fragments (spec Section 3).
type Message struct {
	Opcode  Opcode
	Payload []byte

	// CloseCode is present iff Opcode == OpClose and Payload has length >= 2.
	CloseCode    CloseCode
	HasCloseCode bool

	// Compressed reports whether the frame that opened this message had
	// RSV1 set. As delivered by the assembler, such a Payload is still
	// permessage-deflate compressed; Conn.ReadMessage and
	// ReadHalf.ReadMessage inflate Payload before returning it and leave
	// Compressed set.
	Compressed bool
}

// Type returns the MessageType for data messages, or 0 for control messages.
func (m Message) Type() MessageType {
	switch m.Opcode {
	case OpText:
		return TextMessage
	case OpBinary:
		return BinaryMessage
	default:
		return 0
	}
}

// CloseReason returns the UTF-8 reason text of a Close message, or "" if
// absent or m is not a Close message.
func (m Message) CloseReason() string {
	if m.Opcode != OpClose || len(m.Payload) <= 2 {
		return ""
	}
	return string(m.Payload[2:])
}

// parseCloseFramePayload validates a Close frame's payload per RFC 6455
// Section 5.5.1 and spec Section 4.2: length must be 0 or >= 2, the code (if
// present) must be in the permitted range, and the reason bytes must be
// valid UTF-8.
func parseCloseFramePayload(payload []byte) (code CloseCode, hasCode bool, err error) {
	switch {
	case len(payload) == 0:
		return 0, false, nil
	case len(payload) == 1:
		return 0, false, &ProtocolError{CloseCode: CloseProtocolError, Kind: KindInvalidCloseFramePayload}
	default:
		raw := uint16(payload[0])<<8 | uint16(payload[1])
		if !validCloseCode(raw) {
			return 0, false, &ProtocolError{CloseCode: CloseProtocolError, Kind: KindInvalidCloseCode}
		}
		if !utf8.Valid(payload[2:]) {
			return 0, false, &ProtocolError{CloseCode: CloseInvalidFramePayloadData, Kind: KindInvalidUtf8}
		}
		return CloseCode(raw), true, nil
	}
}

// IsCloseError reports whether err represents receipt of a Close frame
// (a clean shutdown, not a protocol or transport failure).
func IsCloseError(err error) bool {
	return err != nil && errors.Is(err, ErrClosed)
}

// IsTemporaryError reports whether err is a transient network error that
// may be worth retrying.
func IsTemporaryError(err error) bool {
	if err == nil {
		return false
	}
	type temporary interface {
		Temporary() bool
	}
	var te temporary
	if errors.As(err, &te) {
		return te.Temporary()
	}
	return false
}
