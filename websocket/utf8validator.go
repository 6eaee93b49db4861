package websocket

// utf8Validator incrementally validates a UTF-8 byte stream across multiple
// chunks, carrying a partial code point between Write calls (spec Section
// 4.3, testable property P7). It implements the UTF-8 DFA directly instead
// of buffering chunks and re-running unicode/utf8.Valid, so a code point
// split exactly at a fragment boundary never produces a spurious failure.
type utf8Validator struct {
	// need is the number of continuation bytes still expected for the
	// in-progress code point (0 means not mid-rune).
	need int
	// codepoint is not updated by Write; overlong encodings and surrogate
	// halves are rejected through the lower/upper bounds below.
	codepoint rune
	// lower/upper bound the next continuation byte, per RFC 3629 Table 3-7.
	lower, upper byte
	invalid      bool
}

func newUTF8Validator() *utf8Validator {
	return &utf8Validator{lower: 0x80, upper: 0xBF}
}

// Write feeds the next chunk of a message to the validator. It returns false
// as soon as an invalid byte sequence is observed; once false, the
// validator stays invalid permanently.
func (v *utf8Validator) Write(p []byte) bool {
	if v.invalid {
		return false
	}
	for _, b := range p {
		if v.need == 0 {
			switch {
			case b < 0x80: // ASCII
				continue
			case b&0xE0 == 0xC0: // 110xxxxx: 2-byte sequence
				if b < 0xC2 { // overlong
					v.invalid = true
					return false
				}
				v.need = 1
				v.lower, v.upper = 0x80, 0xBF
			case b&0xF0 == 0xE0: // 1110xxxx: 3-byte sequence
				v.need = 2
				v.lower, v.upper = 0x80, 0xBF
				switch b {
				case 0xE0:
					v.lower = 0xA0 // reject overlong
				case 0xED:
					v.upper = 0x9F // reject surrogate halves D800-DFFF
				}
			case b&0xF8 == 0xF0: // 11110xxx: 4-byte sequence
				if b > 0xF4 { // beyond U+10FFFF
					v.invalid = true
					return false
				}
				v.need = 3
				v.lower, v.upper = 0x80, 0xBF
				if b == 0xF0 {
					v.lower = 0x90 // reject overlong
				}
				if b == 0xF4 {
					v.upper = 0x8F // cap at U+10FFFF
				}
			default:
				v.invalid = true
				return false
			}
			continue
		}

		if b < v.lower || b > v.upper {
			v.invalid = true
			return false
		}
		// Only the first continuation byte after a multi-byte lead is
		// range-restricted; subsequent ones are plain 0x80-0xBF.
		v.lower, v.upper = 0x80, 0xBF
		v.need--
	}
	return true
}

// Finish reports whether the validator ended in an accepting state: no
// partial code point left dangling, and no invalid byte ever observed.
func (v *utf8Validator) Finish() bool {
	return !v.invalid && v.need == 0
}
