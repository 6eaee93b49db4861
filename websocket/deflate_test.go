package websocket

import (
	"bytes"
	"testing"
)

func TestNegotiateDeflateBasic(t *testing.T) {
	params, ok, err := negotiateDeflate("permessage-deflate; client_no_context_takeover")
	if err != nil {
		t.Fatalf("negotiateDeflate: %v", err)
	}
	if !ok {
		t.Fatal("ok = false, want true")
	}
	if !params.ClientNoContextTakeover {
		t.Fatal("ClientNoContextTakeover = false, want true")
	}
}

func TestNegotiateDeflateAbsent(t *testing.T) {
	_, ok, err := negotiateDeflate("")
	if err != nil {
		t.Fatalf("negotiateDeflate: %v", err)
	}
	if ok {
		t.Fatal("ok = true, want false")
	}

	_, ok, err = negotiateDeflate("some-other-extension")
	if err != nil {
		t.Fatalf("negotiateDeflate: %v", err)
	}
	if ok {
		t.Fatal("ok = true for unrelated extension, want false")
	}
}

// TestNegotiateDeflateFirstValidOfferWins covers the decided Open Question:
// when multiple permessage-deflate offers are present and an earlier one is
// malformed, negotiation falls through to the next valid offer rather than
// failing outright.
func TestNegotiateDeflateFirstValidOfferWins(t *testing.T) {
	header := "permessage-deflate; server_max_window_bits=999, permessage-deflate; server_no_context_takeover"
	params, ok, err := negotiateDeflate(header)
	if err != nil {
		t.Fatalf("negotiateDeflate: %v", err)
	}
	if !ok {
		t.Fatal("ok = false, want true (second offer is valid)")
	}
	if !params.ServerNoContextTakeover {
		t.Fatal("expected params from the second, valid offer")
	}
}

func TestParseWindowBits(t *testing.T) {
	tests := []struct {
		value   string
		want    int
		wantOK  bool
		isEmpty bool
	}{
		{value: "", want: 0, wantOK: true, isEmpty: true},
		{value: "15", want: 15, wantOK: true},
		{value: "8", want: 8, wantOK: true},
		{value: "7", wantOK: false},
		{value: "16", wantOK: false},
		{value: "nope", wantOK: false},
	}
	for _, tc := range tests {
		got, ok := parseWindowBits([]byte(tc.value))
		if ok != tc.wantOK {
			t.Errorf("parseWindowBits(%q) ok = %v, want %v", tc.value, ok, tc.wantOK)
			continue
		}
		if ok && !tc.isEmpty && got != tc.want {
			t.Errorf("parseWindowBits(%q) = %d, want %d", tc.value, got, tc.want)
		}
	}
}

func TestBuildExtensionsHeader(t *testing.T) {
	got := buildExtensionsHeader(DeflateParams{ServerNoContextTakeover: true, ClientMaxWindowBits: 10})
	want := "permessage-deflate; server_no_context_takeover; client_max_window_bits=10"
	if got != want {
		t.Fatalf("buildExtensionsHeader = %q, want %q", got, want)
	}
}

func TestDeflateEncodeDecodeRoundTrip(t *testing.T) {
	params := DeflateParams{}
	enc, err := newDeflateEncoder(params, true)
	if err != nil {
		t.Fatalf("newDeflateEncoder: %v", err)
	}
	dec := newDeflateDecoder(params, false)

	text := []byte("the quick brown fox jumps over the lazy dog, repeatedly, the quick brown fox jumps over the lazy dog")

	compressed, rsv1, err := enc.EncodeOutbound(OpText, text)
	if err != nil {
		t.Fatalf("EncodeOutbound: %v", err)
	}
	if !rsv1 {
		t.Fatal("rsv1 = false, want true for a compressed text frame")
	}
	if bytes.Equal(compressed, text) {
		t.Fatal("compressed output equals input; compression did not run")
	}

	decompressed, err := dec.DecodeInbound(OpText, compressed)
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	if !bytes.Equal(decompressed, text) {
		t.Fatalf("decompressed = %q, want %q", decompressed, text)
	}
}

func TestDeflateEncodeSkipsControlFrames(t *testing.T) {
	enc, err := newDeflateEncoder(DeflateParams{}, true)
	if err != nil {
		t.Fatalf("newDeflateEncoder: %v", err)
	}
	payload := []byte("ping")
	out, rsv1, err := enc.EncodeOutbound(OpPing, payload)
	if err != nil {
		t.Fatalf("EncodeOutbound: %v", err)
	}
	if rsv1 {
		t.Fatal("rsv1 = true for a control frame, want false")
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("control frame payload was modified: got %q, want %q", out, payload)
	}
}

// TestDeflateContextTakeoverReset verifies that successive messages still
// round-trip correctly both when context is retained across messages
// (default) and when no_context_takeover forces a reset after every message.
func TestDeflateContextTakeoverReset(t *testing.T) {
	for _, noTakeover := range []bool{false, true} {
		params := DeflateParams{ServerNoContextTakeover: noTakeover, ClientNoContextTakeover: noTakeover}
		enc, err := newDeflateEncoder(params, true)
		if err != nil {
			t.Fatalf("newDeflateEncoder: %v", err)
		}
		dec := newDeflateDecoder(params, false)

		messages := [][]byte{
			[]byte("first message with some repeated repeated repeated text"),
			[]byte("second message with some repeated repeated repeated text"),
			[]byte("third message with some repeated repeated repeated text"),
		}
		for _, want := range messages {
			compressed, _, err := enc.EncodeOutbound(OpText, want)
			if err != nil {
				t.Fatalf("EncodeOutbound (noTakeover=%v): %v", noTakeover, err)
			}
			got, err := dec.DecodeInbound(OpText, compressed)
			if err != nil {
				t.Fatalf("DecodeInbound (noTakeover=%v): %v", noTakeover, err)
			}
			if !bytes.Equal(got, want) {
				t.Fatalf("noTakeover=%v: got %q, want %q", noTakeover, got, want)
			}
		}
	}
}
