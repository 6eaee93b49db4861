package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestComputeAcceptKey(t *testing.T) {
	// Worked example from RFC 6455 Section 1.3.
	got := computeAcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Fatalf("computeAcceptKey = %q, want %q", got, want)
	}
}

func TestHeaderContainsToken(t *testing.T) {
	tests := []struct {
		header, token string
		want          bool
	}{
		{"websocket", "websocket", true},
		{"Websocket", "websocket", true},
		{"Upgrade, keep-alive", "upgrade", true},
		{"upgrade", "websocket", false},
		{"", "websocket", false},
	}
	for _, tc := range tests {
		if got := headerContainsToken(tc.header, tc.token); got != tc.want {
			t.Errorf("headerContainsToken(%q, %q) = %v, want %v", tc.header, tc.token, got, tc.want)
		}
	}
}

func TestCheckSameOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/ws", nil)
	req.Host = "example.com"

	if !CheckSameOrigin(req) {
		t.Fatal("no Origin header should be accepted")
	}

	req.Header.Set("Origin", "http://example.com")
	if !CheckSameOrigin(req) {
		t.Fatal("matching Origin should be accepted")
	}

	req.Header.Set("Origin", "http://evil.example")
	if CheckSameOrigin(req) {
		t.Fatal("mismatched Origin should be rejected")
	}
}

// newUpgradeServer spins up an httptest.Server whose handler calls Upgrade
// with opts and hands the resulting *Conn to onConn.
func newUpgradeServer(t *testing.T, opts *UpgradeOptions, onConn func(*Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r, opts)
		if err != nil {
			t.Errorf("Upgrade: %v", err)
			return
		}
		onConn(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestUpgradeAndDialRoundTrip(t *testing.T) {
	srv := newUpgradeServer(t, nil, func(conn *Conn) {
		defer conn.Close()
		msg, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("server ReadMessage: %v", err)
			return
		}
		if err := conn.Write(TextMessage, msg.Payload); err != nil {
			t.Errorf("server Write: %v", err)
		}
	})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, resp, err := Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	if err := conn.WriteText("ping-pong"); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if string(msg.Payload) != "ping-pong" {
		t.Fatalf("payload = %q", msg.Payload)
	}
}

func TestUpgradeNegotiatesSubprotocol(t *testing.T) {
	opts := &UpgradeOptions{Subprotocols: []string{"chat.v2", "chat.v1"}}
	srv := newUpgradeServer(t, opts, func(conn *Conn) {
		defer conn.Close()
		if conn.Subprotocol() != "chat.v1" {
			t.Errorf("server subprotocol = %q, want chat.v1", conn.Subprotocol())
		}
	})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := Dial(ctx, wsURL, &DialOptions{Subprotocols: []string{"chat.v1"}})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	if conn.Subprotocol() != "chat.v1" {
		t.Fatalf("client subprotocol = %q, want chat.v1", conn.Subprotocol())
	}
}

func TestUpgradeRejectsMissingVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := Upgrade(w, r, nil)
		if err != ErrInvalidVersion {
			t.Errorf("err = %v, want ErrInvalidVersion", err)
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
}

func TestUpgradeDeflateNegotiation(t *testing.T) {
	const want = "compressed payload compressed payload compressed payload"
	done := make(chan error, 1)

	opts := &UpgradeOptions{EnableDeflate: true}
	srv := newUpgradeServer(t, opts, func(conn *Conn) {
		defer conn.Close()
		msg, err := conn.ReadMessage()
		if err != nil {
			done <- fmt.Errorf("server ReadMessage: %w", err)
			return
		}
		if string(msg.Payload) != want {
			done <- fmt.Errorf("server got payload %q, want %q", msg.Payload, want)
			return
		}
		done <- nil
	})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := Dial(ctx, wsURL, &DialOptions{EnableDeflate: true})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteText(want); err != nil {
		t.Fatalf("WriteText: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server to read the compressed message")
	}
}
