package websocket

import (
	"context"
	"crypto/tls"
	"net"
)

// tlsDial establishes a TCP connection to host and performs a TLS
// handshake for a wss:// Dial, verifying serverName against the peer
// certificate.
func tlsDial(ctx context.Context, dialer *net.Dialer, host, serverName string) (net.Conn, error) {
	tlsDialer := &tls.Dialer{
		NetDialer: dialer,
		Config:    &tls.Config{ServerName: serverName, MinVersion: tls.VersionTLS12},
	}
	return tlsDialer.DialContext(ctx, "tcp", host)
}
