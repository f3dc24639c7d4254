package dquic

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/quic-go/quic-go"
)

// ALPNProtocol is the ALPN token both ends of the digest wire protocol
// must negotiate.
const ALPNProtocol = "uadk-digest/1"

// Dialer handles establishing QUIC connections to a remote accelerator
// host.
type Dialer struct {
	// The TLS configuration to use. The dialer clones it
	// and forces the digest wire protocol via ALPN.
	TLS *tls.Config

	QUIC *quic.Config
}

// Dial opens a QUIC connection to addr.
func (d Dialer) Dial(ctx context.Context, addr string) (Conn, error) {
	tlsConf := d.TLS.Clone()
	tlsConf.NextProtos = []string{ALPNProtocol}

	qc, err := quic.DialAddr(ctx, addr, tlsConf, d.QUIC)
	if err != nil {
		return nil, fmt.Errorf("failed to dial accelerator host: %w", err)
	}

	return WrapConn(qc), nil
}

// Listener accepts QUIC connections for an accelerator host.
// Create one with [Listen].
type Listener struct {
	ql *quic.Listener
}

// Listen starts a QUIC listener on addr with the digest wire protocol's
// ALPN forced into the TLS configuration.
func Listen(addr string, tlsConf *tls.Config, quicConf *quic.Config) (*Listener, error) {
	tc := tlsConf.Clone()
	tc.NextProtos = []string{ALPNProtocol}

	ql, err := quic.ListenAddr(addr, tc, quicConf)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for accelerator clients: %w", err)
	}

	return &Listener{ql: ql}, nil
}

// Accept blocks until the next client connection arrives.
func (l *Listener) Accept(ctx context.Context) (Conn, error) {
	qc, err := l.ql.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return WrapConn(qc), nil
}

// Addr returns the listener's bound address string.
func (l *Listener) Addr() string {
	return l.ql.Addr().String()
}

// Close stops the listener. Established connections are unaffected.
func (l *Listener) Close() error {
	return l.ql.Close()
}
