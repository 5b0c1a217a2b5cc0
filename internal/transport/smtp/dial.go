package smtp

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/shineum/themed-mailer/internal/transport"
)

// timeoutConn bounds every Read with a fresh read deadline.
type timeoutConn struct {
	net.Conn
	read time.Duration
}

func (c *timeoutConn) Read(p []byte) (int, error) {
	if c.read > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.read)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(p)
}

// dialer returns the connection factory for cfg. For implicit TLS the
// handshake completes before the SMTP greeting is read.
func dialer(cfg transport.Config, tlsCfg *tls.Config) func(ctx context.Context, network, address string) (net.Conn, error) {
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		nd := net.Dialer{Timeout: cfg.ConnectTimeout}
		raw, err := nd.DialContext(ctx, network, address)
		if err != nil {
			return nil, err
		}

		conn := net.Conn(&timeoutConn{Conn: raw, read: cfg.ReadTimeout})
		if cfg.TLS != transport.TLSImplicit {
			return conn, nil
		}

		hctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()

		tlsConn := tls.Client(conn, tlsCfg)
		if err := tlsConn.HandshakeContext(hctx); err != nil {
			_ = raw.Close()
			return nil, err
		}
		return tlsConn, nil
	}
}
