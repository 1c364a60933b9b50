package imapbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"

	"github.com/mailbridge/mailbridge/internal/enum"
	"github.com/mailbridge/mailbridge/internal/tracing"
)

// commandTimeout bounds every IMAP command on the wire. Expiry shows
// up as an i/o timeout, which the error mapping classifies transient.
const commandTimeout = 30 * time.Second

// connect establishes a connection to the IMAP server and logs in.
func (s *imapAdapter) connect(ctx context.Context) (*client.Client, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "imapAdapter.connect")
	defer span.Finish()
	tracing.TagComponentAdapter(span)
	span.SetTag("server", s.config.Server)
	span.SetTag("port", s.config.Port)

	serverAddr := fmt.Sprintf("%s:%d", s.config.Server, s.config.Port)

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	var c *client.Client
	var err error

	if s.config.Security == enum.EmailSecurityTLS {
		tlsConfig := &tls.Config{
			ServerName: s.config.Server,
		}
		c, err = client.DialWithDialerTLS(dialer, serverAddr, tlsConfig)
	} else {
		c, err = client.DialWithDialer(dialer, serverAddr)
		if err == nil && s.config.Security == enum.EmailSecurityStartTLS {
			err = c.StartTLS(&tls.Config{ServerName: s.config.Server})
		}
	}
	if err != nil {
		err = mapIMAPError(err)
		tracing.TraceErr(span, err)
		return nil, err
	}

	// Per-command timeout; a hung server read must surface as an error
	// rather than block the caller forever.
	c.Timeout = commandTimeout

	if err = c.Login(s.config.Username, s.config.Password); err != nil {
		c.Logout()
		err = mapIMAPError(err)
		tracing.TraceErr(span, err)
		return nil, err
	}

	s.log.Infof("connected to %s as %s", serverAddr, s.config.Username)
	return c, nil
}

// getClient returns a live connection, reconnecting when the existing
// one fails its NOOP check. Callers hold the connection lock for the
// whole operation; go-imap clients are not safe for concurrent
// commands.
func (s *imapAdapter) getClient(ctx context.Context) (*client.Client, error) {
	if s.conn != nil {
		if err := s.conn.Noop(); err == nil {
			return s.conn, nil
		}
		s.log.Warnf("existing connection is broken, reconnecting")
		s.conn = nil
	}

	c, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	s.conn = c
	return c, nil
}

// Close logs out with a bounded wait, mirroring how sessions are torn
// down on shutdown.
func (s *imapAdapter) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return nil
	}
	c := s.conn
	s.conn = nil

	c.Timeout = 5 * time.Second
	done := make(chan error, 1)
	go func() {
		done <- c.Logout()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return nil
	}
}
