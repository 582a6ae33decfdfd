package irc

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/net/proxy"

	"github.com/dalnet/neubot/internal/config"
)

// Server is one address a Connection can dial.
type Server struct {
	Host     string
	Port     int
	TLS      bool
	IPv6     bool
	Insecure bool
}

func serverFromConfig(s config.Server) Server {
	return Server{Host: s.Host, Port: s.Port, TLS: s.TLS, IPv6: s.IPv6, Insecure: s.Insecure}
}

// Address returns host:port
func (s Server) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func (s Server) String() string {
	if s.TLS {
		return fmt.Sprintf("%s (tls)", s.Address())
	}
	return s.Address()
}

// Dialer opens the transport to a server.
type Dialer interface {
	Dial(ctx context.Context, s Server) (net.Conn, error)
}

// NetDialer dials TCP, through ALL_PROXY when set, and optionally wraps
// the socket in TLS.
type NetDialer struct {
	Timeout time.Duration
}

// Dial implements Dialer.
func (d *NetDialer) Dial(ctx context.Context, s Server) (net.Conn, error) {
	network := "tcp4"
	if s.IPv6 {
		network = "tcp6"
	}

	forward := &net.Dialer{Timeout: d.Timeout, KeepAlive: time.Minute}
	dialer := proxy.FromEnvironmentUsing(forward)

	var (
		conn net.Conn
		err  error
	)
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		conn, err = cd.DialContext(ctx, network, s.Address())
	} else {
		conn, err = dialer.Dial(network, s.Address())
	}
	if err != nil {
		return nil, err
	}

	if !s.TLS {
		return conn, nil
	}

	tc := tls.Client(conn, &tls.Config{
		ServerName:         s.Host,
		InsecureSkipVerify: s.Insecure,
	})
	if err := tc.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return tc, nil
}
