// SPDX-FileCopyrightText: 2021 The Go Language Server Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package rpcserver is the listener: it accepts TCP, TLS or UNIX domain
// socket connections, optionally extracts a TLS client certificate or
// checks HTTP Basic Auth credentials to build a call context, then hands
// each connection off to the line or HTTP framer. Every accepted
// connection is handled independently of every other, per spec.md §5.
package rpcserver

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/reflectrpc/reflectrpc"
	"github.com/reflectrpc/reflectrpc/httptransport"
	"github.com/reflectrpc/reflectrpc/linetransport"
)

// BasicAuthCheck validates a username/password pair supplied over HTTP
// Basic Auth. The core only consumes this callback; it owns no credential
// store of its own, matching spec.md §1's Non-goal that the credential
// check itself is out of scope.
type BasicAuthCheck func(username, password string) bool

// Server is a running listener over one address. Build one with Listen and
// either call Serve to run the accept loop inline, or Shutdown to stop it.
type Server struct {
	ln       net.Listener
	disp     *reflectrpc.Dispatcher
	log      *zap.Logger
	httpMode bool
	httpPath string
	realm    string

	tlsClientAuth bool
	basicAuth     BasicAuthCheck

	pidFile string

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	closing bool
}

// Option configures a Server at construction time, mirroring the teacher's
// functional-options pattern (jsonrpc2.go's Options, net.go's ListenOptions).
type Option func(*config)

type config struct {
	tlsConfig     *tls.Config
	tlsClientAuth bool
	httpMode      bool
	httpPath      string
	realm         string
	basicAuth     BasicAuthCheck
	maxConns      int
	unixBacklog   int
	unixMode      os.FileMode
	pidFile       string
	log           *zap.Logger
}

// WithTLS enables TLS on accepted connections using certFile/keyFile.
func WithTLS(certFile, keyFile string) Option {
	return func(c *config) {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			panic(fmt.Sprintf("rpcserver: load TLS key pair: %v", err))
		}
		if c.tlsConfig == nil {
			c.tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		c.tlsConfig.Certificates = []tls.Certificate{cert}
	}
}

// WithTLSClientAuth requires and validates a client certificate signed by
// a CA in caFile, extracting the certificate's CommonName as the call
// context's Username.
func WithTLSClientAuth(caFile string) Option {
	return func(c *config) {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			panic(fmt.Sprintf("rpcserver: read client CA: %v", err))
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			panic("rpcserver: client CA file contains no usable certificates")
		}
		if c.tlsConfig == nil {
			c.tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		c.tlsConfig.ClientCAs = pool
		c.tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		c.tlsClientAuth = true
	}
}

// WithHTTP selects the HTTP framer instead of the line framer, serving the
// configured path (default "/rpc").
func WithHTTP(path string) Option {
	return func(c *config) {
		c.httpMode = true
		c.httpPath = path
	}
}

// WithBasicAuth enables HTTP Basic Auth in front of the HTTP framer. It is
// only meaningful combined with WithHTTP.
func WithBasicAuth(realm string, check BasicAuthCheck) Option {
	return func(c *config) {
		c.realm = realm
		c.basicAuth = check
	}
}

// WithMaxConns caps the number of concurrently accepted connections using
// golang.org/x/net/netutil.LimitListener. Zero (the default) means
// unlimited.
func WithMaxConns(n int) Option {
	return func(c *config) { c.maxConns = n }
}

// WithUnixSocketOptions configures the backlog and filesystem mode for a
// listen address with a "unix://" prefix. The mode is applied to the
// socket file; the backlog is stored but not applied, so the listener uses
// the operating system's default backlog.
func WithUnixSocketOptions(backlog int, mode os.FileMode) Option {
	return func(c *config) {
		c.unixBacklog = backlog
		c.unixMode = mode
	}
}

// WithPIDFile writes the process's PID to path after the listener is
// bound, for UNIX socket deployments managed by an external supervisor.
func WithPIDFile(path string) Option {
	return func(c *config) { c.pidFile = path }
}

// WithLogger sets the structured logger used for accept/connection events.
func WithLogger(log *zap.Logger) Option {
	return func(c *config) { c.log = log }
}

// Listen binds addr and returns a Server ready to Serve. addr is
// "host:port" for TCP/TLS, or "unix://<path>" for a UNIX domain socket.
func Listen(addr string, disp *reflectrpc.Dispatcher, opts ...Option) (*Server, error) {
	cfg := &config{unixBacklog: 128, unixMode: 0o666}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.log == nil {
		cfg.log = zap.NewNop()
	}

	network, address := "tcp", addr
	if strings.HasPrefix(addr, "unix://") {
		network, address = "unix", strings.TrimPrefix(addr, "unix://")
	}

	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("rpcserver: listen: %w", err)
	}
	if network == "unix" {
		if err := os.Chmod(address, cfg.unixMode); err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("rpcserver: chmod unix socket: %w", err)
		}
	}
	if cfg.maxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.maxConns)
	}
	if cfg.tlsConfig != nil {
		ln = tls.NewListener(ln, cfg.tlsConfig)
	}

	if cfg.pidFile != "" {
		if err := os.WriteFile(cfg.pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("rpcserver: write pid file: %w", err)
		}
	}

	return &Server{
		ln:            ln,
		disp:          disp,
		log:           cfg.log,
		httpMode:      cfg.httpMode,
		httpPath:      cfg.httpPath,
		realm:         cfg.realm,
		tlsClientAuth: cfg.tlsClientAuth,
		basicAuth:     cfg.basicAuth,
		pidFile:       cfg.pidFile,
		conns:         make(map[net.Conn]struct{}),
	}, nil
}

// Addr returns the listener's bound address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve runs the accept loop until Shutdown is called or Accept returns an
// error; any Accept error ends the loop, transient ones included. Each accepted connection is handled on
// its own goroutine: one accept is one independent handling context, with
// no shared mutable state beyond the read-only registry, per spec.md §5.
func (s *Server) Serve(ctx context.Context) error {
	if s.httpMode {
		return s.serveHTTP(ctx)
	}

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return nil
			}
			return fmt.Errorf("rpcserver: accept: %w", err)
		}

		s.trackConn(conn, true)
		go s.handleLine(ctx, conn)
	}
}

func (s *Server) handleLine(ctx context.Context, conn net.Conn) {
	defer s.trackConn(conn, false)
	defer conn.Close()

	cc := s.callContextFromTLS(conn)
	if err := linetransport.Serve(ctx, conn, s.disp, cc, s.log); err != nil {
		s.log.Debug("rpcserver: connection closed", zap.Error(err), zap.String("remote", conn.RemoteAddr().String()))
	}
}

func (s *Server) callContextFromTLS(conn net.Conn) *reflectrpc.CallContext {
	if !s.tlsClientAuth {
		return nil
	}
	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return nil
	}
	// a listener built with tls.NewListener does not run the handshake in
	// Accept; it runs on the first Read or Write, and ConnectionState has
	// no peer certificates before then, so force it explicitly.
	if err := tlsConn.Handshake(); err != nil {
		s.log.Debug("rpcserver: TLS handshake failed", zap.Error(err))
		return nil
	}
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil
	}
	return &reflectrpc.CallContext{Authenticated: true, Username: state.PeerCertificates[0].Subject.CommonName}
}

func (s *Server) serveHTTP(ctx context.Context) error {
	handler := &httptransport.Handler{
		Dispatcher: s.disp,
		Path:       s.httpPath,
		Log:        s.log,
		Realm:      s.realm,
	}
	if s.basicAuth != nil {
		handler.Authenticate = s.authenticateBasic
	}

	srv := &http.Server{Handler: handler, BaseContext: func(net.Listener) context.Context { return ctx }}
	err := srv.Serve(s.ln)
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("rpcserver: http serve: %w", err)
	}
	return nil
}

func (s *Server) authenticateBasic(r *http.Request) (*reflectrpc.CallContext, bool) {
	user, pass, ok := r.BasicAuth()
	if !ok || !s.basicAuth(user, pass) {
		return nil, false
	}
	return &reflectrpc.CallContext{Authenticated: true, Username: user}, true
}

func (s *Server) trackConn(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
		return
	}
	delete(s.conns, conn)
}

// Shutdown stops accepting new connections and force-closes every
// currently tracked connection, combining any close errors with
// go.uber.org/multierr the way a production listener needs to report a
// complete shutdown failure rather than only the first one encountered.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	s.closing = true
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var err error
	err = multierr.Append(err, s.ln.Close())
	for _, c := range conns {
		err = multierr.Append(err, c.Close())
	}
	if s.pidFile != "" {
		_ = os.Remove(s.pidFile)
	}
	return err
}
