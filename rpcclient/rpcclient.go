// SPDX-FileCopyrightText: 2021 The Go Language Server Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package rpcclient is the client half of the toolkit: it builds request
// envelopes, sends them through the line or HTTP framer, and classifies
// failures into the four client-side error kinds spec.md §7 names.
package rpcclient

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
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/atomic"

	"github.com/reflectrpc/reflectrpc"
	"github.com/reflectrpc/reflectrpc/httptransport"
	"github.com/reflectrpc/reflectrpc/linetransport"
)

var wireJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// NetworkError wraps a connection or transport-level failure: dial
// failure, read timeout, or a peer reset mid-call.
type NetworkError struct{ Cause error }

func (e *NetworkError) Error() string { return fmt.Sprintf("rpcclient: network error: %v", e.Cause) }
func (e *NetworkError) Unwrap() error { return e.Cause }

// TLSHostnameError is raised when hostname verification is enabled and the
// server certificate's CommonName does not match the expected host.
type TLSHostnameError struct {
	Expected, Got string
}

func (e *TLSHostnameError) Error() string {
	return fmt.Sprintf("rpcclient: TLS hostname mismatch: expected %q, got %q", e.Expected, e.Got)
}

// RpcError wraps a structured *reflectrpc.Error the server returned in a
// reply's error field.
type RpcError struct {
	Err *reflectrpc.Error
}

func (e *RpcError) Error() string {
	return fmt.Sprintf("rpcclient: server returned %s: %s", e.Err.Name, e.Err.Message)
}

func (e *RpcError) Unwrap() error { return e.Err }

// Option configures a Client.
type Option func(*Client)

// WithTLS enables TLS with an optional CA pool. If caFile is empty the
// system root pool is used.
func WithTLS(caFile string, insecureSkipVerify bool) Option {
	return func(c *Client) {
		cfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: insecureSkipVerify} //nolint:gosec // caller opt-in via insecureSkipVerify
		if caFile != "" {
			pem, err := os.ReadFile(caFile)
			if err != nil {
				panic(fmt.Sprintf("rpcclient: read CA file: %v", err))
			}
			pool := x509.NewCertPool()
			pool.AppendCertsFromPEM(pem)
			cfg.RootCAs = pool
		}
		c.tlsConfig = cfg
	}
}

// WithClientCert configures a client certificate for TLS mutual auth.
func WithClientCert(certFile, keyFile string) Option {
	return func(c *Client) {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			panic(fmt.Sprintf("rpcclient: load client cert: %v", err))
		}
		if c.tlsConfig == nil {
			c.tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		c.tlsConfig.Certificates = []tls.Certificate{cert}
	}
}

// WithHostnameCheck enables verifying the server certificate's CommonName
// against expected after the TLS handshake, raising TLSHostnameError on
// mismatch instead of relying solely on the stdlib SAN check.
func WithHostnameCheck(expected string) Option {
	return func(c *Client) { c.expectedCN = expected }
}

// WithHTTP switches the client to the HTTP/1.1 POST framer, posting to
// path (default "/rpc") on the target address.
func WithHTTP(path string) Option {
	return func(c *Client) {
		c.httpMode = true
		c.httpPath = path
	}
}

// WithBasicAuth sets HTTP Basic Auth credentials. Only meaningful with
// WithHTTP.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.username, c.password = username, password
	}
}

// WithTimeout sets the timeout for dialing the server and, in HTTP mode,
// for each whole HTTP request. The default is 10 seconds. In line mode no
// read or write deadline is set once the connection is established, and
// the TLS handshake has no timeout of its own.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// Client is a reflectrpc client bound to one server address. It is safe
// for concurrent use by multiple goroutines: the request-id sequence is
// atomic, and the line-mode connection and the HTTP client are guarded by
// a mutex, so line-mode calls take turns on the one connection.
type Client struct {
	addr     string
	httpMode bool
	httpPath string
	username string
	password string

	tlsConfig  *tls.Config
	expectedCN string
	timeout    time.Duration

	seq *atomic.Int64

	mu   sync.Mutex
	conn *linetransport.Conn

	httpClient *http.Client
}

// New builds a Client targeting addr ("host:port", or "unix://<path>" for
// a UNIX domain socket when not in HTTP mode).
func New(addr string, opts ...Option) *Client {
	c := &Client{addr: addr, timeout: 10 * time.Second, seq: atomic.NewInt64(0)}
	for _, o := range opts {
		o(c)
	}
	return c
}

// nextID returns the next monotonically increasing request id, starting
// at 1 and shared across every call made through this Client instance.
func (c *Client) nextID() int64 {
	return c.seq.Inc()
}

type replyWire struct {
	ID     interface{}       `json:"id"`
	Result interface{}       `json:"result"`
	Error  *reflectrpc.Error `json:"error"`
}

// Call invokes method with params and decodes the result into out (which
// should be a pointer, or nil to discard the result).
func (c *Client) Call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	data, err := c.roundTrip(ctx, method, params, false)
	if err != nil {
		return err
	}

	var reply replyWire
	if err := wireJSON.Unmarshal(data, &reply); err != nil {
		return &NetworkError{Cause: fmt.Errorf("decode reply: %w", err)}
	}
	if reply.Error != nil {
		return &RpcError{Err: reply.Error}
	}
	if out == nil || reply.Result == nil {
		return nil
	}
	resultData, err := wireJSON.Marshal(reply.Result)
	if err != nil {
		return &NetworkError{Cause: err}
	}
	if err := wireJSON.Unmarshal(resultData, out); err != nil {
		return &NetworkError{Cause: err}
	}
	return nil
}

// Notify sends method with params as a notification (id: null) and does
// not wait for a reply.
func (c *Client) Notify(ctx context.Context, method string, params []interface{}) error {
	_, err := c.roundTrip(ctx, method, params, true)
	return err
}

func (c *Client) roundTrip(ctx context.Context, method string, params []interface{}, notify bool) ([]byte, error) {
	if params == nil {
		params = []interface{}{}
	}
	var id interface{}
	if !notify {
		id = c.nextID()
	}
	req := struct {
		ID     interface{}   `json:"id"`
		Method string        `json:"method"`
		Params []interface{} `json:"params"`
	}{ID: id, Method: method, Params: params}

	data, err := wireJSON.Marshal(req)
	if err != nil {
		return nil, &NetworkError{Cause: err}
	}

	if c.httpMode {
		return c.sendHTTP(ctx, data)
	}
	return c.sendLine(data, notify)
}

func (c *Client) sendLine(data []byte, notify bool) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.dialLocked(); err != nil {
			return nil, err
		}
	}

	reply, err := c.conn.Send(data, notify)
	if err != nil {
		// auto-reconnect on first use after close: drop the stale conn so
		// the next call redials instead of repeating the same failure.
		_ = c.conn.Close()
		c.conn = nil
		return nil, &NetworkError{Cause: err}
	}
	return reply, nil
}

func (c *Client) dialLocked() error {
	network, address := "tcp", c.addr
	if strings.HasPrefix(c.addr, "unix://") {
		network, address = "unix", strings.TrimPrefix(c.addr, "unix://")
	}

	dialer := &net.Dialer{Timeout: c.timeout}
	rawConn, err := dialer.Dial(network, address)
	if err != nil {
		return &NetworkError{Cause: err}
	}

	if c.tlsConfig != nil {
		tlsConn := tls.Client(rawConn, c.tlsConfig)
		if err := tlsConn.HandshakeContext(context.Background()); err != nil {
			_ = rawConn.Close()
			return &NetworkError{Cause: err}
		}
		if c.expectedCN != "" {
			cn := tlsConn.ConnectionState().PeerCertificates[0].Subject.CommonName
			if cn != c.expectedCN {
				_ = tlsConn.Close()
				return &TLSHostnameError{Expected: c.expectedCN, Got: cn}
			}
		}
		rawConn = tlsConn
	}

	c.conn = linetransport.NewConn(rawConn)
	return nil
}

func (c *Client) sendHTTP(ctx context.Context, data []byte) ([]byte, error) {
	c.mu.Lock()
	if c.httpClient == nil {
		transport := &http.Transport{}
		if c.tlsConfig != nil {
			transport.TLSClientConfig = c.tlsConfig
		}
		c.httpClient = &http.Client{Transport: transport, Timeout: c.timeout}
	}
	hc := c.httpClient
	c.mu.Unlock()

	scheme := "http"
	if c.tlsConfig != nil {
		scheme = "https"
	}
	path := c.httpPath
	if path == "" {
		path = "/rpc"
	}
	url := fmt.Sprintf("%s://%s%s", scheme, c.addr, path)

	httpClient := &httptransport.Client{
		HTTPClient: hc,
		URL:        url,
		Username:   c.username,
		Password:   c.password,
	}
	reply, err := httpClient.Send(ctx, data)
	if err != nil {
		if httpErr, ok := err.(*httptransport.HttpException); ok {
			return nil, httpErr
		}
		return nil, &NetworkError{Cause: err}
	}
	return reply, nil
}

// Close closes the underlying connection, if any. A subsequent call
// automatically redials.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
