// SPDX-FileCopyrightText: 2021 The Go Language Server Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package linetransport implements the line-delimited-JSON-over-socket
// framing: one request or reply per line, terminated by "\n" (a preceding
// "\r" is tolerated on read, and always written on reply). It is used on
// both the server side (Serve) and the client side (Conn).
package linetransport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/reflectrpc/reflectrpc"
)

// maxLineSize bounds a single request line to guard against an unbounded
// read on a connection that never sends a terminator.
const maxLineSize = 8 << 20

// Serve runs the per-connection read loop: it scans rwc for newline
// terminated messages and hands each one to disp.Handle, writing the reply
// (if any) back out immediately. It returns when rwc's reader returns
// io.EOF or any other read error, which the caller (rpcserver) treats as
// the connection closing.
//
// Replies are serialized with a mutex because a deferred handler's
// completion continuation may write a reply to the connection from another
// goroutine while Serve's own loop is still reading the next line; spec.md
// requires that bytes of distinct replies never interleave, not that they
// arrive in request order.
func Serve(ctx context.Context, rwc io.ReadWriteCloser, disp *reflectrpc.Dispatcher, cc *reflectrpc.CallContext, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	var writeMu sync.Mutex
	write := func(line []byte) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if _, err := rwc.Write(append(line, '\r', '\n')); err != nil {
			log.Debug("linetransport: write failed", zap.Error(err))
		}
	}

	reader := bufio.NewReaderSize(rwc, 4096)
	for {
		line, err := readLine(reader)
		if err != nil {
			return err
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		// disp.Handle may call emit synchronously (immediate results) or
		// asynchronously from a Deferred's completion continuation; write
		// handles both since it only touches the shared writer.
		disp.Handle(ctx, cc, line, write)
	}
}

// readLine reads up to and including the next "\n", trims a trailing "\r",
// and returns the line without its terminator. It tolerates the line
// arriving across arbitrarily many underlying Read calls, satisfying the
// framer-idempotence-on-chunking property: bufio.Reader itself buffers
// partial reads until ReadSlice finds the delimiter. Reading stops with an
// error as soon as more than maxLineSize bytes arrive without a terminator.
func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > maxLineSize+2 {
			return nil, fmt.Errorf("linetransport: request line exceeds %d bytes", maxLineSize)
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil && len(line) == 0 {
			return nil, err
		}
		// a final line with no trailing newline is still a complete
		// message for callers like a net.Pipe closed right after writing.
		break
	}
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(line) > maxLineSize {
		return nil, fmt.Errorf("linetransport: request line exceeds %d bytes", maxLineSize)
	}
	return line, nil
}

// Conn is the client-side half of the line framer: one request per call to
// Send, reading back exactly one reply line per non-notification request.
type Conn struct {
	rwc    io.ReadWriteCloser
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewConn wraps rwc for client-side request/reply framing.
func NewConn(rwc io.ReadWriteCloser) *Conn {
	return &Conn{rwc: rwc, reader: bufio.NewReaderSize(rwc, 4096)}
}

// Send writes one request line and, unless notify is true, blocks for and
// returns the matching reply line. Calls are serialized: the line framer
// does not pipeline multiple in-flight requests on one Conn, matching the
// toolkit's "clients that need strict ordering must serialize their own
// calls" guidance applied to this Conn's single underlying socket.
func (c *Conn) Send(data []byte, notify bool) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.rwc.Write(append(data, '\r', '\n')); err != nil {
		return nil, fmt.Errorf("linetransport: write request: %w", err)
	}
	if notify {
		return nil, nil
	}
	line, err := readLine(c.reader)
	if err != nil {
		return nil, fmt.Errorf("linetransport: read reply: %w", err)
	}
	return line, nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.rwc.Close()
}
