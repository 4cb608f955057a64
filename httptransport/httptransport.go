// SPDX-FileCopyrightText: 2021 The Go Language Server Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package httptransport implements the HTTP/1.1 POST framing: one request
// body per POST to the configured RPC path, one reply body per response.
package httptransport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/reflectrpc/reflectrpc"
)

// ContentType is the advisory Content-Type this toolkit writes and expects.
const ContentType = "application/json-rpc"

// Handler adapts a Dispatcher into an http.Handler bound to a single RPC
// path. Only POST to Path is accepted; everything else is 404, matching
// 4.F. Auth, when configured, is checked by Authenticate before the
// request reaches the dispatcher.
type Handler struct {
	Dispatcher   *reflectrpc.Dispatcher
	Path         string
	Log          *zap.Logger
	Authenticate func(r *http.Request) (*reflectrpc.CallContext, bool)
	Realm        string
}

// defaultPath is used when Path is empty.
const defaultPath = "/rpc"

func (h *Handler) path() string {
	if h.Path == "" {
		return defaultPath
	}
	return h.Path
}

func (h *Handler) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != h.path() || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var cc *reflectrpc.CallContext
	if h.Authenticate != nil {
		var ok bool
		cc, ok = h.Authenticate(r)
		if !ok {
			realm := h.Realm
			if realm == "" {
				realm = "reflectrpc"
			}
			w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", realm))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, r.ContentLength))
	if err != nil {
		h.log().Debug("httptransport: read body failed", zap.Error(err))
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var replyData []byte
	h.Dispatcher.Handle(r.Context(), cc, body, func(data []byte) {
		replyData = data
	})
	if replyData == nil {
		// Notifications produce no reply body, but an HTTP POST still
		// needs a response; an empty 200 is the closest analogue since
		// the wire contract has no "no content" reply shape.
		w.Header().Set("Content-Type", ContentType)
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(replyData)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(replyData)
}

// Client is the client-side HTTP/1.1 POST framer: it writes one request
// per Send and parses exactly one reply from the response, rejecting
// chunked or otherwise non-Content-Length-framed responses per 4.F.
type Client struct {
	HTTPClient *http.Client
	URL        string
	Realm      string
	Username   string
	Password   string
}

// HttpException is raised for a non-200 response or malformed HTTP
// framing, carrying the observed status for the caller to inspect.
type HttpException struct {
	StatusCode int
	Status     string
}

func (e *HttpException) Error() string {
	return fmt.Sprintf("httptransport: unexpected HTTP response: %s", e.Status)
}

// Send posts data to c.URL and returns the reply body.
func (c *Client) Send(ctx context.Context, data []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("httptransport: build request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)
	if c.Username != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httptransport: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HttpException{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	if len(resp.TransferEncoding) > 0 {
		return nil, &HttpException{StatusCode: resp.StatusCode, Status: "chunked transfer encoding not supported"}
	}
	if resp.ContentLength < 0 {
		return nil, &HttpException{StatusCode: resp.StatusCode, Status: "missing Content-Length"}
	}
	if resp.ContentLength == 0 {
		return nil, nil
	}

	body := make([]byte, resp.ContentLength)
	if _, err := io.ReadFull(bufio.NewReader(resp.Body), body); err != nil {
		return nil, fmt.Errorf("httptransport: read body: %w", err)
	}
	return body, nil
}
