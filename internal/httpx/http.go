// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package httpx provides a simpler http.Client abstraction and derivative uses.
package httpx

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

// BasicClient is a simpler http.Client that only requires a Do method.
type BasicClient interface {
	Do(*http.Request) (*http.Response, error)
}

var _ BasicClient = http.DefaultClient

// WithUserAgent is a basic HTTP client that adds a User-Agent header.
type WithUserAgent struct {
	BasicClient
	UserAgent string
}

var _ BasicClient = &WithUserAgent{}

// Do adds the User-Agent header and sends the request.
func (c *WithUserAgent) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.UserAgent)
	return c.BasicClient.Do(req)
}

// TransportOptions describes the transfer policy for a mirror session.
type TransportOptions struct {
	// MaxConns caps idle keep-alive sockets kept for reuse.
	MaxConns int
	// Proxy, when non-empty, routes all requests through the given proxy URL.
	Proxy string
	// ProxyUser and ProxyPassword supply basic auth for the proxy.
	ProxyUser     string
	ProxyPassword string
	// InsecureSkipVerify disables TLS peer verification.
	InsecureSkipVerify bool
	// Timeout bounds a whole request; ConnectTimeout bounds dialing.
	Timeout        time.Duration
	ConnectTimeout time.Duration
}

// NewClient builds an *http.Client honouring opts.
func NewClient(opts TransportOptions) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = opts.MaxConns
	transport.MaxIdleConnsPerHost = opts.MaxConns
	if opts.ConnectTimeout > 0 {
		transport.DialContext = defaultDialer(opts.ConnectTimeout)
	}
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, errors.Wrap(err, "parsing proxy URL")
		}
		if opts.ProxyUser != "" {
			proxyURL.User = url.UserPassword(opts.ProxyUser, opts.ProxyPassword)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return &http.Client{Transport: transport, Timeout: opts.Timeout}, nil
}

func defaultDialer(connectTimeout time.Duration) func(context.Context, string, string) (net.Conn, error) {
	d := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}
	return d.DialContext
}
