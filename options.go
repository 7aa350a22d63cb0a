// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package unison

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used by the client and its built in extensions.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// WithHandlers sets the event callbacks.
func WithHandlers(h Handlers) Option {
	return func(c *Client) {
		c.handlers = h
	}
}

// WithClock replaces time.Now as the source of local time.
// The clock is used to measure time elapsed since the last server time sync.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// WithIDPrefix sets the prefix of generated stanza ids.
// By default a random prefix is chosen for each client.
func WithIDPrefix(prefix string) Option {
	return func(c *Client) {
		c.idPrefix = prefix
	}
}
