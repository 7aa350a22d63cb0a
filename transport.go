// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package unison

import (
	"time"

	"mellium.im/unison/element"
	"mellium.im/unison/stanza"
)

// Config is the connection configuration installed by Connect.
type Config struct {
	// JID is the account address, optionally including a resource.
	JID      string
	Password string

	// Resource is requested during binding if JID has no resource.
	Resource string

	// Host overrides the address normally looked up from the JID's domain.
	Host string

	// NoTLS disables STARTTLS and allows plain authentication over an
	// unencrypted connection.
	NoTLS bool

	AutoReconnect     bool
	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration
}

// Transport is the connection used by a Client.
//
// Connect and Disconnect must not block; the outcome is reported later
// through the Events of the client.
// Send reports whether el was handed to the connection.
type Transport interface {
	Connect(cfg Config)
	Disconnect()
	Send(el element.Element) bool
}

// Timer schedules a function to be run later on the client's goroutine.
// The returned cancel function prevents f from running if it has not yet
// started.
type Timer interface {
	Schedule(d time.Duration, f func()) (cancel func())
}

// Events is implemented by Client and is used by transports to report what
// happens on the connection.
type Events interface {
	HandleConnected()
	HandleDisconnected()
	HandleError(kind ErrorKind, err error)
	HandleElement(el element.Element)
}

// Handlers are the callbacks through which a Client reports events.
// Any of them may be nil.
type Handlers struct {
	Message      func(stanza.Message)
	Presence     func(stanza.Presence)
	Stanza       func(element.Element)
	Connected    func()
	Disconnected func()
	StateChanged func(State)
	Error        func(kind ErrorKind, err error)
}
