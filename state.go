// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package unison

import (
	"fmt"
	"time"
)

// State is the connection state of a Client.
type State uint8

// A list of client states.
const (
	// Disconnected is the initial state.
	Disconnected State = iota

	// Connecting is entered when a connection is requested and lasts until the
	// transport reports success or failure.
	Connecting

	// Connected means the session is negotiated and stanzas may be sent.
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// ErrorKind classifies the errors reported by a Transport.
type ErrorKind uint8

// A list of transport error kinds.
const (
	// SocketError is a failure of the underlying network connection.
	SocketError ErrorKind = iota

	// KeepAliveError means the server did not answer a liveness check in time.
	KeepAliveError

	// StreamError is a stream level error sent by the server.
	StreamError

	// ConflictError is a stream error reporting that another session took over
	// our resource.
	// Automatic reconnection is suppressed after one is received.
	ConflictError

	// AuthError is a failure during stream negotiation such as rejected
	// credentials.
	AuthError
)

func (k ErrorKind) String() string {
	switch k {
	case SocketError:
		return "socket"
	case KeepAliveError:
		return "keepalive"
	case StreamError:
		return "stream"
	case ConflictError:
		return "conflict"
	case AuthError:
		return "auth"
	}
	return fmt.Sprintf("ErrorKind(%d)", uint8(k))
}

// ReconnectDelay returns how long to wait before the next reconnection attempt
// given the number of attempts already made.
func ReconnectDelay(attempts int) time.Duration {
	switch {
	case attempts < 5:
		return 10 * time.Second
	case attempts < 10:
		return 20 * time.Second
	case attempts < 15:
		return 40 * time.Second
	}
	return 60 * time.Second
}
