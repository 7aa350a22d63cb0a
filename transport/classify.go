// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"errors"
	"io"
	"net"

	xmppstanza "mellium.im/xmpp/stanza"
	"mellium.im/xmpp/stream"

	"mellium.im/unison"
)

// Classify returns the kind of a connection error.
//
// Conflicts, whether a stream error or a resource binding error, are
// ConflictError and other stream errors are StreamError.
// Network failures are SocketError.
// Any other error while negotiating (such as a SASL failure) is an AuthError,
// and any other error once the session is running is a SocketError.
func Classify(err error, negotiating bool) unison.ErrorKind {
	var (
		streamErr stream.Error
		stanzaErr xmppstanza.Error
		netErr    net.Error
	)
	switch {
	case errors.As(err, &streamErr):
		if streamErr.Err == "conflict" {
			return unison.ConflictError
		}
		return unison.StreamError
	case errors.As(err, &stanzaErr) && stanzaErr.Condition == xmppstanza.Conflict:
		return unison.ConflictError
	case errors.As(err, &netErr),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, context.DeadlineExceeded):
		return unison.SocketError
	case negotiating:
		return unison.AuthError
	}
	return unison.SocketError
}
