// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package unison implements the connection and session layer of an XMPP
// client.
//
// A Client owns the connection state machine: it connects through a Transport,
// reconnects after failures using a stepped backoff, keeps an estimate of the
// server's clock, and offers every incoming stanza to a registry of extension
// handlers before decoding it into a typed message or presence event.
//
// The client is not safe for concurrent use.
// All of its methods, including the Handle methods called by the transport,
// are expected to be called from a single goroutine such as the one running an
// event loop.
package unison // import "mellium.im/unison"
