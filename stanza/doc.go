// Copyright 2017 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

// Package stanza contains the typed message and presence stanzas and the codec
// that converts them to and from generic elements.
//
// Messages are used to send data that is fire-and-forget such as chat messages
// along with delivery receipts, chat states, and advanced message processing
// rules.
// Presence is used to broadcast availability on the network (sometimes called
// "status" in chat, eg. online, offline, or away) and carries multi-user chat,
// avatar, and entity capabilities payloads.
//
// Decoding is lenient: malformed optional payloads are logged and skipped
// instead of failing the whole stanza, and children that are not understood are
// kept as extensions so that they are written back out when the stanza is
// re-encoded.
package stanza // import "mellium.im/unison/stanza"
