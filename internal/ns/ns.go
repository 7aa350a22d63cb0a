// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package ns provides namespace constants that are used by the stanza codec and
// other internal packages.
package ns // import "mellium.im/unison/internal/ns"

// List of commonly used namespaces.
const (
	Client   = "jabber:client"
	Server   = "jabber:server"
	Stanza   = "urn:ietf:params:xml:ns:xmpp-stanzas"
	XML      = "http://www.w3.org/XML/1998/namespace"
	Receipts = "urn:xmpp:receipts"
	Delay    = "urn:xmpp:delay"
	Time     = "urn:xmpp:time"
	Ping     = "urn:xmpp:ping"

	LegacyDelay = "jabber:x:delay"
	Conference  = "jabber:x:conference"
	Attention   = "urn:xmpp:attention:0"
	ChatStates  = "http://jabber.org/protocol/chatstates"
	AMP         = "http://jabber.org/protocol/amp"
	XHTMLIM     = "http://jabber.org/protocol/xhtml-im"
	XHTML       = "http://www.w3.org/1999/xhtml"
	MUC         = "http://jabber.org/protocol/muc"
	MUCUser     = "http://jabber.org/protocol/muc#user"
	VCardUpdate = "vcard-temp:x:update"
	Caps        = "http://jabber.org/protocol/caps"
	DiscoInfo   = "http://jabber.org/protocol/disco#info"
	Unison      = "jabber:info:unison"
)

// IsStanza reports whether space is a namespace that stanza children inherit
// from their enclosing stream, given the namespace of the stanza itself.
func IsStanza(parent, space string) bool {
	return space == "" || space == parent || space == Client || space == Server
}
