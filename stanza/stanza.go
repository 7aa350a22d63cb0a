// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"golang.org/x/text/language"

	"mellium.im/unison/element"
	"mellium.im/unison/internal/attr"
	"mellium.im/unison/internal/ns"
)

// Marshaler is implemented by stanzas that can be converted into an element to
// be sent over the stream.
type Marshaler interface {
	Element() element.Element
}

// Is tests whether name is a valid stanza based on name and space.
func Is(name xml.Name) bool {
	return (name.Local == "iq" || name.Local == "message" || name.Local == "presence") &&
		(name.Space == "" || name.Space == ns.Client || name.Space == ns.Server)
}

// Stanza contains the fields common to messages and presences.
// Addresses are kept as opaque strings and are never validated by the codec.
type Stanza struct {
	XMLName xml.Name
	ID      string
	To      string
	From    string
	Lang    string
	Error   *Error

	// Extensions holds child elements that were not recognized by the decoder,
	// in document order.
	// They are appended after all known children when encoding.
	Extensions []element.Element
}

// Language parses the xml:lang attribute of the stanza as a BCP 47 tag.
func (s Stanza) Language() (language.Tag, error) {
	return language.Parse(s.Lang)
}

// copyStanza returns a copy of s that shares no mutable state with it.
func (s Stanza) copyStanza() Stanza {
	if s.Error != nil {
		e := *s.Error
		s.Error = &e
	}
	if s.Extensions != nil {
		ext := make([]element.Element, 0, len(s.Extensions))
		for _, el := range s.Extensions {
			ext = append(ext, el.Copy())
		}
		s.Extensions = ext
	}
	return s
}

// element builds an empty stanza element, keeping whatever namespace the
// stanza was decoded with.
// Attributes are written in the order xml:lang, id, extra, to, from, type.
func (s Stanza) element(local, typ string, extra ...xml.Attr) element.Element {
	name := s.XMLName
	name.Local = local

	a := make([]xml.Attr, 0, 5+len(extra))
	a = attr.Append(a, xml.Name{Space: ns.XML, Local: "lang"}, s.Lang)
	a = attr.Append(a, xml.Name{Local: "id"}, s.ID)
	a = append(a, extra...)
	a = attr.Append(a, xml.Name{Local: "to"}, s.To)
	a = attr.Append(a, xml.Name{Local: "from"}, s.From)
	a = attr.Append(a, xml.Name{Local: "type"}, typ)
	return element.New(name, a...)
}

// decodeStanza reads the common attributes and the error payload.
func decodeStanza(el element.Element) Stanza {
	s := Stanza{
		XMLName: el.Name,
		ID:      el.Attribute("id"),
		To:      el.Attribute("to"),
		From:    el.Attribute("from"),
	}
	for _, a := range el.Attr {
		if a.Name.Local == "lang" && (a.Name.Space == ns.XML || a.Name.Space == "xml") {
			s.Lang = a.Value
			break
		}
	}
	if errEl, ok := stanzaChild(el, "error"); ok {
		e := decodeError(errEl)
		s.Error = &e
	}
	return s
}

// appendExtensions appends the preserved unknown children to el.
func (s Stanza) appendExtensions(el *element.Element) {
	for _, ext := range s.Extensions {
		el.Append(ext)
	}
}

// stanzaChild returns the first child with the given local name that is in the
// namespace of the stanza itself.
func stanzaChild(el element.Element, local string) (element.Element, bool) {
	for _, child := range el.Children() {
		if child.Name.Local == local && ns.IsStanza(el.Name.Space, child.Name.Space) {
			return child, true
		}
	}
	return element.Element{}, false
}
