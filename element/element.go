// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package element provides a generic XML element tree.
//
// Elements are the unit exchanged between the transport and the rest of the
// client: the transport decodes each top level stanza into an Element, the
// stanza package converts Elements into typed messages and presences, and
// unknown payloads are carried around verbatim as Elements so that they survive
// a decode/encode cycle.
package element // import "mellium.im/unison/element"

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"mellium.im/xmlstream"

	"mellium.im/unison/internal/attr"
)

var errNoStart = errors.New("element: no start element found")

// Node is a child of an Element: either another Element or CharData.
type Node interface {
	node()
}

// CharData is a run of text inside an element.
type CharData string

func (CharData) node() {}

// Element is a generic XML element.
// Mixed content is stored in document order in Nodes.
type Element struct {
	Name  xml.Name
	Attr  []xml.Attr
	Nodes []Node
}

func (Element) node() {}

// New returns an element with the given name and attributes.
func New(name xml.Name, attrs ...xml.Attr) Element {
	return Element{Name: name, Attr: attrs}
}

// NewText returns an element with the given name that contains only text.
// If text is empty the element has no children.
func NewText(name xml.Name, text string, attrs ...xml.Attr) Element {
	el := New(name, attrs...)
	if text != "" {
		el.Nodes = []Node{CharData(text)}
	}
	return el
}

// Parse decodes the first element in s.
func Parse(s string) (Element, error) {
	return Decode(xml.NewDecoder(strings.NewReader(s)))
}

// Decode skips tokens until it finds a start element and then decodes that
// element and its children.
func Decode(r xml.TokenReader) (Element, error) {
	for {
		tok, err := r.Token()
		if start, ok := tok.(xml.StartElement); ok {
			return DecodeElement(start, r)
		}
		switch {
		case err == io.EOF:
			return Element{}, errNoStart
		case err != nil:
			return Element{}, err
		}
	}
}

// DecodeElement decodes the children of start from r.
// If r is exhausted before the matching end element is read the element is
// returned as decoded so far without an error.
func DecodeElement(start xml.StartElement, r xml.TokenReader) (Element, error) {
	el := Element{Name: start.Name, Attr: cleanAttr(start.Attr)}
	for {
		tok, err := r.Token()
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := DecodeElement(t, r)
			if err != nil {
				return el, err
			}
			el.Nodes = append(el.Nodes, child)
			continue
		case xml.CharData:
			el.appendText(string(t))
		case xml.EndElement:
			return el, nil
		}
		switch {
		case err == io.EOF:
			return el, nil
		case err != nil:
			return el, err
		}
	}
}

// cleanAttr copies attrs dropping namespace declarations, which are implied by
// element names.
func cleanAttr(attrs []xml.Attr) []xml.Attr {
	var out []xml.Attr
	for _, a := range attrs {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (e *Element) appendText(s string) {
	if s == "" {
		return
	}
	if n := len(e.Nodes); n > 0 {
		if prev, ok := e.Nodes[n-1].(CharData); ok {
			e.Nodes[n-1] = prev + CharData(s)
			return
		}
	}
	e.Nodes = append(e.Nodes, CharData(s))
}

// Append adds nodes to the end of the element's children.
// Zero value elements are ignored.
func (e *Element) Append(nodes ...Node) {
	for _, n := range nodes {
		switch v := n.(type) {
		case Element:
			if v.IsZero() {
				continue
			}
		case CharData:
			e.appendText(string(v))
			continue
		}
		e.Nodes = append(e.Nodes, n)
	}
}

// SetAttr sets the value of the first attribute with the given local name or
// appends a new unqualified attribute.
func (e *Element) SetAttr(local, value string) {
	if idx, _ := attr.Get(e.Attr, local); idx >= 0 {
		e.Attr[idx].Value = value
		return
	}
	e.Attr = append(e.Attr, xml.Attr{Name: xml.Name{Local: local}, Value: value})
}

// Attribute returns the value of the first attribute with the given local name.
func (e Element) Attribute(local string) string {
	_, v := attr.Get(e.Attr, local)
	return v
}

// IsZero reports whether the element has no name.
func (e Element) IsZero() bool {
	return e.Name.Local == ""
}

// Children returns the child elements of e in document order.
func (e Element) Children() []Element {
	var children []Element
	for _, n := range e.Nodes {
		if child, ok := n.(Element); ok {
			children = append(children, child)
		}
	}
	return children
}

// Child returns the first child element with the given local name in any
// namespace.
func (e Element) Child(local string) (Element, bool) {
	for _, n := range e.Nodes {
		if child, ok := n.(Element); ok && child.Name.Local == local {
			return child, true
		}
	}
	return Element{}, false
}

// ChildNS returns the first child element with the given local name and
// namespace.
func (e Element) ChildNS(space, local string) (Element, bool) {
	for _, n := range e.Nodes {
		if child, ok := n.(Element); ok && child.Name.Local == local && child.Name.Space == space {
			return child, true
		}
	}
	return Element{}, false
}

// Text returns the concatenation of the character data directly inside e.
func (e Element) Text() string {
	var b strings.Builder
	for _, n := range e.Nodes {
		if s, ok := n.(CharData); ok {
			b.WriteString(string(s))
		}
	}
	return b.String()
}

// Copy returns a deep copy of e.
func (e Element) Copy() Element {
	c := Element{Name: e.Name}
	if e.Attr != nil {
		c.Attr = make([]xml.Attr, len(e.Attr))
		copy(c.Attr, e.Attr)
	}
	if e.Nodes != nil {
		c.Nodes = make([]Node, 0, len(e.Nodes))
		for _, n := range e.Nodes {
			if child, ok := n.(Element); ok {
				n = child.Copy()
			}
			c.Nodes = append(c.Nodes, n)
		}
	}
	return c
}

// Start returns the start token of e.
func (e Element) Start() xml.StartElement {
	start := xml.StartElement{Name: e.Name}
	if len(e.Attr) > 0 {
		start.Attr = make([]xml.Attr, len(e.Attr))
		copy(start.Attr, e.Attr)
	}
	return start
}

// TokenReader satisfies the xmlstream.Marshaler interface.
func (e Element) TokenReader() xml.TokenReader {
	return e.tokenReader("")
}

// tokenReader omits the namespace of any element that matches the namespace
// in scope so that children do not repeat their parent's declaration.
func (e Element) tokenReader(inherited string) xml.TokenReader {
	start := e.Start()
	space := e.Name.Space
	if space == "" {
		space = inherited
	} else if space == inherited {
		start.Name.Space = ""
	}
	inner := make([]xml.TokenReader, 0, len(e.Nodes))
	for _, n := range e.Nodes {
		switch v := n.(type) {
		case Element:
			inner = append(inner, v.tokenReader(space))
		case CharData:
			inner = append(inner, xmlstream.Token(xml.CharData(v)))
		}
	}
	return xmlstream.Wrap(xmlstream.MultiReader(inner...), start)
}

// WriteXML satisfies the xmlstream.WriterTo interface.
// It is like MarshalXML except it writes tokens to w.
func (e Element) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, e.TokenReader())
}

// MarshalXML implements xml.Marshaler.
func (e Element) MarshalXML(enc *xml.Encoder, _ xml.StartElement) error {
	_, err := e.WriteXML(enc)
	return err
}

// UnmarshalXML implements xml.Unmarshaler.
func (e *Element) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	el, err := DecodeElement(start, d)
	if err != nil {
		return err
	}
	*e = el
	return nil
}

// String returns the serialized form of e or an empty string if e cannot be
// encoded.
func (e Element) String() string {
	var b strings.Builder
	enc := xml.NewEncoder(&b)
	if _, err := e.WriteXML(enc); err != nil {
		return ""
	}
	if err := enc.Flush(); err != nil {
		return ""
	}
	return b.String()
}

// InnerXML returns the serialized children of e.
// Child elements in the same namespace as e are written without a namespace
// declaration.
// Text only escapes the characters that XML requires, so quotes and most
// closing angle brackets are written as they are.
func (e Element) InnerXML() string {
	var b strings.Builder
	enc := xml.NewEncoder(&b)
	for _, n := range e.Nodes {
		var err error
		switch v := n.(type) {
		case Element:
			err = writeMinimal(&b, enc, v.tokenReader(e.Name.Space))
		case CharData:
			err = writeText(&b, enc, string(v))
		}
		if err != nil {
			return ""
		}
	}
	if err := enc.Flush(); err != nil {
		return ""
	}
	return b.String()
}

func writeMinimal(b *strings.Builder, enc *xml.Encoder, r xml.TokenReader) error {
	for {
		tok, err := r.Token()
		if tok != nil {
			if cd, ok := tok.(xml.CharData); ok {
				err = writeText(b, enc, string(cd))
			} else {
				err = enc.EncodeToken(tok)
			}
			if err != nil {
				return err
			}
		}
		switch {
		case err == io.EOF:
			return nil
		case err != nil:
			return err
		}
	}
}

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", "]]>", "]]&gt;")

// writeText writes s after anything the encoder has buffered.
func writeText(b *strings.Builder, enc *xml.Encoder, s string) error {
	if err := enc.Flush(); err != nil {
		return err
	}
	_, err := textEscaper.WriteString(b, s)
	return err
}

// ParseInner parses s as the children of an element named name.
// It is the inverse of InnerXML.
func ParseInner(name xml.Name, s string) (Element, error) {
	d := xml.NewDecoder(strings.NewReader(s))
	return DecodeElement(xml.StartElement{Name: name}, nsReader{d: d, space: name.Space})
}

// nsReader places tokens without a namespace into space, as if they were
// wrapped in an element that declared it as the default namespace.
type nsReader struct {
	d     *xml.Decoder
	space string
}

func (r nsReader) Token() (xml.Token, error) {
	tok, err := r.d.Token()
	switch t := tok.(type) {
	case xml.StartElement:
		if t.Name.Space == "" {
			t.Name.Space = r.space
		}
		return t, err
	case xml.EndElement:
		if t.Name.Space == "" {
			t.Name.Space = r.space
		}
		return t, err
	}
	return tok, err
}
