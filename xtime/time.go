// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package xtime implements time related XMPP functionality.
//
// In particular, this package implements XEP-0202: Entity Time and XEP-0082:
// XMPP Date and Time Profiles, including the legacy profile used by XEP-0091.
package xtime // import "mellium.im/unison/xtime"

import (
	"encoding/xml"
	"errors"
	"time"

	"mellium.im/xmlstream"

	"mellium.im/unison/element"
	"mellium.im/unison/internal/ns"
)

const (
	// NS is the XML namespace used by XMPP entity time requests.
	// It is provided as a convenience.
	NS = ns.Time

	// LegacyDateTime implements the legacy profile mentioned in XEP-0082.
	//
	// Unless you are implementing an older XEP that specifically calls for this
	// format, FormatDateTime should be used instead.
	LegacyDateTime = "20060102T15:04:05"

	// DateTimeMillis is the XEP-0082 DateTime profile with milliseconds.
	DateTimeMillis = "2006-01-02T15:04:05.000Z07:00"

	// localDateTime is accepted when parsing stamps that lack a zone, which are
	// treated as UTC.
	localDateTime = "2006-01-02T15:04:05.999999999"
)

const tzd = "Z07:00"

// ErrNoTime is returned when an IQ does not contain an entity time payload.
var ErrNoTime = errors.New("xtime: no entity time payload")

// FormatDateTime formats t in UTC using the XEP-0082 DateTime profile.
// Milliseconds are only included if t has a sub-second component.
func FormatDateTime(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond() >= int(time.Millisecond) {
		return t.Format(DateTimeMillis)
	}
	return t.Format(time.RFC3339)
}

// ParseDateTime parses an XEP-0082 DateTime.
// Fractional seconds are optional and a missing zone is taken to be UTC.
func ParseDateTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return t, nil
	}
	if t, lerr := time.ParseInLocation(localDateTime, s, time.UTC); lerr == nil {
		return t, nil
	}
	return time.Time{}, err
}

// FormatLegacy formats t in UTC using the legacy profile.
func FormatLegacy(t time.Time) string {
	return t.UTC().Format(LegacyDateTime)
}

// ParseLegacy parses a legacy profile stamp as UTC.
func ParseLegacy(s string) (time.Time, error) {
	return time.ParseInLocation(LegacyDateTime, s, time.UTC)
}

// Time is like a time.Time but it can be marshaled as an XEP-0202 time payload.
type Time time.Time

// Element converts the time into an entity time payload.
func (t Time) Element() element.Element {
	tt := time.Time(t)
	el := element.New(xml.Name{Space: NS, Local: "time"})
	el.Append(
		element.NewText(xml.Name{Local: "tzo"}, tt.Format(tzd)),
		element.NewText(xml.Name{Local: "utc"}, tt.UTC().Format(time.RFC3339)),
	)
	return el
}

// WriteXML satisfies the xmlstream.WriterTo interface.
// It is like MarshalXML except it writes tokens to w.
func (t Time) WriteXML(w xmlstream.TokenWriter) (n int, err error) {
	return xmlstream.Copy(w, t.TokenReader())
}

// TokenReader satisfies the xmlstream.Marshaler interface.
func (t Time) TokenReader() xml.TokenReader {
	return t.Element().TokenReader()
}

// MarshalXML implements xml.Marshaler.
func (t Time) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	_, err := t.WriteXML(e)
	return err
}

// UnmarshalXML implements xml.Unmarshaler.
func (t *Time) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	el, err := element.DecodeElement(start, d)
	if err != nil {
		return err
	}
	tt, err := decodeTime(el)
	if err != nil {
		return err
	}
	*t = Time(tt)
	return nil
}

func decodeTime(el element.Element) (time.Time, error) {
	var tzo, utc string
	if child, ok := el.Child("tzo"); ok {
		tzo = child.Text()
	}
	if child, ok := el.Child("utc"); ok {
		utc = child.Text()
	}
	zone, err := time.Parse(tzd, tzo)
	if err != nil {
		return time.Time{}, err
	}
	utcTime, err := ParseDateTime(utc)
	if err != nil {
		return time.Time{}, err
	}
	return utcTime.In(zone.Location()), nil
}

// Request returns an IQ asking for the entity time of to.
// If to is empty the request is handled by the server on behalf of the
// account.
func Request(id, to string) element.Element {
	iq := element.New(xml.Name{Local: "iq"},
		xml.Attr{Name: xml.Name{Local: "type"}, Value: "get"},
		xml.Attr{Name: xml.Name{Local: "id"}, Value: id},
	)
	if to != "" {
		iq.SetAttr("to", to)
	}
	iq.Append(element.New(xml.Name{Space: NS, Local: "time"}))
	return iq
}

// IsRequest reports whether el is an IQ asking for our entity time.
func IsRequest(el element.Element) bool {
	if el.Name.Local != "iq" || el.Attribute("type") != "get" {
		return false
	}
	_, ok := el.ChildNS(NS, "time")
	return ok
}

// Response returns the result IQ answering req with t.
func Response(req element.Element, t time.Time) element.Element {
	iq := element.New(xml.Name{Space: req.Name.Space, Local: "iq"},
		xml.Attr{Name: xml.Name{Local: "type"}, Value: "result"},
	)
	if to := req.Attribute("from"); to != "" {
		iq.SetAttr("to", to)
	}
	iq.SetAttr("id", req.Attribute("id"))
	iq.Append(Time(t).Element())
	return iq
}

// ParseResponse returns the time carried by a result IQ.
func ParseResponse(el element.Element) (time.Time, error) {
	payload, ok := el.ChildNS(NS, "time")
	if !ok || el.Attribute("type") != "result" {
		return time.Time{}, ErrNoTime
	}
	return decodeTime(payload)
}
