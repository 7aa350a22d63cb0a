// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"mellium.im/xmlstream"

	"mellium.im/unison/element"
	"mellium.im/unison/internal/logging"
	"mellium.im/unison/internal/ns"
)

// PresenceType is the type of a presence stanza.
type PresenceType uint8

const (
	// AvailablePresence is a special case that signals that the entity is
	// available for communication.
	AvailablePresence PresenceType = iota

	// ErrorPresence indicates that an error has occurred regarding processing of
	// a previously sent presence stanza; if the presence stanza is of type
	// "error", it MUST include an <error/> child element
	ErrorPresence

	// UnavailablePresence indicates that the sender is no longer available for
	// communication.
	UnavailablePresence

	// SubscribePresence is sent when the sender wishes to subscribe to the
	// recipient's presence.
	SubscribePresence

	// SubscribedPresence indicates that the sender has allowed the recipient to
	// receive future presence broadcasts.
	SubscribedPresence

	// UnsubscribePresence indicates that the sender is unsubscribing from the
	// receiver's presence.
	UnsubscribePresence

	// UnsubscribedPresence indicates that the subscription request has been
	// denied, or a previously granted subscription has been revoked.
	UnsubscribedPresence

	// ProbePresence is a request for an entity's current presence. It should
	// generally only be generated and sent by servers on behalf of a user.
	ProbePresence

	presenceTypeCount
)

var presenceTypes = [...]string{
	AvailablePresence:    "",
	ErrorPresence:        "error",
	UnavailablePresence:  "unavailable",
	SubscribePresence:    "subscribe",
	SubscribedPresence:   "subscribed",
	UnsubscribePresence:  "unsubscribe",
	UnsubscribedPresence: "unsubscribed",
	ProbePresence:        "probe",
}

// String returns the wire form of the presence type.
func (t PresenceType) String() string {
	return token(presenceTypes[:], t)
}

// VCardUpdateType is the state of a vCard-based avatar update payload.
type VCardUpdateType uint8

// A list of avatar update states.
const (
	// VCardUpdateNone means the presence carries no avatar update payload.
	VCardUpdateNone VCardUpdateType = iota

	// VCardUpdateNoPhoto advertises that there is no avatar.
	VCardUpdateNoPhoto

	// VCardUpdateValidPhoto advertises the hash in PhotoHash.
	VCardUpdateValidPhoto

	// VCardUpdateNotReady means the sender is not yet ready to advertise an
	// avatar.
	VCardUpdateNotReady
)

// Presence is an XMPP stanza that is used as an indication that an entity is
// available for communication. It is used to set a status message, broadcast
// availability, and advertise entity capabilities. It can be directed
// (one-to-one), or used as a broadcast mechanism (one-to-many).
type Presence struct {
	Stanza

	Type   PresenceType
	Status Status

	VCardUpdate VCardUpdateType
	PhotoHash   []byte

	CapabilityHash string
	CapabilityNode string
	CapabilityVer  []byte
	CapabilityExt  []string

	MUCItem        MUCItem
	MUCPassword    string
	MUCStatusCodes []int
	MUCSupported   bool
}

// Copy returns a copy of p that shares no mutable state with it.
func (p Presence) Copy() Presence {
	p.Stanza = p.Stanza.copyStanza()
	if p.PhotoHash != nil {
		p.PhotoHash = append([]byte(nil), p.PhotoHash...)
	}
	if p.CapabilityVer != nil {
		p.CapabilityVer = append([]byte(nil), p.CapabilityVer...)
	}
	if p.CapabilityExt != nil {
		p.CapabilityExt = append([]string(nil), p.CapabilityExt...)
	}
	if p.MUCStatusCodes != nil {
		p.MUCStatusCodes = append([]int(nil), p.MUCStatusCodes...)
	}
	return p
}

// DecodePresence converts a presence element into a Presence.
// Malformed optional payloads are logged to log and skipped.
func DecodePresence(el element.Element, log logrus.FieldLogger) (Presence, error) {
	if el.Name.Local != "presence" {
		return Presence{}, ErrWrongElement
	}
	log = logging.OrDiscard(log)

	p := Presence{Stanza: decodeStanza(el)}
	if t, ok := lookup[PresenceType](presenceTypes[:], el.Attribute("type")); ok {
		p.Type = t
	}
	p.Status = decodeStatus(el, log)

	space := el.Name.Space
	for _, child := range el.Children() {
		switch {
		case ns.IsStanza(space, child.Name.Space) && isStatusChild(child.Name.Local):
		case child.Name.Space == ns.Unison && child.Name.Local == "info":
		case child.Name.Space == ns.Delay && child.Name.Local == "delay":
		case child.Name.Space == ns.MUC:
			p.MUCSupported = true
			if password, ok := child.Child("password"); ok {
				p.MUCPassword = password.Text()
			}
		case child.Name.Space == ns.MUCUser:
			p.decodeMUCUser(child, log)
		case child.Name.Space == ns.VCardUpdate:
			p.decodeVCardUpdate(child, log)
		case child.Name.Space == ns.Caps && child.Name.Local == "c":
			p.decodeCaps(child, log)
		default:
			p.Extensions = append(p.Extensions, child)
		}
	}
	return p, nil
}

func isStatusChild(local string) bool {
	switch local {
	case "show", "status", "priority", "error":
		return true
	}
	return false
}

func (p *Presence) decodeMUCUser(el element.Element, log logrus.FieldLogger) {
	if item, ok := el.Child("item"); ok {
		p.MUCItem = decodeMUCItem(item)
	}
	p.MUCStatusCodes = nil
	for _, child := range el.Children() {
		if child.Name.Local != "status" {
			continue
		}
		code, err := strconv.Atoi(child.Attribute("code"))
		if err != nil {
			log.WithField("code", child.Attribute("code")).Warn("stanza: ignoring malformed muc status code")
			continue
		}
		p.MUCStatusCodes = append(p.MUCStatusCodes, code)
	}
}

func (p *Presence) decodeVCardUpdate(el element.Element, log logrus.FieldLogger) {
	photo, ok := el.Child("photo")
	if !ok {
		p.PhotoHash = nil
		p.VCardUpdate = VCardUpdateNotReady
		return
	}
	hash, err := hex.DecodeString(strings.TrimSpace(photo.Text()))
	switch {
	case err != nil:
		log.WithError(err).Warn("stanza: ignoring malformed avatar hash")
		p.PhotoHash = nil
		p.VCardUpdate = VCardUpdateNotReady
	case len(hash) == 0:
		p.PhotoHash = nil
		p.VCardUpdate = VCardUpdateNoPhoto
	default:
		p.PhotoHash = hash
		p.VCardUpdate = VCardUpdateValidPhoto
	}
}

func (p *Presence) decodeCaps(el element.Element, log logrus.FieldLogger) {
	p.CapabilityNode = el.Attribute("node")
	p.CapabilityHash = el.Attribute("hash")
	if ext := el.Attribute("ext"); ext != "" {
		p.CapabilityExt = strings.Fields(ext)
	}
	if ver := el.Attribute("ver"); ver != "" {
		raw, err := base64.StdEncoding.DecodeString(ver)
		if err != nil {
			log.WithError(err).Warn("stanza: ignoring malformed capabilities verification string")
			return
		}
		p.CapabilityVer = raw
	}
}

// Element converts the presence into a generic element.
func (p Presence) Element() element.Element {
	el := p.element("presence", p.Type.String())
	p.Status.appendTo(&el)
	if p.Error != nil {
		el.Append(p.Error.Element())
	}

	if p.MUCSupported {
		x := element.New(xml.Name{Space: ns.MUC, Local: "x"})
		if p.MUCPassword != "" {
			x.Append(element.NewText(xml.Name{Local: "password"}, p.MUCPassword))
		}
		el.Append(x)
	}

	if !p.MUCItem.IsZero() || len(p.MUCStatusCodes) > 0 {
		x := element.New(xml.Name{Space: ns.MUCUser, Local: "x"})
		if !p.MUCItem.IsZero() {
			x.Append(p.MUCItem.element())
		}
		for _, code := range p.MUCStatusCodes {
			x.Append(element.New(xml.Name{Local: "status"},
				xml.Attr{Name: xml.Name{Local: "code"}, Value: strconv.Itoa(code)}))
		}
		el.Append(x)
	}

	if p.VCardUpdate != VCardUpdateNone {
		x := element.New(xml.Name{Space: ns.VCardUpdate, Local: "x"})
		switch p.VCardUpdate {
		case VCardUpdateNoPhoto:
			x.Append(element.New(xml.Name{Local: "photo"}))
		case VCardUpdateValidPhoto:
			x.Append(element.NewText(xml.Name{Local: "photo"}, hex.EncodeToString(p.PhotoHash)))
		}
		el.Append(x)
	}

	if p.CapabilityNode != "" && len(p.CapabilityVer) > 0 && p.CapabilityHash != "" {
		c := element.New(xml.Name{Space: ns.Caps, Local: "c"},
			xml.Attr{Name: xml.Name{Local: "hash"}, Value: p.CapabilityHash},
			xml.Attr{Name: xml.Name{Local: "node"}, Value: p.CapabilityNode},
			xml.Attr{Name: xml.Name{Local: "ver"}, Value: base64.StdEncoding.EncodeToString(p.CapabilityVer)},
		)
		if len(p.CapabilityExt) > 0 {
			c.SetAttr("ext", strings.Join(p.CapabilityExt, " "))
		}
		el.Append(c)
	}

	p.appendExtensions(&el)
	return el
}

// TokenReader satisfies the xmlstream.Marshaler interface.
func (p Presence) TokenReader() xml.TokenReader {
	return p.Element().TokenReader()
}

// WriteXML satisfies the xmlstream.WriterTo interface.
// It is like MarshalXML except it writes tokens to w.
func (p Presence) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, p.TokenReader())
}

// MarshalXML implements xml.Marshaler.
func (p Presence) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	_, err := p.WriteXML(e)
	return err
}

// UnmarshalXML implements xml.Unmarshaler.
// Decoding warnings are discarded; use DecodePresence to log them.
func (p *Presence) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	el, err := element.DecodeElement(start, d)
	if err != nil {
		return err
	}
	pres, err := DecodePresence(el, nil)
	if err != nil {
		return err
	}
	*p = pres
	return nil
}
