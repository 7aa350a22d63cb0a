// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"mellium.im/xmlstream"

	"mellium.im/unison/element"
	"mellium.im/unison/internal/attr"
	"mellium.im/unison/internal/logging"
	"mellium.im/unison/internal/ns"
	"mellium.im/unison/xtime"
)

// ErrWrongElement is returned when decoding an element as a stanza kind that
// it is not.
var ErrWrongElement = errors.New("stanza: wrong element for stanza kind")

// receiptIDs names messages that request a receipt but were given no id.
var receiptIDs = attr.NewIDGen("")

// MessageType is the type of a message stanza.
type MessageType uint8

// A list of message types.
const (
	// NormalMessage is a standalone message that is sent outside the context of
	// a one-to-one conversation or groupchat, and to which it is expected that
	// the recipient will reply.
	NormalMessage MessageType = iota

	// ChatMessage is a message sent in the context of a one-to-one chat session.
	ChatMessage

	// GroupChatMessage is a message sent in the context of a multi-user chat
	// environment.
	GroupChatMessage

	// HeadlineMessage is a message that provides an alert, a notification, or
	// other transient information to which no reply is expected.
	HeadlineMessage

	// ErrorMessage is generated by an entity that experiences an error when
	// processing a message received from another entity.
	ErrorMessage

	messageTypeCount
)

var messageTypes = [...]string{
	NormalMessage:    "normal",
	ChatMessage:      "chat",
	GroupChatMessage: "groupchat",
	HeadlineMessage:  "headline",
	ErrorMessage:     "error",
}

// String returns the wire form of the message type.
func (t MessageType) String() string {
	return token(messageTypes[:], t)
}

// ChatState is a chat state notification.
type ChatState uint8

// A list of chat states.
// The order is significant: when a message carries several chat state
// elements the first one in this order wins.
const (
	StateNone ChatState = iota
	StateActive
	StateInactive
	StateGone
	StateComposing
	StatePaused
	chatStateCount
)

var chatStates = [...]string{
	StateNone:      "",
	StateActive:    "active",
	StateInactive:  "inactive",
	StateGone:      "gone",
	StateComposing: "composing",
	StatePaused:    "paused",
}

// String returns the element name of the chat state.
func (s ChatState) String() string {
	return token(chatStates[:], s)
}

// StampType selects how a message timestamp is encoded.
type StampType uint8

// A list of timestamp encodings.
const (
	// DelayedDelivery encodes the timestamp as a modern delay element.
	DelayedDelivery StampType = iota

	// LegacyDelayedDelivery encodes the timestamp as a legacy delay x element.
	LegacyDelayedDelivery
)

// Message is an XMPP stanza that contains a payload for direct one-to-one
// communication with another network entity.
type Message struct {
	Stanza

	Type    MessageType
	Body    string
	Subject string
	Thread  string
	State   ChatState
	XHTML   string

	AttentionRequested bool

	Stamp     time.Time
	StampType StampType

	// ReceiptRequested asks the recipient to acknowledge the message.
	ReceiptRequested bool

	// ReceiptID is the id of the message that this message acknowledges.
	// A message is a receipt if and only if ReceiptID is not empty.
	ReceiptID string

	// ReceiptDelivered and ReceiptRead report which kind of receipt was decoded.
	// Only ReceiptRead affects encoding.
	ReceiptDelivered bool
	ReceiptRead      bool

	AMP *AMP

	MUCInvitationJID      string
	MUCInvitationPassword string
	MUCInvitationReason   string

	Attachment  string
	Attachments []string

	// ChatHistoryID correlates receipts with local history entries.
	ChatHistoryID string
}

// NewMessage returns a chat message with the given addresses and body.
func NewMessage(from, to, body string) Message {
	return Message{
		Stanza: Stanza{From: from, To: to},
		Type:   ChatMessage,
		Body:   body,
	}
}

// IsAMP reports whether the message carries an advanced message processing
// block.
func (m Message) IsAMP() bool {
	return m.AMP != nil && len(m.AMP.Rules) > 0
}

// IsReceipt reports whether the message acknowledges another message.
func (m Message) IsReceipt() bool {
	return m.ReceiptID != ""
}

// RequestReceipt marks the message as requiring a delivery receipt.
// Receipts are correlated by id so one is generated if the message has none.
func (m *Message) RequestReceipt() {
	m.ReceiptRequested = true
	if m.ID == "" {
		m.ID = receiptIDs.Next()
	}
}

// Copy returns a copy of m that shares no mutable state with it.
func (m Message) Copy() Message {
	m.Stanza = m.Stanza.copyStanza()
	m.AMP = m.AMP.copyAMP()
	if m.Attachments != nil {
		m.Attachments = append([]string(nil), m.Attachments...)
	}
	return m
}

// DecodeMessage converts a message element into a Message.
// Malformed optional payloads are logged to log and skipped.
func DecodeMessage(el element.Element, log logrus.FieldLogger) (Message, error) {
	if el.Name.Local != "message" {
		return Message{}, ErrWrongElement
	}
	log = logging.OrDiscard(log)

	m := Message{Stanza: decodeStanza(el)}
	if t, ok := lookup[MessageType](messageTypes[:], el.Attribute("type")); ok {
		m.Type = t
	}
	m.ChatHistoryID = el.Attribute("chat_history_id")

	if body, ok := stanzaChild(el, "body"); ok {
		m.Body = body.Text()
	}
	if subject, ok := stanzaChild(el, "subject"); ok {
		m.Subject = subject.Text()
	}
	if thread, ok := stanzaChild(el, "thread"); ok {
		m.Thread = thread.Text()
	}

	for state := StateActive; state < chatStateCount; state++ {
		if _, ok := el.ChildNS(ns.ChatStates, state.String()); ok {
			m.State = state
			break
		}
	}

	if html, ok := el.ChildNS(ns.XHTMLIM, "html"); ok {
		if body, ok := html.ChildNS(ns.XHTML, "body"); ok {
			m.XHTML = strings.TrimSpace(body.InnerXML())
		}
	}

	if amp, ok := el.ChildNS(ns.AMP, "amp"); ok {
		m.AMP = decodeAMP(amp, log)
	}

	received, hasReceived := el.ChildNS(ns.Receipts, "received")
	if hasReceived {
		m.ReceiptID = received.Attribute("id")
		m.ReceiptDelivered = true
	}
	read, hasRead := el.ChildNS(ns.Receipts, "read")
	if hasRead {
		m.ReceiptID = read.Attribute("id")
		m.ReceiptRead = true
	}
	if (hasReceived || hasRead) && m.ReceiptID == "" {
		m.ReceiptID = m.ID
	}
	_, m.ReceiptRequested = el.ChildNS(ns.Receipts, "request")

	delay, hasDelay := el.ChildNS(ns.Delay, "delay")
	if hasDelay {
		stamp, err := xtime.ParseDateTime(delay.Attribute("stamp"))
		if err != nil {
			log.WithError(err).Warn("stanza: ignoring malformed delay stamp")
		} else {
			m.Stamp = stamp
			m.StampType = DelayedDelivery
		}
	} else if x, ok := el.ChildNS(ns.LegacyDelay, "x"); ok {
		stamp, err := xtime.ParseLegacy(x.Attribute("stamp"))
		if err != nil {
			log.WithError(err).Warn("stanza: ignoring malformed legacy delay stamp")
		} else {
			m.Stamp = stamp
			m.StampType = LegacyDelayedDelivery
		}
	}

	_, m.AttentionRequested = el.ChildNS(ns.Attention, "attention")

	if x, ok := el.ChildNS(ns.Conference, "x"); ok {
		m.MUCInvitationJID = x.Attribute("jid")
		m.MUCInvitationPassword = x.Attribute("password")
		m.MUCInvitationReason = x.Attribute("reason")
	}

	if a, ok := stanzaChild(el, "attachment"); ok {
		m.Attachment = a.Text()
	}
	if list, ok := el.ChildNS(ns.Unison, "attachments"); ok {
		for _, a := range list.Children() {
			if a.Name.Local != "attachment" {
				continue
			}
			if id := a.Attribute("id"); id != "" {
				m.Attachments = append(m.Attachments, id)
			}
		}
	}

	for _, child := range el.Children() {
		legacyUnused := hasDelay && child.Name.Space == ns.LegacyDelay
		if legacyUnused || !knownMessageChild(el.Name.Space, child.Name) {
			m.Extensions = append(m.Extensions, child)
		}
	}
	return m, nil
}

// knownMessageChild reports whether a child element is consumed by the message
// decoder.
func knownMessageChild(space string, name xml.Name) bool {
	if ns.IsStanza(space, name.Space) {
		switch name.Local {
		case "body", "subject", "thread", "error", "attachment":
			return true
		}
		return false
	}
	switch name.Space {
	case ns.ChatStates:
		_, ok := lookup[ChatState](chatStates[:], name.Local)
		return ok && name.Local != ""
	case ns.XHTMLIM:
		return name.Local == "html"
	case ns.AMP:
		return name.Local == "amp"
	case ns.Receipts:
		return name.Local == "received" || name.Local == "read" || name.Local == "request"
	case ns.Delay:
		return name.Local == "delay"
	case ns.LegacyDelay, ns.Conference:
		return name.Local == "x"
	case ns.Attention:
		return name.Local == "attention"
	case ns.Unison:
		return name.Local == "attachments"
	}
	return false
}

// Element converts the message into a generic element.
// Children are written in a fixed order followed by the extensions.
func (m Message) Element() element.Element {
	var extra []xml.Attr
	if m.ReceiptID != "" && m.ChatHistoryID != "" {
		extra = append(extra, xml.Attr{Name: xml.Name{Local: "chat_history_id"}, Value: m.ChatHistoryID})
	}
	el := m.element("message", m.Type.String(), extra...)

	if m.Subject != "" {
		el.Append(element.NewText(xml.Name{Local: "subject"}, m.Subject))
	}
	if m.Body != "" {
		el.Append(element.NewText(xml.Name{Local: "body"}, m.Body))
	}
	if m.Thread != "" {
		el.Append(element.NewText(xml.Name{Local: "thread"}, m.Thread))
	}
	if m.Error != nil {
		el.Append(m.Error.Element())
	}

	if m.State > StateNone && m.State < chatStateCount {
		el.Append(element.New(xml.Name{Space: ns.ChatStates, Local: m.State.String()}))
	}

	if m.XHTML != "" {
		html := element.New(xml.Name{Space: ns.XHTMLIM, Local: "html"})
		bodyName := xml.Name{Space: ns.XHTML, Local: "body"}
		body, err := element.ParseInner(bodyName, m.XHTML)
		if err != nil {
			body = element.NewText(bodyName, m.XHTML)
		}
		html.Append(body)
		el.Append(html)
	}

	if m.IsAMP() {
		el.Append(m.AMP.element())
	}

	if !m.Stamp.IsZero() {
		if m.StampType == LegacyDelayedDelivery {
			el.Append(element.New(xml.Name{Space: ns.LegacyDelay, Local: "x"},
				xml.Attr{Name: xml.Name{Local: "stamp"}, Value: xtime.FormatLegacy(m.Stamp)}))
		} else {
			el.Append(element.New(xml.Name{Space: ns.Delay, Local: "delay"},
				xml.Attr{Name: xml.Name{Local: "stamp"}, Value: xtime.FormatDateTime(m.Stamp)}))
		}
	}

	if m.ReceiptID != "" {
		local := "received"
		if m.ReceiptRead {
			local = "read"
		}
		el.Append(element.New(xml.Name{Space: ns.Receipts, Local: local},
			xml.Attr{Name: xml.Name{Local: "id"}, Value: m.ReceiptID}))
	}
	if m.ReceiptRequested {
		el.Append(element.New(xml.Name{Space: ns.Receipts, Local: "request"}))
	}

	if m.AttentionRequested {
		el.Append(element.New(xml.Name{Space: ns.Attention, Local: "attention"}))
	}

	if m.MUCInvitationJID != "" {
		x := element.New(xml.Name{Space: ns.Conference, Local: "x"},
			xml.Attr{Name: xml.Name{Local: "jid"}, Value: m.MUCInvitationJID})
		x.Attr = attr.Append(x.Attr, xml.Name{Local: "password"}, m.MUCInvitationPassword)
		x.Attr = attr.Append(x.Attr, xml.Name{Local: "reason"}, m.MUCInvitationReason)
		el.Append(x)
	}

	if m.Attachment != "" {
		el.Append(element.NewText(xml.Name{Local: "attachment"}, m.Attachment))
	}
	if len(m.Attachments) > 0 {
		list := element.New(xml.Name{Space: ns.Unison, Local: "attachments"})
		for _, id := range m.Attachments {
			if id == "" {
				continue
			}
			list.Append(element.New(xml.Name{Local: "attachment"},
				xml.Attr{Name: xml.Name{Local: "id"}, Value: id}))
		}
		el.Append(list)
	}

	m.appendExtensions(&el)
	return el
}

// TokenReader satisfies the xmlstream.Marshaler interface.
func (m Message) TokenReader() xml.TokenReader {
	return m.Element().TokenReader()
}

// WriteXML satisfies the xmlstream.WriterTo interface.
// It is like MarshalXML except it writes tokens to w.
func (m Message) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, m.TokenReader())
}

// MarshalXML implements xml.Marshaler.
func (m Message) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	_, err := m.WriteXML(e)
	return err
}

// UnmarshalXML implements xml.Unmarshaler.
// Decoding warnings are discarded; use DecodeMessage to log them.
func (m *Message) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	el, err := element.DecodeElement(start, d)
	if err != nil {
		return err
	}
	msg, err := DecodeMessage(el, nil)
	if err != nil {
		return err
	}
	*m = msg
	return nil
}
