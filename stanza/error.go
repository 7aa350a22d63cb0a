// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"mellium.im/xmlstream"

	"mellium.im/unison/element"
	"mellium.im/unison/internal/attr"
	"mellium.im/unison/internal/ns"
)

// ErrorType is the type of an stanza error payloads.
// It should normally be one of the constants defined in this package.
type ErrorType string

const (
	// Cancel indicates that the error cannot be remedied and the operation should
	// not be retried.
	Cancel ErrorType = "cancel"

	// Auth indicates that an operation should be retried after providing
	// credentials.
	Auth ErrorType = "auth"

	// Continue indicates that the operation can proceed (the condition was only a
	// warning).
	Continue ErrorType = "continue"

	// Modify indicates that the operation can be retried after changing the data
	// sent.
	Modify ErrorType = "modify"

	// Wait is indicates that an error is temporary and may be retried.
	Wait ErrorType = "wait"
)

// Condition represents a more specific stanza error condition that can be
// encapsulated by an <error/> element.
type Condition string

// A list of stanza error conditions defined in RFC 6120 section 8.3.3.
const (
	// The sender has sent a stanza containing XML that does not conform to the
	// appropriate schema or that cannot be processed (e.g., an IQ stanza that
	// includes an unrecognized value of the 'type' attribute or an element that
	// is qualified by a recognized namespace but that violates the defined
	// syntax for the element).
	BadRequest Condition = "bad-request"

	// Access cannot be granted because an existing resource exists with the same
	// name or address.
	Conflict Condition = "conflict"

	// The feature represented in the XML stanza is not implemented by the
	// intended recipient or an intermediate server and therefore the stanza
	// cannot be processed (e.g., the entity understands the namespace but does
	// not recognize the element name).
	FeatureNotImplemented Condition = "feature-not-implemented"

	// The requesting entity does not possess the necessary permissions to
	// perform an action that only certain authorized roles or individuals are
	// allowed to complete (i.e., it typically relates to authorization rather
	// than authentication).
	Forbidden Condition = "forbidden"

	// The recipient or server can no longer be contacted at this address,
	// typically on a permanent basis (as opposed to the <redirect/> error
	// condition, which is used for temporary addressing failures).
	Gone Condition = "gone"

	// The server has experienced a misconfiguration or other internal error that
	// prevents it from processing the stanza.
	InternalServerError Condition = "internal-server-error"

	// The addressed JID or item requested cannot be found.
	ItemNotFound Condition = "item-not-found"

	// The sending entity has provided (e.g., during resource binding) or
	// communicated (e.g., in the 'to' address of a stanza) an XMPP address that
	// violates the addressing rules of RFC 7622.
	JIDMalformed Condition = "jid-malformed"

	// The recipient or server understands the request but cannot process it
	// because the request does not meet criteria defined by the recipient or
	// server (e.g., a request to subscribe to information that does not
	// simultaneously include configuration parameters needed by the recipient).
	NotAcceptable Condition = "not-acceptable"

	// The recipient or server does not allow any entity to perform the action
	// (e.g., sending to entities at a blacklisted domain).
	NotAllowed Condition = "not-allowed"

	// The sender needs to provide credentials before being allowed to perform
	// the action, or has provided improper credentials (the name
	// "not-authorized", which was borrowed from the "401 Unauthorized" error of
	// HTTP, might lead the reader to think that this condition relates to
	// authorization, but instead it is typically used in relation to
	// authentication).
	NotAuthorized Condition = "not-authorized"

	// The entity has violated some local service policy (e.g., a message
	// contains words that are prohibited by the service) and the server MAY
	// choose to specify the policy in the <text/> element or in an
	// application-specific condition element.
	PolicyViolation Condition = "policy-violation"

	// The intended recipient is temporarily unavailable, undergoing maintenance,
	// etc.
	RecipientUnavailable Condition = "recipient-unavailable"

	// The recipient or server is redirecting requests for this information to
	// another entity, typically in a temporary fashion (as opposed to the
	// <gone/> error condition, which is used for permanent addressing failures).
	Redirect Condition = "redirect"

	// The requesting entity is not authorized to access the requested service
	// because prior registration is necessary (examples of prior registration
	// include members-only rooms in XMPP multi-user chat [XEP-0045] and gateways
	// to non-XMPP instant messaging services, which traditionally required
	// registration in order to use the gateway [XEP-0100]).
	RegistrationRequired Condition = "registration-required"

	// A remote server or service specified as part or all of the JID of the
	// intended recipient does not exist or cannot be resolved (e.g., there is no
	// _xmpp-server._tcp DNS SRV record, the A or AAAA fallback resolution fails,
	// or A/AAAA lookups succeed but there is no response on the IANA-registered
	// port 5269).
	RemoteServerNotFound Condition = "remote-server-not-found"

	// A remote server or service specified as part or all of the JID of the
	// intended recipient (or needed to fulfill a request) was resolved but
	// communications could not be established within a reasonable amount of time
	// (e.g., an XML stream cannot be established at the resolved IP address and
	// port, or an XML stream can be established but stream negotiation fails
	// because of problems with TLS, SASL, Server Dialback, etc.).
	RemoteServerTimeout Condition = "remote-server-timeout"

	// The server or recipient is busy or lacks the system resources necessary to
	// service the request.
	ResourceConstraint Condition = "resource-constraint"

	// The server or recipient does not currently provide the requested service.
	ServiceUnavailable Condition = "service-unavailable"

	// The requesting entity is not authorized to access the requested service
	// because a prior subscription is necessary (examples of prior subscription
	// include authorization to receive presence information as defined in RFC
	// 6121 and opt-in data feeds for XMPP publish-subscribe as defined in
	// [XEP-0060]).
	SubscriptionRequired Condition = "subscription-required"

	// The error condition is not one of those defined by the other conditions in
	// this list.
	UndefinedCondition Condition = "undefined-condition"

	// The recipient or server understood the request but was not expecting it at
	// this time (e.g., the request was out of order).
	UnexpectedRequest Condition = "unexpected-request"
)

// Error is a stanza level error.
// It is carried on a message or presence of type "error".
type Error struct {
	By        string
	Type      ErrorType
	Condition Condition
	Text      string
}

// Error satisfies the error interface by returning the condition and, if
// present, the text.
func (se Error) Error() string {
	if se.Text != "" {
		return string(se.Condition) + ": " + se.Text
	}
	return string(se.Condition)
}

// Element converts the error into a generic element.
func (se Error) Element() element.Element {
	var attrs []xml.Attr
	attrs = attr.Append(attrs, xml.Name{Local: "type"}, string(se.Type))
	attrs = attr.Append(attrs, xml.Name{Local: "by"}, se.By)
	el := element.New(xml.Name{Local: "error"}, attrs...)
	if se.Condition != "" {
		el.Append(element.New(xml.Name{Space: ns.Stanza, Local: string(se.Condition)}))
	}
	if se.Text != "" {
		el.Append(element.NewText(xml.Name{Space: ns.Stanza, Local: "text"}, se.Text))
	}
	return el
}

// TokenReader satisfies the xmlstream.Marshaler interface for Error.
func (se Error) TokenReader() xml.TokenReader {
	return se.Element().TokenReader()
}

// WriteXML satisfies the xmlstream.WriterTo interface.
// It is like MarshalXML except it writes tokens to w.
func (se Error) WriteXML(w xmlstream.TokenWriter) (n int, err error) {
	return xmlstream.Copy(w, se.TokenReader())
}

// MarshalXML satisfies the xml.Marshaler interface for Error.
func (se Error) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	_, err := se.WriteXML(e)
	return err
}

// UnmarshalXML satisfies the xml.Unmarshaler interface for Error.
func (se *Error) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	el, err := element.DecodeElement(start, d)
	if err != nil {
		return err
	}
	*se = decodeError(el)
	return nil
}

func decodeError(el element.Element) Error {
	se := Error{
		By:   el.Attribute("by"),
		Type: ErrorType(el.Attribute("type")),
	}
	for _, child := range el.Children() {
		if child.Name.Space != ns.Stanza {
			continue
		}
		if child.Name.Local == "text" {
			if se.Text == "" {
				se.Text = child.Text()
			}
			continue
		}
		if se.Condition == "" {
			se.Condition = Condition(child.Name.Local)
		}
	}
	return se
}
