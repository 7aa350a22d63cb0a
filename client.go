// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package unison

import (
	"time"

	"github.com/sirupsen/logrus"

	"mellium.im/unison/element"
	"mellium.im/unison/extension"
	"mellium.im/unison/internal/attr"
	"mellium.im/unison/internal/logging"
	"mellium.im/unison/stanza"
	"mellium.im/unison/xtime"
)

const (
	// LoggedOutStatus is the status text of the presence sent by Disconnect.
	LoggedOutStatus = "Logged out"

	// ServerTimeInterval is how long to wait after a server time response before
	// querying the server again.
	ServerTimeInterval = time.Hour

	keepAliveReconnect = time.Second
	chatIDPrefix       = "chat_"
)

var (
	_ Events               = (*Client)(nil)
	_ extension.Handler    = (*timeSync)(nil)
	_ extension.Discoverer = (*xtime.Handler)(nil)
)

// Client is an XMPP client session.
type Client struct {
	transport Transport
	timer     Timer
	registry  *extension.Registry
	handlers  Handlers
	log       logrus.FieldLogger
	now       func() time.Time

	config   Config
	presence stanza.Presence
	state    State

	idPrefix string
	ids      *attr.IDGen

	suppressReconnect bool
	attempts          int
	cancelReconnect   func()

	sync       *timeSync
	serverTime time.Time
	syncedAt   time.Time
}

// New returns a disconnected client that uses t for its connection and timer
// to schedule reconnection and server time queries.
//
// The client registers two extensions of its own before any others: one that
// consumes the responses to its server time queries and one that answers
// entity time requests from other entities.
func New(t Transport, timer Timer, opts ...Option) *Client {
	c := &Client{
		transport: t,
		timer:     timer,
		now:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.log = logging.OrDiscard(c.log)
	c.ids = attr.NewIDGen(c.idPrefix)
	c.registry = extension.New(c.log)
	c.sync = &timeSync{client: c}
	c.registry.Add(c.sync)
	c.registry.Add(&xtime.Handler{TimeFunc: c.now, Sender: c})

	c.serverTime = c.now().UTC()
	c.syncedAt = c.now()
	return c
}

// NextID returns a new stanza id unique to this client.
// Ids are the client prefix and an increasing counter separated by an
// underscore.
func (c *Client) NextID() string {
	return c.ids.Next()
}

// State returns the current connection state.
func (c *Client) State() State {
	return c.state
}

// IsConnected reports whether stanzas can currently be sent.
func (c *Client) IsConnected() bool {
	return c.state == Connected
}

// Config returns the configuration installed by the last call to Connect.
func (c *Client) Config() Config {
	return c.config
}

// ClientPresence returns the presence that is sent when the client connects.
func (c *Client) ClientPresence() stanza.Presence {
	return c.presence.Copy()
}

// AddExtension appends h to the handlers that are offered each incoming stanza.
// It reports false if h was already added.
func (c *Client) AddExtension(h extension.Handler) bool {
	return c.registry.Add(h)
}

// RemoveExtension removes a handler added with AddExtension.
// It reports false if h was not registered.
func (c *Client) RemoveExtension(h extension.Handler) bool {
	return c.registry.Remove(h)
}

// Extensions returns the registered extensions in dispatch order, including the
// built in time extensions.
func (c *Client) Extensions() []extension.Handler {
	return c.registry.Handlers()
}

// DiscoveryFeatures returns the features advertised by all extensions.
func (c *Client) DiscoveryFeatures() []string {
	return c.registry.DiscoveryFeatures()
}

// Connect installs cfg and the initial presence and starts connecting.
// The presence is stamped with our capabilities if an extension advertises
// them.
func (c *Client) Connect(cfg Config, initial stanza.Presence) {
	c.stopReconnect()
	c.config = cfg
	c.presence = initial
	c.stampCapabilities(&c.presence)
	c.connect()
}

// Reconnect connects again using the last configuration.
// Unlike automatic reconnection it also lifts the suppression caused by a
// resource conflict.
func (c *Client) Reconnect() {
	c.suppressReconnect = false
	c.stopReconnect()
	c.connect()
}

func (c *Client) connect() {
	c.setState(Connecting, nil)
	c.transport.Connect(c.config)
}

// Disconnect cancels any pending reconnection, sends an unavailable presence
// if connected, and closes the connection.
func (c *Client) Disconnect() {
	c.stopReconnect()

	c.presence.Type = stanza.UnavailablePresence
	c.presence.Status.Text = LoggedOutStatus
	if c.IsConnected() {
		c.Send(c.presence)
	}
	c.transport.Disconnect()
}

// SetClientPresence changes our presence.
//
// An unavailable presence is sent (if connected) and the connection closed.
// Any other presence is sent if connected, otherwise the client connects with
// the last configuration and p as the initial presence.
func (c *Client) SetClientPresence(p stanza.Presence) {
	c.presence = p
	c.stampCapabilities(&c.presence)

	switch {
	case p.Type == stanza.UnavailablePresence:
		c.stopReconnect()
		if c.IsConnected() {
			c.Send(c.presence)
		}
		c.transport.Disconnect()
	case c.IsConnected():
		c.Send(c.presence)
	default:
		c.Connect(c.config, p)
	}
}

func (c *Client) stampCapabilities(p *stanza.Presence) {
	for _, h := range c.registry.Handlers() {
		if a, ok := h.(extension.Advertiser); ok {
			p.CapabilityHash, p.CapabilityNode, p.CapabilityVer = a.Capabilities()
			return
		}
	}
}

// Send transmits s if the client is connected and reports whether it was
// handed to the transport.
func (c *Client) Send(s stanza.Marshaler) bool {
	return c.SendElement(s.Element())
}

// SendElement is like Send but it transmits a raw element.
func (c *Client) SendElement(el element.Element) bool {
	if !c.IsConnected() {
		return false
	}
	return c.transport.Send(el)
}

// SendMessage sends a chat message to the address to that requests a delivery
// receipt and delivery notifications, and returns its id.
// If xhtml is empty the body is used as the rich text.
func (c *Client) SendMessage(to, body, xhtml string, attachments []string, attachment string) string {
	m := c.NewChatMessage(to, body, xhtml, attachments, attachment)
	if !c.Send(m) {
		c.log.WithField("id", m.ID).Debug("unison: message not sent, client is not connected")
	}
	return m.ID
}

// NewChatMessage returns the message that SendMessage would send without
// sending it.
// Each call uses a new id.
func (c *Client) NewChatMessage(to, body, xhtml string, attachments []string, attachment string) stanza.Message {
	if xhtml == "" {
		xhtml = body
	}
	m := stanza.NewMessage("", to, body)
	m.XHTML = xhtml
	m.AMP = &stanza.AMP{
		Rules: []stanza.AMPRule{
			stanza.NewAMPRule(stanza.AMPNotify, stanza.AMPDeliver, stanza.AMPStored),
			stanza.NewAMPRule(stanza.AMPNotify, stanza.AMPDeliver, stanza.AMPDirect),
			stanza.NewAMPRule(stanza.AMPNotify, stanza.AMPDeliver, stanza.AMPNone),
		},
	}
	m.ID = chatIDPrefix + c.NextID()
	m.RequestReceipt()
	if len(attachments) > 0 {
		m.Attachments = append([]string(nil), attachments...)
	}
	m.Attachment = attachment
	return m
}

// CurrentServerTime returns the estimated time on the server: the last time
// reported by the server plus the local time elapsed since.
// Before the first response it is the local time.
func (c *Client) CurrentServerTime() time.Time {
	return c.serverTime.Add(c.now().Sub(c.syncedAt))
}

// setState moves to s and reports whether the state changed.
// The event, if any, runs before StateChanged.
func (c *Client) setState(s State, event func()) bool {
	if c.state == s {
		return false
	}
	c.state = s
	c.log.WithField("state", s).Debug("unison: state changed")
	if event != nil {
		event()
	}
	if c.handlers.StateChanged != nil {
		c.handlers.StateChanged(s)
	}
	return true
}

func (c *Client) stopReconnect() {
	if c.cancelReconnect != nil {
		c.cancelReconnect()
		c.cancelReconnect = nil
	}
}

func (c *Client) scheduleReconnect(d time.Duration) {
	c.stopReconnect()
	c.log.WithFields(logrus.Fields{
		"attempt": c.attempts + 1,
		"delay":   d,
	}).Info("unison: scheduling reconnect")
	c.cancelReconnect = c.timer.Schedule(d, c.reconnectAttempt)
}

func (c *Client) reconnectAttempt() {
	c.cancelReconnect = nil
	if !c.config.AutoReconnect || c.state == Connected {
		return
	}
	c.attempts++
	c.log.WithField("attempt", c.attempts).Info("unison: reconnecting")
	c.connect()
}

// HandleConnected is called by the transport once the session is ready.
// A repeated call while connected does nothing.
func (c *Client) HandleConnected() {
	c.stopReconnect()
	c.suppressReconnect = false
	c.attempts = 0
	if !c.setState(Connected, c.handlers.Connected) {
		return
	}

	c.Send(c.presence)
	c.sync.request()
}

// HandleDisconnected is called by the transport when the connection is closed
// for any reason.
func (c *Client) HandleDisconnected() {
	c.sync.abort()
	c.setState(Disconnected, c.handlers.Disconnected)
}

// HandleError is called by the transport when the connection fails.
//
// With automatic reconnection enabled a socket error schedules a reconnection
// using ReconnectDelay, unless a resource conflict was received since the last
// successful connection, and a keep alive error schedules one after a second.
// Stream and authentication errors never reconnect.
func (c *Client) HandleError(kind ErrorKind, err error) {
	c.log.WithError(err).WithField("kind", kind).Warn("unison: transport error")
	if c.config.AutoReconnect {
		switch kind {
		case ConflictError:
			c.suppressReconnect = true
		case SocketError:
			if !c.suppressReconnect {
				c.scheduleReconnect(ReconnectDelay(c.attempts))
			}
		case KeepAliveError:
			c.scheduleReconnect(keepAliveReconnect)
		}
	}
	if c.handlers.Error != nil {
		c.handlers.Error(kind, err)
	}
}

// HandleElement is called by the transport with every top level element
// received.
// Messages are decoded once and offered to the extensions before being
// reported to the Message handler.
// Other elements are offered to the extensions as they are; if none handles
// them, presences are decoded and reported to the matching handler and
// anything else is reported as a raw stanza.
func (c *Client) HandleElement(el element.Element) {
	if stanza.Is(el.Name) && el.Name.Local == "message" {
		m, err := stanza.DecodeMessage(el, c.log)
		if err == nil {
			if !c.registry.DispatchMessage(el, m) && c.handlers.Message != nil {
				c.handlers.Message(m)
			}
			return
		}
	}
	if c.registry.Dispatch(el) {
		return
	}
	if stanza.Is(el.Name) && el.Name.Local == "presence" {
		if c.handlers.Presence == nil {
			return
		}
		p, err := stanza.DecodePresence(el, c.log)
		if err == nil {
			c.handlers.Presence(p)
			return
		}
	}
	if c.handlers.Stanza != nil {
		c.handlers.Stanza(el)
	}
}

// timeSync keeps the client's estimate of the server clock up to date.
type timeSync struct {
	client  *Client
	pending string
	cancel  func()
}

func (s *timeSync) request() {
	s.abort()
	s.pending = s.client.NextID()
	s.client.SendElement(xtime.Request(s.pending, ""))
}

func (s *timeSync) abort() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.pending = ""
}

// HandleStanza consumes the response to the pending time query.
func (s *timeSync) HandleStanza(el element.Element) bool {
	if s.pending == "" || el.Name.Local != "iq" || el.Attribute("id") != s.pending {
		return false
	}
	typ := el.Attribute("type")
	if typ != "result" && typ != "error" {
		return false
	}

	c := s.client
	if t, err := xtime.ParseResponse(el); err == nil {
		c.serverTime = t.UTC()
		c.syncedAt = c.now()
	} else if typ == "result" {
		c.log.WithError(err).Warn("unison: ignoring malformed server time response")
	}
	s.pending = ""
	s.cancel = c.timer.Schedule(ServerTimeInterval, s.request)
	return true
}
