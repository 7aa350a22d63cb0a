// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package transport connects a unison.Client to an XMPP server.
//
// The transport dials the server, negotiates STARTTLS, SASL, and resource
// binding using mellium.im/xmpp, and then reports every received element to the
// client.
// All events are delivered on the client's event loop.
package transport // import "mellium.im/unison/transport"

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"mellium.im/sasl"
	"mellium.im/xmlstream"
	"mellium.im/xmpp"
	"mellium.im/xmpp/dial"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/ping"
	xmppstanza "mellium.im/xmpp/stanza"

	"mellium.im/unison"
	"mellium.im/unison/element"
	"mellium.im/unison/internal/logging"
)

const (
	// DialTimeout bounds dialing and negotiating a session.
	DialTimeout = 30 * time.Second

	// SendTimeout bounds writing a single element.
	SendTimeout = 10 * time.Second
)

var _ unison.Transport = (*Transport)(nil)

// Loop runs functions on the goroutine that owns the client.
// It is implemented by the client event loop.
type Loop interface {
	Post(f func())
	Do(ctx context.Context, f func()) error
}

// Transport is a unison.Transport backed by a TCP connection.
type Transport struct {
	events unison.Events
	loop   Loop
	log    logrus.FieldLogger

	mu  sync.Mutex
	cur *conn
}

// New returns a transport that reports to events on loop.
// Events is normally set after the client is created using Bind.
func New(l Loop, log logrus.FieldLogger) *Transport {
	return &Transport{
		loop: l,
		log:  logging.OrDiscard(log),
	}
}

// Bind sets the receiver of connection events.
// It must be called before Connect.
func (t *Transport) Bind(events unison.Events) {
	t.events = events
}

// conn is a single connection attempt and, once negotiated, its session.
type conn struct {
	cfg    unison.Config
	addr   jid.JID
	ctx    context.Context
	cancel context.CancelFunc

	closing atomic.Bool

	mu      sync.Mutex
	netConn net.Conn
	session *xmpp.Session
	reply   *pendingReply
}

// pendingReply is the IQ request currently being handled by the client.
// Responses to it are written through the handler so that the session does not
// answer the request itself.
type pendingReply struct {
	id string
	w  xmlstream.TokenWriter
}

func (c *conn) setNetConn(nc net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing.Load() {
		return false
	}
	c.netConn = nc
	return true
}

func (c *conn) close() {
	if c.closing.Swap(true) {
		return
	}
	c.cancel()
	c.mu.Lock()
	session, nc := c.session, c.netConn
	c.mu.Unlock()
	if session != nil {
		/* #nosec */
		session.Close()
	}
	if nc != nil {
		/* #nosec */
		nc.Close()
	}
}

func (t *Transport) current(c *conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur == c
}

// post runs f on the loop unless c has since been replaced by a newer
// connection.
func (t *Transport) post(c *conn, f func()) {
	t.loop.Post(func() {
		if t.current(c) {
			f()
		}
	})
}

// Connect starts connecting with cfg and returns immediately.
// Any existing connection is closed without reporting further events for it.
func (t *Transport) Connect(cfg unison.Config) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	t.mu.Lock()
	old := t.cur
	t.cur = c
	t.mu.Unlock()
	if old != nil {
		go old.close()
	}

	go t.run(c)
}

// Disconnect closes the current connection.
// The client is notified once it is closed.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	c := t.cur
	t.mu.Unlock()
	if c != nil {
		t.log.Debug("transport: closing connection")
		go c.close()
	}
}

// Send writes el to the current session and reports whether it was written.
func (t *Transport) Send(el element.Element) bool {
	t.mu.Lock()
	c := t.cur
	t.mu.Unlock()
	if c == nil || c.closing.Load() {
		return false
	}

	c.mu.Lock()
	session, reply := c.session, c.reply
	c.mu.Unlock()
	if session == nil {
		return false
	}

	var err error
	if reply != nil && isResponse(el, reply.id) {
		err = writeReply(reply.w, el)
	} else {
		ctx, cancel := context.WithTimeout(c.ctx, SendTimeout)
		err = session.Send(ctx, el.TokenReader())
		cancel()
	}
	if err != nil {
		t.log.WithError(err).WithField("element", el.Name.Local).Warn("transport: error sending element")
		return false
	}
	return true
}

func isResponse(el element.Element, id string) bool {
	if el.Name.Local != "iq" || el.Attribute("id") != id {
		return false
	}
	typ := el.Attribute("type")
	return typ == "result" || typ == "error"
}

// writeReply copies el to w and flushes it if w buffers its output.
func writeReply(w xmlstream.TokenWriter, el element.Element) error {
	_, err := xmlstream.Copy(w, el.TokenReader())
	if err != nil {
		return err
	}
	if f, ok := w.(xmlstream.Flusher); ok {
		return f.Flush()
	}
	return nil
}

func (t *Transport) run(c *conn) {
	session, err := t.negotiate(c)
	if err != nil {
		if !c.closing.Load() {
			kind := Classify(err, true)
			t.log.WithError(err).WithField("kind", kind).Debug("transport: connecting failed")
			t.post(c, func() { t.events.HandleError(kind, err) })
		}
		c.close()
		t.finish(c)
		return
	}

	t.log.WithField("jid", session.LocalAddr()).Debug("transport: session negotiated")
	t.post(c, t.events.HandleConnected)

	if c.cfg.KeepAliveInterval > 0 {
		go t.keepAlive(c, session)
	}

	err = session.Serve(xmpp.HandlerFunc(func(r xmlstream.TokenReadEncoder, start *xml.StartElement) error {
		return t.handle(c, r, start)
	}))
	if !c.closing.Load() {
		if err == nil {
			err = io.EOF
		}
		kind := Classify(err, false)
		t.post(c, func() { t.events.HandleError(kind, err) })
	}
	c.close()
	t.finish(c)
}

// finish reports the end of c and forgets it.
func (t *Transport) finish(c *conn) {
	t.loop.Post(func() {
		t.mu.Lock()
		if t.cur != c {
			t.mu.Unlock()
			return
		}
		t.cur = nil
		t.mu.Unlock()
		t.events.HandleDisconnected()
	})
}

func (t *Transport) negotiate(c *conn) (*xmpp.Session, error) {
	addr, err := jid.Parse(c.cfg.JID)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid jid %q: %w", c.cfg.JID, err)
	}
	if addr.Resourcepart() == "" && c.cfg.Resource != "" {
		addr, err = addr.WithResource(c.cfg.Resource)
		if err != nil {
			return nil, fmt.Errorf("transport: invalid resource %q: %w", c.cfg.Resource, err)
		}
	}
	c.addr = addr

	ctx, cancel := context.WithTimeout(c.ctx, DialTimeout)
	defer cancel()

	tlsConfig := &tls.Config{
		ServerName: addr.Domain().String(),
		MinVersion: tls.VersionTLS12,
	}
	nc, err := dialServer(ctx, addr, c.cfg, tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("transport: error dialing connection: %w", err)
	}
	if !c.setNetConn(nc) {
		/* #nosec */
		nc.Close()
		return nil, context.Canceled
	}

	saslFeature := xmpp.SASL("", c.cfg.Password,
		sasl.ScramSha256Plus,
		sasl.ScramSha1Plus,
		sasl.ScramSha256,
		sasl.ScramSha1,
		sasl.Plain,
	)
	features := []xmpp.StreamFeature{xmpp.StartTLS(tlsConfig)}
	if c.cfg.NoTLS {
		saslFeature.Necessary &^= xmpp.Secure
		features = features[:0]
	}
	features = append(features, saslFeature, xmpp.BindResource())

	negotiator := xmpp.NewNegotiator(func(*xmpp.Session, *xmpp.StreamConfig) xmpp.StreamConfig {
		return xmpp.StreamConfig{
			Features: features,
		}
	})
	session, err := xmpp.NewSession(ctx, addr.Domain(), addr, nc, 0, negotiator)
	if err != nil {
		return nil, fmt.Errorf("transport: error negotiating session: %w", err)
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	if c.closing.Load() {
		/* #nosec */
		session.Close()
		return nil, context.Canceled
	}
	return session, nil
}

// dialServer connects to the configured host, which may be an address with a
// port, a domain to look up instead of the JID's domain, or empty.
// A host with a port is dialed directly and secured later using STARTTLS.
func dialServer(ctx context.Context, addr jid.JID, cfg unison.Config, tlsConfig *tls.Config) (net.Conn, error) {
	d := &dial.Dialer{
		NoTLS:     cfg.NoTLS,
		TLSConfig: tlsConfig,
	}
	if hasPort(cfg.Host) {
		return d.Dialer.DialContext(ctx, "tcp", cfg.Host)
	}
	server, err := serverAddr(addr, cfg.Host)
	if err != nil {
		return nil, err
	}
	return d.Dial(ctx, "tcp", server)
}

// serverAddr returns the address whose records are looked up when dialing.
// The TLS configuration still verifies the account's domain.
func serverAddr(addr jid.JID, host string) (jid.JID, error) {
	if host == "" {
		return addr.Domain(), nil
	}
	server, err := jid.New("", host, "")
	if err != nil {
		return jid.JID{}, fmt.Errorf("transport: invalid host %q: %w", host, err)
	}
	return server, nil
}

func hasPort(host string) bool {
	_, port, err := net.SplitHostPort(host)
	return err == nil && port != ""
}

// handle decodes an incoming element and hands it to the client, waiting until
// the client is done with it.
func (t *Transport) handle(c *conn, r xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	el, err := element.DecodeElement(*start, r)
	if err != nil {
		return err
	}

	if el.Name.Local == "iq" {
		if typ := el.Attribute("type"); typ == "get" || typ == "set" {
			c.mu.Lock()
			c.reply = &pendingReply{id: el.Attribute("id"), w: r}
			c.mu.Unlock()
			defer func() {
				c.mu.Lock()
				c.reply = nil
				c.mu.Unlock()
			}()
		}
	}

	err = t.loop.Do(c.ctx, func() {
		if t.current(c) {
			t.events.HandleElement(el)
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// keepAlive pings the server every KeepAliveInterval and reports an error if
// it does not answer within KeepAliveTimeout.
func (t *Transport) keepAlive(c *conn, session *xmpp.Session) {
	ticker := time.NewTicker(c.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}

		timeout := c.cfg.KeepAliveTimeout
		if timeout <= 0 {
			timeout = c.cfg.KeepAliveInterval
		}
		ctx, cancel := context.WithTimeout(c.ctx, timeout)
		err := ping.Send(ctx, session, c.addr.Domain())
		cancel()

		var stanzaErr xmppstanza.Error
		switch {
		case err == nil, errors.As(err, &stanzaErr):
			// Any response, even an error, means the server is still there.
			continue
		case c.closing.Load():
			return
		}
		t.log.WithError(err).Debug("transport: keepalive ping failed")
		t.post(c, func() { t.events.HandleError(unison.KeepAliveError, err) })
		go c.close()
		return
	}
}
