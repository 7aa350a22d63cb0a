// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package unison_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"mellium.im/unison"
	"mellium.im/unison/element"
	"mellium.im/unison/internal/xmpptest"
	"mellium.im/unison/receipts"
	"mellium.im/unison/stanza"
)

var errTest = errors.New("test error")

var testConfig = unison.Config{
	JID:           "alice@example.net",
	Password:      "secret",
	AutoReconnect: true,
}

// events records every callback made by a client.
type events struct {
	log       []string
	messages  []stanza.Message
	presences []stanza.Presence
	stanzas   []element.Element
	errors    []unison.ErrorKind
}

func (e *events) handlers() unison.Handlers {
	return unison.Handlers{
		Message: func(m stanza.Message) {
			e.log = append(e.log, "message")
			e.messages = append(e.messages, m)
		},
		Presence: func(p stanza.Presence) {
			e.log = append(e.log, "presence")
			e.presences = append(e.presences, p)
		},
		Stanza: func(el element.Element) {
			e.log = append(e.log, "stanza")
			e.stanzas = append(e.stanzas, el)
		},
		Connected:    func() { e.log = append(e.log, "connected") },
		Disconnected: func() { e.log = append(e.log, "disconnected") },
		StateChanged: func(s unison.State) { e.log = append(e.log, "state:"+s.String()) },
		Error: func(kind unison.ErrorKind, _ error) {
			e.log = append(e.log, "error:"+kind.String())
			e.errors = append(e.errors, kind)
		},
	}
}

type fixture struct {
	client    *unison.Client
	transport *xmpptest.Transport
	timer     *xmpptest.Timer
	events    *events
	now       time.Time
}

func newFixture(opts ...unison.Option) *fixture {
	f := &fixture{
		transport: &xmpptest.Transport{},
		timer:     &xmpptest.Timer{},
		events:    &events{},
		now:       time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	opts = append([]unison.Option{
		unison.WithIDPrefix("test"),
		unison.WithHandlers(f.events.handlers()),
		unison.WithClock(func() time.Time { return f.now }),
	}, opts...)
	f.client = unison.New(f.transport, f.timer, opts...)
	return f
}

// connect brings the client to the connected state and forgets what was sent
// while doing so.
func (f *fixture) connect(t *testing.T) {
	t.Helper()
	f.client.Connect(testConfig, stanza.Presence{})
	f.client.HandleConnected()
	if !f.client.IsConnected() {
		t.Fatalf("client did not connect")
	}
	f.transport.Sent = nil
	f.events.log = nil
}

func parse(t *testing.T, s string) element.Element {
	t.Helper()
	el, err := element.Parse(s)
	if err != nil {
		t.Fatalf("error parsing %s: %v", s, err)
	}
	return el
}

func TestConnectLifecycle(t *testing.T) {
	f := newFixture()
	if s := f.client.State(); s != unison.Disconnected {
		t.Fatalf("wrong initial state: %v", s)
	}
	f.client.Connect(testConfig, stanza.Presence{Status: stanza.Status{Text: "hello"}})
	if s := f.client.State(); s != unison.Connecting {
		t.Fatalf("wrong state after connect: %v", s)
	}
	if len(f.transport.Configs) != 1 || f.transport.Configs[0] != testConfig {
		t.Fatalf("config not passed to transport: %+v", f.transport.Configs)
	}
	if !reflect.DeepEqual(f.client.Config(), testConfig) {
		t.Errorf("config not installed: %+v", f.client.Config())
	}
	if f.client.Send(stanza.NewMessage("", "bob@example.net", "early")) {
		t.Errorf("should not be able to send while connecting")
	}

	f.client.HandleConnected()
	want := []string{
		`<presence><status>hello</status></presence>`,
		`<iq type="get" id="test_1"><time xmlns="urn:xmpp:time"></time></iq>`,
	}
	if got := f.transport.SentStrings(); !reflect.DeepEqual(got, want) {
		t.Errorf("wrong stanzas sent on connect:\nwant=%v,\n got=%v", want, got)
	}

	f.client.HandleDisconnected()
	if s := f.client.State(); s != unison.Disconnected {
		t.Errorf("wrong state after disconnect: %v", s)
	}
	wantLog := []string{
		"state:connecting",
		"connected", "state:connected",
		"disconnected", "state:disconnected",
	}
	if !reflect.DeepEqual(f.events.log, wantLog) {
		t.Errorf("wrong events:\nwant=%v,\n got=%v", wantLog, f.events.log)
	}
}

func TestReconnectBackoff(t *testing.T) {
	f := newFixture()
	f.client.Connect(testConfig, stanza.Presence{})
	for i := 0; i < 20; i++ {
		f.client.HandleError(unison.SocketError, errTest)
		f.client.HandleDisconnected()
		pending := f.timer.Pending()
		if len(pending) != 1 {
			t.Fatalf("attempt %d: expected one pending reconnect, got %d", i, len(pending))
		}
		if d, want := pending[0].Delay, unison.ReconnectDelay(i); d != want {
			t.Errorf("attempt %d: wrong delay: want=%v, got=%v", i, want, d)
		}
		pending[0].Fire()
		if s := f.client.State(); s != unison.Connecting {
			t.Fatalf("attempt %d: wrong state after reconnect fired: %v", i, s)
		}
		if n := len(f.transport.Configs); n != i+2 {
			t.Fatalf("attempt %d: wrong number of connects: want=%d, got=%d", i, i+2, n)
		}
	}

	// A successful connection resets the schedule.
	f.client.HandleConnected()
	f.client.HandleError(unison.SocketError, errTest)
	if d := f.timer.Last().Delay; d != 10*time.Second {
		t.Errorf("backoff not reset after connecting: got %v", d)
	}
}

func TestRescheduleCancelsPending(t *testing.T) {
	f := newFixture()
	f.connect(t)
	f.client.HandleError(unison.SocketError, errTest)
	f.client.HandleError(unison.KeepAliveError, errTest)
	pending := f.timer.Pending()
	if len(pending) != 1 {
		t.Fatalf("expected only one pending reconnect, got %d", len(pending))
	}
	if pending[0].Delay != time.Second {
		t.Errorf("wrong delay: want=%v, got=%v", time.Second, pending[0].Delay)
	}
}

func TestConflictSuppressesReconnect(t *testing.T) {
	f := newFixture()
	f.connect(t)

	f.client.HandleError(unison.ConflictError, errTest)
	f.client.HandleDisconnected()
	f.client.HandleError(unison.SocketError, errTest)
	if n := len(f.timer.Pending()); n != 0 {
		t.Fatalf("reconnect should be suppressed after a conflict, got %d pending", n)
	}
	if want := []unison.ErrorKind{unison.ConflictError, unison.SocketError}; !reflect.DeepEqual(f.events.errors, want) {
		t.Errorf("errors should always be reported: want=%v, got=%v", want, f.events.errors)
	}

	// Keep alive failures still reconnect.
	f.client.HandleError(unison.KeepAliveError, errTest)
	if n := len(f.timer.Pending()); n != 1 {
		t.Fatalf("expected a keep alive reconnect, got %d pending", n)
	}
	f.timer.Last().Fire()
	f.client.HandleError(unison.SocketError, errTest)
	if n := len(f.timer.Pending()); n != 0 {
		t.Fatalf("reconnect should still be suppressed, got %d pending", n)
	}

	// An explicit reconnect lifts the suppression.
	f.client.Reconnect()
	f.client.HandleError(unison.SocketError, errTest)
	if n := len(f.timer.Pending()); n != 1 {
		t.Errorf("expected a reconnect after explicit reconnect, got %d pending", n)
	}
}

func TestKeepAliveReconnect(t *testing.T) {
	f := newFixture()
	f.client.Connect(testConfig, stanza.Presence{})
	for i := 0; i < 7; i++ {
		f.client.HandleError(unison.SocketError, errTest)
		f.timer.Last().Fire()
	}
	f.client.HandleError(unison.KeepAliveError, errTest)
	if d := f.timer.Last().Delay; d != time.Second {
		t.Errorf("keep alive failures should reconnect after a second, got %v", d)
	}
}

func TestErrorsWithoutReconnect(t *testing.T) {
	for _, kind := range []unison.ErrorKind{unison.StreamError, unison.AuthError} {
		t.Run(kind.String(), func(t *testing.T) {
			f := newFixture()
			f.connect(t)
			f.client.HandleError(kind, errTest)
			if n := len(f.timer.Pending()); n != 0 {
				t.Errorf("did not expect a reconnect, got %d pending", n)
			}
		})
	}

	f := newFixture()
	cfg := testConfig
	cfg.AutoReconnect = false
	f.client.Connect(cfg, stanza.Presence{})
	f.client.HandleError(unison.SocketError, errTest)
	f.client.HandleError(unison.KeepAliveError, errTest)
	if n := len(f.timer.Pending()); n != 0 {
		t.Errorf("did not expect a reconnect without auto reconnect, got %d pending", n)
	}
	if n := len(f.events.errors); n != 2 {
		t.Errorf("errors should be reported, got %d", n)
	}
}

func TestReconnectAttemptHonorsConfig(t *testing.T) {
	f := newFixture()
	f.connect(t)
	f.client.HandleError(unison.SocketError, errTest)
	f.client.HandleDisconnected()

	// Connecting without auto reconnect replaces the config before the timer
	// fires.
	cfg := testConfig
	cfg.AutoReconnect = false
	f.client.Connect(cfg, stanza.Presence{})
	f.client.HandleDisconnected()
	before := len(f.transport.Configs)
	f.timer.Scheduled[0].Fire()
	if n := len(f.transport.Configs); n != before {
		t.Errorf("reconnect should not connect with auto reconnect disabled")
	}
}

func TestConnectCancelsPendingReconnect(t *testing.T) {
	f := newFixture()
	f.connect(t)
	f.client.HandleError(unison.SocketError, errTest)
	f.client.HandleDisconnected()
	stale := f.timer.Last()

	f.client.Connect(testConfig, stanza.Presence{})
	f.client.HandleConnected()
	if n := len(f.timer.Pending()); n != 0 {
		t.Fatalf("expected nothing to be pending, got %d", n)
	}
	if !stale.Canceled {
		t.Errorf("connecting should cancel the pending reconnect")
	}
	connects := len(f.transport.Configs)
	if stale.Fire() {
		t.Errorf("canceled reconnect should not run")
	}
	if s := f.client.State(); s != unison.Connected {
		t.Errorf("wrong state: want=%v, got=%v", unison.Connected, s)
	}
	if n := len(f.transport.Configs); n != connects {
		t.Errorf("wrong number of connects: want=%d, got=%d", connects, n)
	}
}

func TestConnectedCancelsPendingReconnect(t *testing.T) {
	f := newFixture()
	f.connect(t)
	f.client.HandleError(unison.KeepAliveError, errTest)
	stale := f.timer.Last()

	// The transport recovers before the reconnect fires.
	f.client.HandleDisconnected()
	f.client.HandleConnected()
	if !stale.Canceled {
		t.Errorf("connecting should cancel the pending reconnect")
	}
	if s := f.client.State(); s != unison.Connected {
		t.Errorf("wrong state: want=%v, got=%v", unison.Connected, s)
	}
}

func TestRepeatedEventsChangeStateOnce(t *testing.T) {
	f := newFixture()
	f.connect(t)
	f.client.HandleConnected()
	if len(f.events.log) != 0 || len(f.transport.Sent) != 0 {
		t.Errorf("repeated connected event should do nothing, got %v and %v", f.events.log, f.transport.SentStrings())
	}

	f.client.HandleDisconnected()
	f.client.HandleDisconnected()
	want := []string{"disconnected", "state:disconnected"}
	if !reflect.DeepEqual(f.events.log, want) {
		t.Errorf("wrong events:\nwant=%v,\n got=%v", want, f.events.log)
	}
}

func TestErrorLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	f := newFixture(unison.WithLogger(logger))
	f.client.HandleError(unison.StreamError, errTest)
	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.WarnLevel {
		t.Fatalf("expected a warning, got %+v", entry)
	}
	if kind := entry.Data["kind"]; kind != unison.StreamError {
		t.Errorf("wrong kind field: %v", kind)
	}
}

func TestDisconnect(t *testing.T) {
	f := newFixture()
	f.connect(t)
	f.client.HandleError(unison.KeepAliveError, errTest)
	f.client.Disconnect()

	const want = `<presence type="unavailable"><status>Logged out</status></presence>`
	if got := f.transport.SentStrings(); len(got) != 1 || got[0] != want {
		t.Errorf("wrong stanzas sent:\nwant=[%s],\n got=%v", want, got)
	}
	if f.transport.Disconnects != 1 {
		t.Errorf("transport not disconnected")
	}
	if n := len(f.timer.Pending()); n != 0 {
		t.Errorf("pending reconnect should be canceled, got %d", n)
	}
	if p := f.client.ClientPresence(); p.Type != stanza.UnavailablePresence || p.Status.Text != unison.LoggedOutStatus {
		t.Errorf("wrong client presence after disconnect: %+v", p)
	}

	// Disconnecting when not connected sends nothing.
	f.client.HandleDisconnected()
	f.transport.Sent = nil
	f.client.Disconnect()
	if len(f.transport.Sent) != 0 {
		t.Errorf("nothing should be sent while disconnected, got %v", f.transport.SentStrings())
	}
	if f.transport.Disconnects != 2 {
		t.Errorf("transport should still be closed")
	}
}

func TestSetClientPresence(t *testing.T) {
	f := newFixture()
	f.client.Connect(testConfig, stanza.Presence{})
	f.client.HandleDisconnected()

	away := stanza.Presence{Status: stanza.Status{Show: stanza.ShowAway}}
	f.client.SetClientPresence(away)
	if n := len(f.transport.Configs); n != 2 {
		t.Fatalf("setting presence while disconnected should connect, got %d connects", n)
	}
	f.client.HandleConnected()
	if got := f.transport.SentStrings(); len(got) == 0 || got[0] != `<presence><show>away</show></presence>` {
		t.Errorf("new presence should be sent on connect, got %v", got)
	}

	f.transport.Sent = nil
	dnd := stanza.Presence{Status: stanza.Status{Show: stanza.ShowDND}}
	f.client.SetClientPresence(dnd)
	if got := f.transport.SentStrings(); len(got) != 1 || got[0] != `<presence><show>dnd</show></presence>` {
		t.Errorf("presence should be sent while connected, got %v", got)
	}

	f.transport.Sent = nil
	f.client.HandleError(unison.SocketError, errTest)
	f.client.SetClientPresence(stanza.Presence{Type: stanza.UnavailablePresence})
	if got := f.transport.SentStrings(); len(got) != 1 || got[0] != `<presence type="unavailable"></presence>` {
		t.Errorf("unavailable presence should be sent, got %v", got)
	}
	if f.transport.Disconnects != 1 {
		t.Errorf("unavailable presence should disconnect")
	}
	if n := len(f.timer.Pending()); n != 0 {
		t.Errorf("unavailable presence should cancel reconnection, got %d pending", n)
	}
}

type advertiser struct{}

func (*advertiser) HandleStanza(element.Element) bool { return false }

func (*advertiser) Capabilities() (string, string, []byte) {
	return "sha-1", "https://mellium.im/unison", []byte("ver")
}

func TestCapabilitiesStamped(t *testing.T) {
	f := newFixture()
	if !f.client.AddExtension(&advertiser{}) {
		t.Fatalf("failed to add extension")
	}
	f.client.Connect(testConfig, stanza.Presence{})
	f.client.HandleConnected()
	const want = `<presence><c xmlns="http://jabber.org/protocol/caps" hash="sha-1" node="https://mellium.im/unison" ver="dmVy"></c></presence>`
	if got := f.transport.SentStrings(); got[0] != want {
		t.Errorf("wrong initial presence:\nwant=%s,\n got=%s", want, got[0])
	}
	if p := f.client.ClientPresence(); string(p.CapabilityVer) != "ver" {
		t.Errorf("client presence not stamped: %+v", p)
	}
}

func TestNextIDUnique(t *testing.T) {
	f := newFixture()
	seen := make(map[string]struct{})
	for i := 0; i < 10000; i++ {
		id := f.client.NextID()
		if !strings.HasPrefix(id, "test_") {
			t.Fatalf("wrong id prefix: %q", id)
		}
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate id %q after %d ids", id, i)
		}
		seen[id] = struct{}{}
	}

	c := unison.New(&xmpptest.Transport{}, &xmpptest.Timer{})
	id := c.NextID()
	prefix, counter, ok := strings.Cut(id, "_")
	if !ok || len(prefix) != 8 || counter != "1" {
		t.Errorf("wrong default id format: %q", id)
	}
	other := unison.New(&xmpptest.Transport{}, &xmpptest.Timer{}).NextID()
	if other == id {
		t.Errorf("clients should use different prefixes, both generated %q", id)
	}
}

func TestSendMessage(t *testing.T) {
	f := newFixture()
	f.connect(t)
	id := f.client.SendMessage("bob@example.net", "hi", "", []string{"a1", "a2"}, "")
	if id != "chat_test_2" {
		t.Errorf("wrong id: want=%q, got=%q", "chat_test_2", id)
	}
	const want = `<message id="chat_test_2" to="bob@example.net" type="chat"><body>hi</body>` +
		`<html xmlns="http://jabber.org/protocol/xhtml-im"><body xmlns="http://www.w3.org/1999/xhtml">hi</body></html>` +
		`<amp xmlns="http://jabber.org/protocol/amp">` +
		`<rule action="notify" condition="deliver" value="stored"></rule>` +
		`<rule action="notify" condition="deliver" value="direct"></rule>` +
		`<rule action="notify" condition="deliver" value="none"></rule>` +
		`</amp>` +
		`<request xmlns="urn:xmpp:receipts"></request>` +
		`<attachments xmlns="jabber:info:unison"><attachment id="a1"></attachment><attachment id="a2"></attachment></attachments>` +
		`</message>`
	if got := f.transport.SentStrings(); len(got) != 1 || got[0] != want {
		t.Errorf("wrong message:\nwant=%s,\n got=%v", want, got)
	}

	f.transport.Sent = nil
	id = f.client.SendMessage("bob@example.net", "hi", "<em>hi</em>", nil, "file1")
	const wantRich = `<message id="chat_test_3" to="bob@example.net" type="chat"><body>hi</body>` +
		`<html xmlns="http://jabber.org/protocol/xhtml-im"><body xmlns="http://www.w3.org/1999/xhtml"><em>hi</em></body></html>` +
		`<amp xmlns="http://jabber.org/protocol/amp">` +
		`<rule action="notify" condition="deliver" value="stored"></rule>` +
		`<rule action="notify" condition="deliver" value="direct"></rule>` +
		`<rule action="notify" condition="deliver" value="none"></rule>` +
		`</amp>` +
		`<request xmlns="urn:xmpp:receipts"></request>` +
		`<attachment>file1</attachment>` +
		`</message>`
	if got := f.transport.SentStrings(); len(got) != 1 || got[0] != wantRich {
		t.Errorf("wrong message:\nwant=%s,\n got=%v", wantRich, got)
	}

	f.client.HandleDisconnected()
	f.transport.Sent = nil
	if id := f.client.SendMessage("bob@example.net", "offline", "", nil, ""); id == "" {
		t.Errorf("an id should be returned even when not connected")
	}
	if len(f.transport.Sent) != 0 {
		t.Errorf("nothing should be sent while disconnected")
	}
}

func TestSendFailsWhenTransportDown(t *testing.T) {
	f := newFixture()
	f.connect(t)
	f.transport.Down = true
	if f.client.Send(stanza.NewMessage("", "bob@example.net", "hi")) {
		t.Errorf("send should report the transport failure")
	}
}

type consume struct {
	local string
	seen  int
}

func (c *consume) HandleStanza(el element.Element) bool {
	c.seen++
	return el.Name.Local == c.local
}

func TestHandleElementDispatch(t *testing.T) {
	f := newFixture()
	f.connect(t)
	messages := &consume{local: "message"}
	if !f.client.AddExtension(messages) {
		t.Fatalf("failed to add extension")
	}
	if f.client.AddExtension(messages) {
		t.Errorf("adding an extension twice should fail")
	}

	f.client.HandleElement(parse(t, `<message xmlns="jabber:client" from="bob@example.net"><body>hi</body></message>`))
	f.client.HandleElement(parse(t, `<presence xmlns="jabber:client" from="bob@example.net"><show>xa</show></presence>`))
	f.client.HandleElement(parse(t, `<iq xmlns="jabber:client" type="set" id="x"><query xmlns="jabber:iq:roster"/></iq>`))
	if want := []string{"presence", "stanza"}; !reflect.DeepEqual(f.events.log, want) {
		t.Errorf("wrong events:\nwant=%v,\n got=%v", want, f.events.log)
	}
	if messages.seen != 3 {
		t.Errorf("extension should see every stanza, saw %d", messages.seen)
	}
	if len(f.events.presences) != 1 || f.events.presences[0].Status.Show != stanza.ShowXA {
		t.Errorf("wrong presence decoded: %+v", f.events.presences)
	}

	if !f.client.RemoveExtension(messages) {
		t.Fatalf("failed to remove extension")
	}
	if f.client.RemoveExtension(messages) {
		t.Errorf("removing an extension twice should fail")
	}
	f.events.log = nil
	f.client.HandleElement(parse(t, `<message xmlns="jabber:client" from="bob@example.net"><body>hi</body></message>`))
	if want := []string{"message"}; !reflect.DeepEqual(f.events.log, want) {
		t.Errorf("wrong events:\nwant=%v,\n got=%v", want, f.events.log)
	}
	if len(f.events.messages) != 1 || f.events.messages[0].Body != "hi" {
		t.Errorf("wrong message decoded: %+v", f.events.messages)
	}
	if n := len(f.client.Extensions()); n != 2 {
		t.Errorf("expected only the built in extensions, got %d", n)
	}
}

func TestServerTime(t *testing.T) {
	f := newFixture()
	if got := f.client.CurrentServerTime(); !got.Equal(f.now) {
		t.Errorf("server time should default to local time: want=%v, got=%v", f.now, got)
	}
	f.connect(t)

	f.client.HandleElement(parse(t, `<iq xmlns="jabber:client" type="result" id="test_1">`+
		`<time xmlns="urn:xmpp:time"><tzo>-06:00</tzo><utc>2030-01-01T00:00:00Z</utc></time></iq>`))
	if len(f.events.log) != 0 {
		t.Errorf("time response should be consumed, got events %v", f.events.log)
	}
	serverTime := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := f.client.CurrentServerTime(); !got.Equal(serverTime) {
		t.Errorf("wrong server time: want=%v, got=%v", serverTime, got)
	}
	f.now = f.now.Add(5 * time.Second)
	if got, want := f.client.CurrentServerTime(), serverTime.Add(5*time.Second); !got.Equal(want) {
		t.Errorf("wrong server time after 5s: want=%v, got=%v", want, got)
	}

	requery := f.timer.Last()
	if requery == nil || requery.Delay != unison.ServerTimeInterval {
		t.Fatalf("expected a server time query to be scheduled, got %+v", requery)
	}
	requery.Fire()
	const want = `<iq type="get" id="test_2"><time xmlns="urn:xmpp:time"></time></iq>`
	if got := f.transport.SentStrings(); len(got) != 1 || got[0] != want {
		t.Errorf("wrong query:\nwant=%s,\n got=%v", want, got)
	}

	// An error response still schedules the next query, and a duplicate
	// response is not consumed.
	errResp := parse(t, `<iq xmlns="jabber:client" type="error" id="test_2"/>`)
	f.client.HandleElement(errResp)
	if len(f.events.stanzas) != 0 {
		t.Errorf("error response should be consumed")
	}
	f.client.HandleElement(errResp)
	if len(f.events.stanzas) != 1 {
		t.Errorf("stale response should be passed on, got %d stanzas", len(f.events.stanzas))
	}

	pending := f.timer.Last()
	f.client.HandleDisconnected()
	if !pending.Canceled {
		t.Errorf("disconnecting should cancel the next server time query")
	}
}

func TestAnswersTimeRequests(t *testing.T) {
	f := newFixture()
	f.connect(t)
	f.client.HandleElement(parse(t, `<iq xmlns="jabber:client" type="get" id="t1" from="juliet@example.com/balcony"><time xmlns="urn:xmpp:time"/></iq>`))
	const want = `<iq xmlns="jabber:client" type="result" to="juliet@example.com/balcony" id="t1">` +
		`<time xmlns="urn:xmpp:time"><tzo>Z</tzo><utc>2021-06-01T12:00:00Z</utc></time></iq>`
	if got := f.transport.SentStrings(); len(got) != 1 || got[0] != want {
		t.Errorf("wrong response:\nwant=%s,\n got=%v", want, got)
	}
	if len(f.events.log) != 0 {
		t.Errorf("time request should be consumed, got %v", f.events.log)
	}
}

func TestReceiptRoundTrip(t *testing.T) {
	f := newFixture()
	tracker := receipts.New(f.client)
	var delivered []string
	tracker.Delivered = func(m stanza.Message) {
		delivered = append(delivered, m.ReceiptID)
	}
	f.client.AddExtension(tracker)
	if want := []string{"urn:xmpp:time", "urn:xmpp:receipts"}; !reflect.DeepEqual(f.client.DiscoveryFeatures(), want) {
		t.Errorf("wrong features: want=%v, got=%v", want, f.client.DiscoveryFeatures())
	}
	f.connect(t)

	id := f.client.SendMessage("bob@example.net", "ping", "", nil, "")
	f.transport.Sent = nil
	f.client.HandleElement(parse(t, `<message xmlns="jabber:client" from="bob@example.net/phone" id="r1">`+
		`<received xmlns="urn:xmpp:receipts" id="`+id+`"/></message>`))
	if len(delivered) != 1 || delivered[0] != id {
		t.Errorf("expected one delivery for %q, got %v", id, delivered)
	}
	if len(f.transport.Sent) != 0 {
		t.Errorf("a receipt should not be answered, sent %v", f.transport.SentStrings())
	}
	if len(f.events.messages) != 0 {
		t.Errorf("receipt should be consumed by the tracker")
	}

	f.client.HandleElement(parse(t, `<message xmlns="jabber:client" from="bob@example.net/phone" id="m9" type="chat">`+
		`<body>pong</body><request xmlns="urn:xmpp:receipts"/></message>`))
	const want = `<message to="bob@example.net/phone" type="chat"><received xmlns="urn:xmpp:receipts" id="m9"></received></message>`
	if got := f.transport.SentStrings(); len(got) != 1 || got[0] != want {
		t.Errorf("wrong receipt:\nwant=%s,\n got=%v", want, got)
	}
	if len(f.events.messages) != 1 || f.events.messages[0].Body != "pong" {
		t.Errorf("requesting message should still be delivered, got %+v", f.events.messages)
	}
}

func TestMessageDecodedOnce(t *testing.T) {
	logger, hook := test.NewNullLogger()
	f := newFixture(unison.WithLogger(logger))
	f.client.AddExtension(receipts.New(f.client, receipts.Logger(logger)))
	f.connect(t)
	hook.Reset()

	f.client.HandleElement(parse(t, `<message xmlns="jabber:client" from="bob@example.net/phone" id="m1">`+
		`<body>hi</body>`+
		`<amp xmlns="http://jabber.org/protocol/amp"><rule action="notify" condition="deliver"/></amp>`+
		`</message>`))
	var warnings int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings++
		}
	}
	if warnings != 1 {
		t.Errorf("invalid rule should be reported once, got %d warnings", warnings)
	}
	if len(f.events.messages) != 1 || f.events.messages[0].Body != "hi" {
		t.Errorf("wrong message delivered: %+v", f.events.messages)
	}
}

func TestNewChatMessage(t *testing.T) {
	f := newFixture()
	f.connect(t)
	m := f.client.NewChatMessage("bob@example.net", "hi", "", nil, "")
	if len(f.transport.Sent) != 0 {
		t.Errorf("building a message should not send it, sent %v", f.transport.SentStrings())
	}
	if m.ID != "chat_test_2" || !m.ReceiptRequested || m.XHTML != "hi" || !m.IsAMP() {
		t.Errorf("wrong message: %+v", m)
	}
	if next := f.client.NewChatMessage("bob@example.net", "hi", "", nil, ""); next.ID == m.ID {
		t.Errorf("each message should get a new id, both got %q", m.ID)
	}
}
