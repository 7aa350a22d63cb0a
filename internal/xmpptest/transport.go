// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package xmpptest provides fakes and table helpers for testing the client and
// its stanza codecs.
package xmpptest // import "mellium.im/unison/internal/xmpptest"

import (
	"time"

	"mellium.im/unison"
	"mellium.im/unison/element"
)

// Transport is a unison.Transport that records what the client asks of it.
// Events are never delivered automatically; tests call the client's Handle
// methods to simulate the connection.
type Transport struct {
	Configs     []unison.Config
	Disconnects int
	Sent        []element.Element

	// Down makes Send report failure without recording the element.
	Down bool
}

// Connect records cfg.
func (t *Transport) Connect(cfg unison.Config) {
	t.Configs = append(t.Configs, cfg)
}

// Disconnect counts the call.
func (t *Transport) Disconnect() {
	t.Disconnects++
}

// Send records el unless the transport is down.
func (t *Transport) Send(el element.Element) bool {
	if t.Down {
		return false
	}
	t.Sent = append(t.Sent, el)
	return true
}

// SentStrings returns the encoded form of every element sent.
func (t *Transport) SentStrings() []string {
	out := make([]string, 0, len(t.Sent))
	for _, el := range t.Sent {
		out = append(out, el.String())
	}
	return out
}

// Reset forgets everything recorded so far.
func (t *Transport) Reset() {
	t.Configs = nil
	t.Disconnects = 0
	t.Sent = nil
}

// Scheduled is a call recorded by Timer.
type Scheduled struct {
	Delay    time.Duration
	Canceled bool
	Fired    bool

	f func()
}

// Fire runs the scheduled function unless it was canceled or already fired.
// It reports whether the function ran.
func (s *Scheduled) Fire() bool {
	if s.Canceled || s.Fired {
		return false
	}
	s.Fired = true
	s.f()
	return true
}

// Timer is a unison.Timer that only runs functions when a test fires them.
type Timer struct {
	Scheduled []*Scheduled
}

// Schedule records f.
func (t *Timer) Schedule(d time.Duration, f func()) func() {
	s := &Scheduled{Delay: d, f: f}
	t.Scheduled = append(t.Scheduled, s)
	return func() {
		s.Canceled = true
	}
}

// Pending returns the calls that have neither fired nor been canceled.
func (t *Timer) Pending() []*Scheduled {
	var out []*Scheduled
	for _, s := range t.Scheduled {
		if !s.Canceled && !s.Fired {
			out = append(out, s)
		}
	}
	return out
}

// Last returns the most recently scheduled call or nil.
func (t *Timer) Last() *Scheduled {
	if len(t.Scheduled) == 0 {
		return nil
	}
	return t.Scheduled[len(t.Scheduled)-1]
}
