// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xtime

import (
	"time"

	"mellium.im/unison/element"
)

// Sender is the subset of a client used to reply to requests.
type Sender interface {
	SendElement(el element.Element) bool
}

// Handler responds to requests for our time.
// If TimeFunc is nil, time.Now is used.
type Handler struct {
	TimeFunc func() time.Time
	Sender   Sender
}

// HandleStanza answers entity time requests and ignores anything else.
func (h *Handler) HandleStanza(el element.Element) bool {
	if !IsRequest(el) {
		return false
	}
	now := time.Now
	if h.TimeFunc != nil {
		now = h.TimeFunc
	}
	h.Sender.SendElement(Response(el, now()))
	return true
}

// DiscoveryFeatures returns the entity time namespace.
func (h *Handler) DiscoveryFeatures() []string {
	return []string{NS}
}
