// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package extension implements an ordered registry of stanza handlers.
//
// Incoming stanzas are offered to each registered handler in the order the
// handlers were added.
// The first handler that reports the stanza as handled ends dispatch, and the
// stanza is not processed any further by the client.
package extension // import "mellium.im/unison/extension"

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"mellium.im/unison/element"
	"mellium.im/unison/internal/logging"
	"mellium.im/unison/stanza"
)

// Handler is offered every incoming stanza before it is decoded.
//
// Handlers are compared by equality when they are added or removed so they
// should normally be pointers.
type Handler interface {
	HandleStanza(el element.Element) (handled bool)
}

// MessageHandler is implemented by handlers that work with decoded messages.
// When a message has already been decoded it is offered to HandleMessage
// instead of HandleStanza.
type MessageHandler interface {
	Handler
	HandleMessage(msg stanza.Message) (handled bool)
}

// Discoverer is implemented by handlers that advertise service discovery
// features.
type Discoverer interface {
	DiscoveryFeatures() []string
}

// Registry is an ordered list of handlers.
// The zero value is an empty registry that discards log output.
//
// A Registry is not safe for concurrent use; it is expected to be driven from
// the same loop as the client that owns it.
type Registry struct {
	handlers []Handler
	log      logrus.FieldLogger
}

// New returns an empty registry that logs contract violations to log.
func New(log logrus.FieldLogger) *Registry {
	return &Registry{log: logging.OrDiscard(log)}
}

func (r *Registry) logger() logrus.FieldLogger {
	return logging.OrDiscard(r.log)
}

func (r *Registry) index(h Handler) int {
	for i, registered := range r.handlers {
		if registered == h {
			return i
		}
	}
	return -1
}

// Add appends h to the end of the registry.
// If h is already registered Add does nothing and returns false.
func (r *Registry) Add(h Handler) bool {
	if r.index(h) >= 0 {
		r.logger().WithField("handler", fmt.Sprintf("%T", h)).Warn("extension: handler already registered")
		return false
	}
	r.handlers = append(r.handlers, h)
	return true
}

// Remove unregisters h.
// If h was not registered Remove returns false.
func (r *Registry) Remove(h Handler) bool {
	i := r.index(h)
	if i < 0 {
		r.logger().WithField("handler", fmt.Sprintf("%T", h)).Warn("extension: removing unregistered handler")
		return false
	}
	r.handlers = append(r.handlers[:i:i], r.handlers[i+1:]...)
	return true
}

// Handlers returns the registered handlers in dispatch order.
func (r *Registry) Handlers() []Handler {
	return append([]Handler(nil), r.handlers...)
}

// Dispatch offers el to each handler in order and reports whether one of them
// handled it.
func (r *Registry) Dispatch(el element.Element) bool {
	for _, h := range r.handlers {
		if h.HandleStanza(el) {
			return true
		}
	}
	return false
}

// DispatchMessage is like Dispatch for a message that was decoded from el.
// Each MessageHandler receives its own copy of msg.
func (r *Registry) DispatchMessage(el element.Element, msg stanza.Message) bool {
	for _, h := range r.handlers {
		if mh, ok := h.(MessageHandler); ok {
			if mh.HandleMessage(msg.Copy()) {
				return true
			}
			continue
		}
		if h.HandleStanza(el) {
			return true
		}
	}
	return false
}

// DiscoveryFeatures returns the features advertised by all handlers in
// registration order.
func (r *Registry) DiscoveryFeatures() []string {
	var features []string
	for _, h := range r.handlers {
		if d, ok := h.(Discoverer); ok {
			features = append(features, d.DiscoveryFeatures()...)
		}
	}
	return features
}
