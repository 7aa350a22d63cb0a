// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package receipts implements XEP-0184: Message Delivery Receipts.
//
// The Tracker is an extension handler: incoming receipts are reported and
// consumed, and incoming requests are answered automatically while the
// requesting message continues on to the rest of the application.
package receipts // import "mellium.im/unison/receipts"

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"mellium.im/unison/element"
	"mellium.im/unison/internal/logging"
	"mellium.im/unison/internal/ns"
	"mellium.im/unison/stanza"
)

const (
	// NS is the XML namespace used by message delivery receipts.
	// It is provided as a convenience.
	NS = ns.Receipts

	// StatusRead marks a custom receipt as a read receipt.
	StatusRead = "read"

	// StatusDelivered marks a custom receipt as a delivery receipt.
	StatusDelivered = "delivered"
)

// Sender transmits stanzas and reports whether they were accepted by the
// connection.
type Sender interface {
	Send(s stanza.Marshaler) bool
}

// Recorder persists the delivery state of sent messages.
type Recorder interface {
	MarkDelivered(ctx context.Context, id string, read bool) error
}

// Tracker answers receipt requests and reports receipts for messages that we
// sent.
type Tracker struct {
	// Delivered is called with every incoming receipt.
	Delivered func(msg stanza.Message)

	sender   Sender
	recorder Recorder
	log      logrus.FieldLogger
}

// Option configures a Tracker.
type Option func(*Tracker)

// Record returns an option that stores incoming receipts in r.
func Record(r Recorder) Option {
	return func(t *Tracker) {
		t.recorder = r
	}
}

// Logger returns an option that sets the logger used for decoding warnings
// and recorder failures.
func Logger(l logrus.FieldLogger) Option {
	return func(t *Tracker) {
		t.log = l
	}
}

// New returns a tracker that sends receipts using s.
func New(s Sender, opts ...Option) *Tracker {
	t := &Tracker{sender: s}
	for _, o := range opts {
		o(t)
	}
	t.log = logging.OrDiscard(t.log)
	return t
}

// HandleStanza implements extension.Handler by decoding messages and passing
// them to HandleMessage.
func (t *Tracker) HandleStanza(el element.Element) bool {
	if el.Name.Local != "message" {
		return false
	}
	msg, err := stanza.DecodeMessage(el, t.log)
	if err != nil {
		return false
	}
	return t.HandleMessage(msg)
}

// HandleMessage implements extension.MessageHandler.
//
// Receipts are consumed and reported to Delivered.
// Messages that request a receipt are answered but are not consumed.
func (t *Tracker) HandleMessage(msg stanza.Message) bool {
	if msg.IsReceipt() {
		if t.recorder != nil {
			err := t.recorder.MarkDelivered(context.Background(), msg.ReceiptID, msg.ReceiptRead)
			if err != nil {
				t.log.WithError(err).WithField("id", msg.ReceiptID).Warn("receipts: failed to record receipt")
			}
		}
		if t.Delivered != nil {
			t.Delivered(msg)
		}
		return true
	}

	if msg.ReceiptRequested && msg.From != "" && msg.ID != "" {
		receipt := stanza.NewMessage("", msg.From, "")
		receipt.ReceiptID = msg.ID
		receipt.ChatHistoryID = msg.ChatHistoryID
		if !t.sender.Send(receipt) {
			t.log.WithField("id", msg.ID).Debug("receipts: not connected, receipt dropped")
		}
	}
	return false
}

// DiscoveryFeatures implements extension.Discoverer.
func (t *Tracker) DiscoveryFeatures() []string {
	return []string{NS}
}

// SendCustomReceipt sends a receipt for receiptID to the address to.
// If status is StatusRead a read receipt is sent, otherwise a delivery receipt.
//
// The connection must be established before calling SendCustomReceipt; it
// panics if the receipt could not be sent.
func (t *Tracker) SendCustomReceipt(to, receiptID, historyID, status string) {
	receipt := stanza.NewMessage("", to, "")
	receipt.ReceiptID = receiptID
	receipt.ChatHistoryID = historyID
	receipt.ReceiptRead = status == StatusRead
	if !t.sender.Send(receipt) {
		panic(fmt.Sprintf("receipts: failed to send receipt for %q to %q", receiptID, to))
	}
}
