// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mellium.im/unison"
	"mellium.im/unison/history"
	"mellium.im/unison/receipts"
	"mellium.im/unison/stanza"
)

const helpText = `Enter a JID, a colon, and a message to send. eg. me@example.net: Test message
Other commands:
  /status <online|away|xa|dnd|chat> [text]  change our presence
  /read <jid> <id>                          send a read receipt
  /time                                     print the server time
  /pending                                  list messages without a receipt
  /quit                                     log out and exit`

var shows = map[string]stanza.Show{
	"online": stanza.ShowOnline,
	"away":   stanza.ShowAway,
	"xa":     stanza.ShowXA,
	"dnd":    stanza.ShowDND,
	"chat":   stanza.ShowChat,
}

// repl is the terminal front end.
// Apart from readInput all of its methods run on the client loop.
type repl struct {
	out     io.Writer
	log     logrus.FieldLogger
	store   *history.Store
	client  *unison.Client
	tracker *receipts.Tracker
	now     func() time.Time

	// stopped is called once the client disconnects during shutdown.
	stopped func()

	outM sync.Mutex
}

func (r *repl) printf(format string, v ...interface{}) {
	r.outM.Lock()
	defer r.outM.Unlock()
	fmt.Fprintf(r.out, "\n"+format+"\n"+prompt, v...)
}

func (r *repl) message(m stanza.Message) {
	if m.Body == "" {
		return
	}
	if m.Subject != "" {
		r.printf("From %s: [%s] %s", m.From, m.Subject, m.Body)
		return
	}
	r.printf("From %s: %q", m.From, m.Body)
}

func (r *repl) delivered(m stanza.Message) {
	status := receipts.StatusDelivered
	if m.ReceiptRead {
		status = receipts.StatusRead
	}
	r.printf("Message %s %s by %s", m.ReceiptID, status, m.From)
}

func (r *repl) stateChanged(s unison.State) {
	r.printf("Status: %s", s)
	if s == unison.Disconnected && r.stopped != nil {
		r.stopped()
	}
}

// readInput posts each line read from stdin to the loop until stdin is closed,
// ctx is canceled, or the user quits.
func (r *repl) readInput(ctx context.Context, l interface{ Post(func()) }, quit context.CancelFunc) {
	r.printf("%s", helpText)
	userInput := bufio.NewScanner(os.Stdin)
	for userInput.Scan() {
		line := strings.TrimSpace(userInput.Text())
		if line == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		l.Post(func() {
			if r.exec(line) {
				quit()
			}
		})
	}
	if err := userInput.Err(); err != nil {
		r.log.WithError(err).Error("error reading user input")
	}
	quit()
}

// exec runs a single command and reports whether the user asked to quit.
func (r *repl) exec(line string) (quit bool) {
	if !strings.HasPrefix(line, "/") {
		if line == "help" {
			r.printf("%s", helpText)
			return false
		}
		r.send(line)
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return true
	case "/status":
		r.setStatus(fields[1:], line)
	case "/read":
		if len(fields) != 3 {
			r.printf("Usage: /read <jid> <id>")
			return false
		}
		if !r.client.IsConnected() {
			r.printf("Not connected")
			return false
		}
		r.tracker.SendCustomReceipt(fields[1], fields[2], "", receipts.StatusRead)
	case "/time":
		r.printf("Server time: %s", r.client.CurrentServerTime().Format(time.RFC3339))
	case "/pending":
		r.pending()
	default:
		r.printf("%s", helpText)
	}
	return false
}

func (r *repl) send(line string) {
	idx := strings.IndexByte(line, ':')
	if idx == -1 {
		r.printf("%s", helpText)
		return
	}
	to := strings.TrimSpace(line[:idx])
	body := strings.TrimSpace(line[idx+1:])
	if to == "" || body == "" {
		r.printf("%s", helpText)
		return
	}
	if !r.client.IsConnected() {
		r.printf("Not connected, message not sent")
		return
	}

	m := r.client.NewChatMessage(to, body, "", nil, "")
	if !r.client.Send(m) {
		r.printf("Message %s could not be sent", m.ID)
		return
	}
	if r.store == nil {
		return
	}
	err := r.store.RecordSent(context.Background(), history.FromMessage(m, r.now()))
	if err != nil {
		r.log.WithError(err).WithField("id", m.ID).Warn("error recording sent message")
	}
}

func (r *repl) setStatus(args []string, line string) {
	if len(args) == 0 {
		r.printf("Usage: /status <online|away|xa|dnd|chat> [text]")
		return
	}
	show, ok := shows[args[0]]
	if !ok {
		r.printf("Unknown status %q", args[0])
		return
	}
	p := r.client.ClientPresence()
	p.Type = stanza.AvailablePresence
	p.Status.Show = show
	p.Status.Text = ""
	if len(args) > 1 {
		// Keep the original spacing of the status text.
		rest := strings.TrimSpace(strings.TrimPrefix(line, "/status"))
		p.Status.Text = strings.TrimSpace(strings.TrimPrefix(rest, args[0]))
	}
	r.client.SetClientPresence(p)
}

func (r *repl) pending() {
	if r.store == nil {
		r.printf("No history database configured")
		return
	}
	entries, err := r.store.Undelivered(context.Background())
	if err != nil {
		r.log.WithError(err).Warn("error listing undelivered messages")
		return
	}
	if len(entries) == 0 {
		r.printf("All messages delivered")
		return
	}
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s %s to %s: %q", e.Sent.Local().Format(time.Stamp), e.ID, e.To, e.Body)
	}
	r.printf("%s", b.String())
}
