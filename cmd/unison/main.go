// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// The unison command connects to an XMPP server, prints incoming messages, and
// sends messages typed at the prompt.
//
// Sent messages request delivery receipts and, if a history database is
// configured, their delivery status is kept in it.
//
// For more information try running:
//
//     unison -help
//
// and typing "help" at the prompt.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"mellium.im/unison"
	"mellium.im/unison/config"
	"mellium.im/unison/extension"
	"mellium.im/unison/history"
	"mellium.im/unison/internal/logging"
	"mellium.im/unison/internal/loop"
	"mellium.im/unison/receipts"
	"mellium.im/unison/stanza"
	"mellium.im/unison/transport"
)

const (
	prompt   = "> "
	capsNode = "https://mellium.im/unison"
)

func main() {
	var (
		configPath string
		envFile    = ".env"
		genConfig  bool
	)
	flags := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), "Usage of %s:\n", flags.Name())
		prefix := strings.ToUpper(config.EnvPrefix)
		fmt.Fprintf(flags.Output(), "\n  Any option in the config file may be overridden by an environment variable\n  prefixed with $%s_, eg. $%s_JID or $%s_LOG_LEVEL.\n\n", prefix, prefix, prefix)
		flags.PrintDefaults()
	}
	flags.StringVar(&configPath, "f", configPath, "the config file to load")
	flags.StringVar(&envFile, "env", envFile, "a file of environment variables to load")
	flags.BoolVar(&genConfig, "config", genConfig, "print a default config file to stdout")

	switch err := flags.Parse(os.Args[1:]); err {
	case flag.ErrHelp:
		return
	case nil:
	default:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if genConfig {
		if err := config.Encode(os.Stdout, config.Default()); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding default config as TOML: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\nTry running '%s -config' to generate a default config file.\n", err, os.Args[0])
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.JSON)

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal(err)
	}
}

func run(cfg config.Config, logger *logrus.Logger) error {
	var store *history.Store
	if cfg.HistoryDB != "" {
		var err error
		store, err = history.Open(cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.WithError(err).Warn("error closing history database")
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	l := loop.New()
	defer l.Close()
	tr := transport.New(l, logger.WithField("component", "transport"))
	ui := &repl{out: os.Stdout, log: logger, store: store, now: time.Now}
	client := unison.New(tr, l,
		unison.WithLogger(logger.WithField("component", "client")),
		unison.WithHandlers(unison.Handlers{
			Message:      ui.message,
			StateChanged: ui.stateChanged,
			Error: func(kind unison.ErrorKind, err error) {
				if kind == unison.AuthError || kind == unison.ConflictError {
					ui.printf("Connection failed (%s): %v", kind, err)
				}
			},
		}),
	)
	tr.Bind(client)
	ui.client = client

	opts := []receipts.Option{receipts.Logger(logger.WithField("component", "receipts"))}
	if store != nil {
		opts = append(opts, receipts.Record(store))
	}
	tracker := receipts.New(client, opts...)
	tracker.Delivered = ui.delivered
	ui.tracker = tracker
	client.AddExtension(tracker)
	client.AddExtension(&extension.Disco{
		Identity: extension.Identity{Category: "client", Type: "console", Name: "unison"},
		Node:     capsNode,
		Source:   client,
		Sender:   client,
	})

	initial := stanza.Presence{}
	initial.Status.Priority = 1
	l.Post(func() {
		client.Connect(cfg.Client(), initial)
	})

	go ui.readInput(ctx, l, cancel)

	err := l.Run(ctx)

	// Give the client a chance to log out cleanly before exiting.
	shutdown, stop := context.WithTimeout(context.Background(), transport.SendTimeout)
	defer stop()
	l.Post(func() {
		if client.State() == unison.Disconnected {
			stop()
			return
		}
		ui.stopped = stop
		client.Disconnect()
	})
	/* #nosec */
	l.Run(shutdown)
	return err
}
