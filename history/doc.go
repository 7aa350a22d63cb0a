// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package history implements a local delivery log of sent messages.
//
// Each sent message is recorded by id together with its chat history id, and
// its status is advanced as delivery and read receipts arrive.
// The log is stored in an SQLite database.
package history // import "mellium.im/unison/history"
