// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package attr

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// PrefixLen is the length of randomly chosen id prefixes.
const PrefixLen = 8

// IDGen generates stanza ids made of a prefix and an increasing counter
// separated by an underscore.
// It is safe for concurrent use.
type IDGen struct {
	prefix string
	last   atomic.Uint64
}

// NewIDGen returns a generator that uses prefix.
// If prefix is empty a random one of length PrefixLen is chosen.
func NewIDGen(prefix string) *IDGen {
	if prefix == "" {
		prefix = uuid.NewString()[:PrefixLen]
	}
	return &IDGen{prefix: prefix}
}

// Prefix returns the prefix shared by all ids from g.
func (g *IDGen) Prefix() string {
	return g.prefix
}

// Next returns a new id.
func (g *IDGen) Next() string {
	return g.prefix + "_" + strconv.FormatUint(g.last.Add(1), 10)
}
