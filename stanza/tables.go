// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"fmt"
)

// enum is implemented by the small integer types used for wire tokens.
type enum interface {
	~uint8
}

// token returns the wire form of v or an empty string if v is out of range.
func token[T enum](table []string, v T) string {
	if int(v) < len(table) {
		return table[v]
	}
	return ""
}

// lookup returns the value whose wire form is s.
func lookup[T enum](table []string, s string) (T, bool) {
	for i, name := range table {
		if name == s {
			return T(i), true
		}
	}
	return 0, false
}

// mustCover panics if a wire table does not have exactly one entry per value.
func mustCover(kind string, table []string, count int) {
	if len(table) != count {
		panic(fmt.Sprintf("stanza: %s table has %d entries for %d values", kind, len(table), count))
	}
}

func init() {
	mustCover("message type", messageTypes[:], int(messageTypeCount))
	mustCover("chat state", chatStates[:], int(chatStateCount))
	mustCover("amp action", ampActions[:], int(ampActionCount))
	mustCover("amp condition", ampConditions[:], int(ampConditionCount))
	mustCover("amp value", ampValues[:], int(ampValueCount))
	mustCover("presence type", presenceTypes[:], int(presenceTypeCount))
	mustCover("show", shows[:], int(showCount))
	mustCover("status info", statusInfos[:], int(statusInfoCount))
}
