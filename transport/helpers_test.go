// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package transport_test

import (
	"encoding/xml"
)

func xmlName(local string) xml.Name {
	return xml.Name{Space: "jabber:client", Local: local}
}
