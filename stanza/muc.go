// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"mellium.im/unison/element"
	"mellium.im/unison/internal/attr"
)

// MUCItem describes an occupant of a multi-user chat room as carried in the
// muc#user payload of a presence.
type MUCItem struct {
	Affiliation string
	Role        string
	JID         string
	Nick        string
	Actor       string
	Reason      string
}

// IsZero reports whether no field of the item is set.
func (i MUCItem) IsZero() bool {
	return i == MUCItem{}
}

func decodeMUCItem(el element.Element) MUCItem {
	item := MUCItem{
		Affiliation: el.Attribute("affiliation"),
		Role:        el.Attribute("role"),
		JID:         el.Attribute("jid"),
		Nick:        el.Attribute("nick"),
	}
	if actor, ok := el.Child("actor"); ok {
		item.Actor = actor.Attribute("jid")
	}
	if reason, ok := el.Child("reason"); ok {
		item.Reason = reason.Text()
	}
	return item
}

func (i MUCItem) element() element.Element {
	var attrs []xml.Attr
	attrs = attr.Append(attrs, xml.Name{Local: "affiliation"}, i.Affiliation)
	attrs = attr.Append(attrs, xml.Name{Local: "jid"}, i.JID)
	attrs = attr.Append(attrs, xml.Name{Local: "nick"}, i.Nick)
	attrs = attr.Append(attrs, xml.Name{Local: "role"}, i.Role)
	el := element.New(xml.Name{Local: "item"}, attrs...)
	if i.Actor != "" {
		el.Append(element.New(xml.Name{Local: "actor"}, xml.Attr{Name: xml.Name{Local: "jid"}, Value: i.Actor}))
	}
	if i.Reason != "" {
		el.Append(element.NewText(xml.Name{Local: "reason"}, i.Reason))
	}
	return el
}
