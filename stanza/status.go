// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"mellium.im/unison/element"
	"mellium.im/unison/internal/ns"
	"mellium.im/unison/xtime"
)

// Show is the availability sub-state of an available presence.
type Show uint8

// A list of show values.
const (
	ShowOnline Show = iota
	ShowAway
	ShowXA
	ShowDND
	ShowChat
	ShowInvisible
	showCount
)

var shows = [...]string{
	ShowOnline:    "",
	ShowAway:      "away",
	ShowXA:        "xa",
	ShowDND:       "dnd",
	ShowChat:      "chat",
	ShowInvisible: "invisible",
}

// String returns the wire form of the show value.
func (s Show) String() string {
	return token(shows[:], s)
}

// StatusInfo is additional availability information carried in the private
// info element.
type StatusInfo uint8

// A list of status info values.
const (
	InfoNone StatusInfo = iota
	InfoAutoaway
	InfoOnPhone
	InfoInLiveRoom
	statusInfoCount
)

var statusInfos = [...]string{
	InfoNone:       "",
	InfoAutoaway:   "autoaway",
	InfoOnPhone:    "onphone",
	InfoInLiveRoom: "inliveroom",
}

// String returns the wire form of the info value.
func (i StatusInfo) String() string {
	return token(statusInfos[:], i)
}

// AvailableStatus is the combined view of show and info.
type AvailableStatus uint8

// A list of available statuses.
// The first six mirror Show, the rest mirror StatusInfo.
const (
	AvailableOnline AvailableStatus = iota
	AvailableAway
	AvailableXA
	AvailableDND
	AvailableChat
	AvailableInvisible
	AvailableAutoaway
	AvailableOnPhone
	AvailableInLiveRoom
)

// Status is the availability payload of a presence.
type Status struct {
	Show        Show
	Info        StatusInfo
	Text        string
	Priority    int
	Mobile      bool
	Stamp       time.Time
	OnPhoneWith string
}

// AvailableStatus returns the info value if one is set and the show value
// otherwise.
func (s Status) AvailableStatus() AvailableStatus {
	if s.Info != InfoNone && s.Info < statusInfoCount {
		return AvailableAutoaway + AvailableStatus(s.Info-InfoAutoaway)
	}
	return AvailableStatus(s.Show)
}

// SetAvailableStatus sets the show or info value corresponding to a.
// Setting a show based status clears any info.
func (s *Status) SetAvailableStatus(a AvailableStatus) {
	switch {
	case a >= AvailableAutoaway && a <= AvailableInLiveRoom:
		s.Info = InfoAutoaway + StatusInfo(a-AvailableAutoaway)
	case a < AvailableAutoaway:
		s.Show = Show(a)
		s.Info = InfoNone
	}
}

func decodeStatus(el element.Element, log logrus.FieldLogger) Status {
	var s Status
	if show, ok := stanzaChild(el, "show"); ok {
		if v, ok := lookup[Show](shows[:], strings.TrimSpace(show.Text())); ok {
			s.Show = v
		}
	}

	if info, ok := el.ChildNS(ns.Unison, "info"); ok {
		if v, ok := lookup[StatusInfo](statusInfos[:], strings.TrimSpace(info.Text())); ok {
			s.Info = v
		}
		s.Mobile = info.Attribute("is_mobile") == "true"
		s.OnPhoneWith = info.Attribute("to")
	}

	if status, ok := stanzaChild(el, "status"); ok {
		s.Text = status.Text()
	}

	if priority, ok := stanzaChild(el, "priority"); ok {
		raw := strings.TrimSpace(priority.Text())
		p, err := strconv.Atoi(raw)
		if err != nil {
			log.WithField("priority", raw).Warn("stanza: ignoring malformed presence priority")
		} else {
			s.Priority = p
		}
	}

	if delay, ok := el.ChildNS(ns.Delay, "delay"); ok {
		stamp, err := xtime.ParseDateTime(delay.Attribute("stamp"))
		if err != nil {
			log.WithError(err).Warn("stanza: ignoring malformed delay stamp")
		} else {
			s.Stamp = stamp
		}
	}
	return s
}

func (s Status) appendTo(el *element.Element) {
	if s.Show != ShowOnline {
		el.Append(element.NewText(xml.Name{Local: "show"}, s.Show.String()))
	}
	if s.Info != InfoNone || s.Mobile {
		info := element.NewText(xml.Name{Space: ns.Unison, Local: "info"}, s.Info.String())
		if s.Mobile {
			info.SetAttr("is_mobile", "true")
		}
		if s.OnPhoneWith != "" {
			info.SetAttr("to", s.OnPhoneWith)
		}
		el.Append(info)
	}
	if s.Text != "" {
		el.Append(element.NewText(xml.Name{Local: "status"}, s.Text))
	}
	if s.Priority != 0 {
		el.Append(element.NewText(xml.Name{Local: "priority"}, strconv.Itoa(s.Priority)))
	}
	if !s.Stamp.IsZero() {
		el.Append(element.New(xml.Name{Space: ns.Delay, Local: "delay"},
			xml.Attr{Name: xml.Name{Local: "stamp"}, Value: xtime.FormatDateTime(s.Stamp)}))
	}
}
