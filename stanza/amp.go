// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"
	"time"

	"github.com/sirupsen/logrus"

	"mellium.im/unison/element"
	"mellium.im/unison/internal/attr"
	"mellium.im/unison/internal/ns"
	"mellium.im/unison/xtime"
)

// AMPAction is the action taken when an advanced message processing rule is
// triggered.
type AMPAction uint8

// A list of possible AMP actions.
const (
	AMPAlert AMPAction = iota
	AMPDrop
	AMPError
	AMPNotify
	ampActionCount
)

var ampActions = [...]string{
	AMPAlert:  "alert",
	AMPDrop:   "drop",
	AMPError:  "error",
	AMPNotify: "notify",
}

// String returns the wire form of the action.
func (a AMPAction) String() string {
	return token(ampActions[:], a)
}

// AMPCondition is the condition under which a rule is triggered.
type AMPCondition uint8

// A list of possible AMP conditions.
const (
	AMPDeliver AMPCondition = iota
	AMPExpireAt
	AMPMatchResource
	ampConditionCount
)

var ampConditions = [...]string{
	AMPDeliver:       "deliver",
	AMPExpireAt:      "expire_at",
	AMPMatchResource: "match_resource",
}

// String returns the wire form of the condition.
func (c AMPCondition) String() string {
	return token(ampConditions[:], c)
}

// AMPValue is the discrete value of a deliver or match_resource rule.
type AMPValue uint8

// A list of possible AMP values.
// The first five apply to AMPDeliver and the last three to AMPMatchResource.
const (
	AMPDirect AMPValue = iota
	AMPForward
	AMPGateway
	AMPNone
	AMPStored
	AMPAny
	AMPExact
	AMPOther
	ampValueCount
)

var ampValues = [...]string{
	AMPDirect:  "direct",
	AMPForward: "forward",
	AMPGateway: "gateway",
	AMPNone:    "none",
	AMPStored:  "stored",
	AMPAny:     "any",
	AMPExact:   "exact",
	AMPOther:   "other",
}

// String returns the wire form of the value.
func (v AMPValue) String() string {
	return token(ampValues[:], v)
}

// validFor reports whether v may be used with condition c.
func (v AMPValue) validFor(c AMPCondition) bool {
	switch c {
	case AMPDeliver:
		return v <= AMPStored
	case AMPMatchResource:
		return v >= AMPAny && v < ampValueCount
	}
	return false
}

// AMPRule is a single advanced message processing rule.
// Value is only meaningful for AMPDeliver and AMPMatchResource, ExpireAt only
// for AMPExpireAt.
type AMPRule struct {
	Action    AMPAction
	Condition AMPCondition
	Value     AMPValue
	ExpireAt  time.Time
}

// NewAMPRule returns a rule that carries a discrete value.
func NewAMPRule(action AMPAction, condition AMPCondition, value AMPValue) AMPRule {
	return AMPRule{Action: action, Condition: condition, Value: value}
}

// NewAMPExpireRule returns an expire_at rule.
func NewAMPExpireRule(action AMPAction, at time.Time) AMPRule {
	return AMPRule{Action: action, Condition: AMPExpireAt, ExpireAt: at}
}

func (r AMPRule) element() element.Element {
	value := r.Value.String()
	if r.Condition == AMPExpireAt {
		value = xtime.FormatDateTime(r.ExpireAt)
	}
	return element.New(xml.Name{Local: "rule"},
		xml.Attr{Name: xml.Name{Local: "action"}, Value: r.Action.String()},
		xml.Attr{Name: xml.Name{Local: "condition"}, Value: r.Condition.String()},
		xml.Attr{Name: xml.Name{Local: "value"}, Value: value},
	)
}

// AMP is an advanced message processing block.
// A message only carries one if at least one rule is present.
type AMP struct {
	Rules []AMPRule

	// Status is only used if HasStatus is true.
	Status    AMPAction
	HasStatus bool

	From   string
	To     string
	PerHop bool
}

func (a *AMP) copyAMP() *AMP {
	if a == nil {
		return nil
	}
	c := *a
	c.Rules = append([]AMPRule(nil), a.Rules...)
	return &c
}

func (a AMP) element() element.Element {
	var attrs []xml.Attr
	attrs = attr.Append(attrs, xml.Name{Local: "from"}, a.From)
	attrs = attr.Append(attrs, xml.Name{Local: "to"}, a.To)
	if a.PerHop {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "per-hop"}, Value: "true"})
	}
	if a.HasStatus {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "status"}, Value: a.Status.String()})
	}
	el := element.New(xml.Name{Space: ns.AMP, Local: "amp"}, attrs...)
	for _, r := range a.Rules {
		el.Append(r.element())
	}
	return el
}

// decodeAMP returns the rules of an amp element that could be decoded.
// Invalid rules are logged and skipped; if none remain nil is returned and the
// block's attributes are ignored.
func decodeAMP(el element.Element, log logrus.FieldLogger) *AMP {
	var rules []AMPRule
	for _, r := range el.Children() {
		if r.Name.Local != "rule" {
			continue
		}
		rule, ok := decodeRule(r, log)
		if ok {
			rules = append(rules, rule)
		}
	}
	if len(rules) == 0 {
		return nil
	}

	a := &AMP{
		Rules:  rules,
		From:   el.Attribute("from"),
		To:     el.Attribute("to"),
		PerHop: el.Attribute("per-hop") != "",
	}
	if status, ok := lookup[AMPAction](ampActions[:], el.Attribute("status")); ok {
		a.Status = status
		a.HasStatus = true
	}
	return a
}

func decodeRule(el element.Element, log logrus.FieldLogger) (AMPRule, bool) {
	rawAction := el.Attribute("action")
	rawCondition := el.Attribute("condition")
	rawValue := el.Attribute("value")
	switch {
	case rawAction == "":
		log.Warn("stanza: amp rule missing required attribute 'action'")
		return AMPRule{}, false
	case rawCondition == "":
		log.Warn("stanza: amp rule missing required attribute 'condition'")
		return AMPRule{}, false
	case rawValue == "":
		log.Warn("stanza: amp rule missing required attribute 'value'")
		return AMPRule{}, false
	}

	action, ok := lookup[AMPAction](ampActions[:], rawAction)
	if !ok {
		log.WithField("action", rawAction).Warn("stanza: amp rule has an invalid action")
		return AMPRule{}, false
	}
	condition, ok := lookup[AMPCondition](ampConditions[:], rawCondition)
	if !ok {
		log.WithField("condition", rawCondition).Warn("stanza: amp rule has an invalid condition")
		return AMPRule{}, false
	}

	if condition == AMPExpireAt {
		at, err := xtime.ParseDateTime(rawValue)
		if err != nil {
			log.WithError(err).Warn("stanza: amp expire_at rule value must be a date time")
			return AMPRule{}, false
		}
		return NewAMPExpireRule(action, at), true
	}

	value, ok := lookup[AMPValue](ampValues[:], rawValue)
	if !ok || !value.validFor(condition) {
		log.WithFields(logrus.Fields{
			"condition": rawCondition,
			"value":     rawValue,
		}).Warn("stanza: amp rule has an invalid combination")
		return AMPRule{}, false
	}
	return NewAMPRule(action, condition, value), true
}
