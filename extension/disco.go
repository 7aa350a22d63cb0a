// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package extension

import (
	"crypto/sha1"
	"encoding/xml"
	"sort"

	"mellium.im/unison/element"
	"mellium.im/unison/internal/attr"
	"mellium.im/unison/internal/ns"
)

// Sender transmits raw elements.
type Sender interface {
	SendElement(el element.Element) bool
}

// Advertiser is implemented by handlers that compute an entity capabilities
// advertisement to stamp on outgoing presence.
type Advertiser interface {
	Capabilities() (hash, node string, ver []byte)
}

// Identity is a service discovery identity.
type Identity struct {
	Category string
	Type     string
	Lang     string
	Name     string
}

// Disco answers service discovery info queries with the features advertised by
// Source and computes the matching capabilities hash.
// Source is normally the Registry (or client) that Disco itself is added to.
type Disco struct {
	Identity Identity
	Node     string
	Source   Discoverer
	Sender   Sender
}

// Features returns the sorted, de-duplicated feature list of the entity.
func (d *Disco) Features() []string {
	var features []string
	if d.Source != nil {
		features = d.Source.DiscoveryFeatures()
	}
	seen := make(map[string]struct{}, len(features))
	out := make([]string, 0, len(features))
	for _, f := range features {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// DiscoveryFeatures implements Discoverer.
func (d *Disco) DiscoveryFeatures() []string {
	return []string{ns.DiscoInfo, ns.Caps}
}

// Capabilities implements Advertiser using the sha-1 verification string
// from XEP-0115.
func (d *Disco) Capabilities() (hash, node string, ver []byte) {
	h := sha1.New()
	/* #nosec */
	h.Write([]byte(d.Identity.Category + "/" + d.Identity.Type + "/" + d.Identity.Lang + "/" + d.Identity.Name + "<"))
	for _, f := range d.Features() {
		/* #nosec */
		h.Write([]byte(f + "<"))
	}
	return "sha-1", d.Node, h.Sum(nil)
}

// HandleStanza answers info queries addressed to us.
// All other stanzas are left for the next handler.
func (d *Disco) HandleStanza(el element.Element) bool {
	if el.Name.Local != "iq" || el.Attribute("type") != "get" {
		return false
	}
	query, ok := el.ChildNS(ns.DiscoInfo, "query")
	if !ok {
		return false
	}

	iq := element.New(xml.Name{Space: el.Name.Space, Local: "iq"},
		xml.Attr{Name: xml.Name{Local: "type"}, Value: "result"},
	)
	iq.Attr = attr.Append(iq.Attr, xml.Name{Local: "to"}, el.Attribute("from"))
	iq.SetAttr("id", el.Attribute("id"))

	result := element.New(xml.Name{Space: ns.DiscoInfo, Local: "query"})
	result.Attr = attr.Append(result.Attr, xml.Name{Local: "node"}, query.Attribute("node"))
	identity := element.New(xml.Name{Local: "identity"},
		xml.Attr{Name: xml.Name{Local: "category"}, Value: d.Identity.Category},
		xml.Attr{Name: xml.Name{Local: "type"}, Value: d.Identity.Type},
	)
	identity.Attr = attr.Append(identity.Attr, xml.Name{Space: ns.XML, Local: "lang"}, d.Identity.Lang)
	identity.Attr = attr.Append(identity.Attr, xml.Name{Local: "name"}, d.Identity.Name)
	result.Append(identity)
	for _, f := range d.Features() {
		result.Append(element.New(xml.Name{Local: "feature"}, xml.Attr{Name: xml.Name{Local: "var"}, Value: f}))
	}
	iq.Append(result)

	if d.Sender != nil {
		d.Sender.SendElement(iq)
	}
	return true
}
