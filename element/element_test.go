// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package element_test

import (
	"encoding/xml"
	"strconv"
	"testing"

	"mellium.im/xmlstream"

	"mellium.im/unison/element"
)

var (
	_ xml.Marshaler       = element.Element{}
	_ xml.Unmarshaler     = (*element.Element)(nil)
	_ xmlstream.Marshaler = element.Element{}
	_ xmlstream.WriterTo  = element.Element{}
	_ element.Node        = element.Element{}
	_ element.Node        = element.CharData("")
)

var roundTripTests = [...]struct {
	in  string
	out string
}{
	0: {
		in:  `<message xmlns="jabber:client" to="a@example.net"><body>hi</body></message>`,
		out: `<message xmlns="jabber:client" to="a@example.net"><body>hi</body></message>`,
	},
	1: {
		in:  `<message xmlns="jabber:client"><x xmlns="jabber:x:conference" jid="room@conf.example.net"/></message>`,
		out: `<message xmlns="jabber:client"><x xmlns="jabber:x:conference" jid="room@conf.example.net"></x></message>`,
	},
	2: {
		in:  `<presence xml:lang="en"><status>a &amp; b</status></presence>`,
		out: `<presence xml:lang="en"><status>a &amp; b</status></presence>`,
	},
	3: {
		in:  `<html xmlns="http://jabber.org/protocol/xhtml-im"><body xmlns="http://www.w3.org/1999/xhtml"><p>Hi <b>there</b>!</p></body></html>`,
		out: `<html xmlns="http://jabber.org/protocol/xhtml-im"><body xmlns="http://www.w3.org/1999/xhtml"><p>Hi <b>there</b>!</p></body></html>`,
	},
}

func TestRoundTrip(t *testing.T) {
	for i, tc := range roundTripTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			el, err := element.Parse(tc.in)
			if err != nil {
				t.Fatalf("error parsing: %v", err)
			}
			if out := el.String(); out != tc.out {
				t.Errorf("wrong output:\nwant=%s,\n got=%s", tc.out, out)
			}
			b, err := xml.Marshal(el)
			if err != nil {
				t.Fatalf("error marshaling: %v", err)
			}
			if out := string(b); out != tc.out {
				t.Errorf("wrong marshal output:\nwant=%s,\n got=%s", tc.out, out)
			}
		})
	}
}

func TestMissingEndTolerated(t *testing.T) {
	r := xmlstream.MultiReader(
		xmlstream.Token(xml.StartElement{Name: xml.Name{Local: "iq"}, Attr: []xml.Attr{{Name: xml.Name{Local: "id"}, Value: "123"}}}),
		xmlstream.Token(xml.StartElement{Name: xml.Name{Space: "urn:xmpp:ping", Local: "ping"}}),
		xmlstream.Token(xml.EndElement{Name: xml.Name{Space: "urn:xmpp:ping", Local: "ping"}}),
	)
	el, err := element.Decode(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id := el.Attribute("id"); id != "123" {
		t.Errorf("wrong id: want=%q, got=%q", "123", id)
	}
	if _, ok := el.ChildNS("urn:xmpp:ping", "ping"); !ok {
		t.Errorf("expected ping child in %s", el)
	}
}

func TestDecodeEmpty(t *testing.T) {
	_, err := element.Decode(xmlstream.Token(xml.CharData("  ")))
	if err == nil {
		t.Errorf("expected an error when no start element is present")
	}
}

func TestAccessors(t *testing.T) {
	el, err := element.Parse(`<message xmlns="jabber:client">text<body>one</body><body xmlns="urn:example">two</body>more</message>`)
	if err != nil {
		t.Fatalf("error parsing: %v", err)
	}
	if txt := el.Text(); txt != "textmore" {
		t.Errorf("wrong text: want=%q, got=%q", "textmore", txt)
	}
	if n := len(el.Children()); n != 2 {
		t.Errorf("wrong number of children: want=2, got=%d", n)
	}
	body, ok := el.Child("body")
	if !ok || body.Text() != "one" {
		t.Errorf("wrong first body: %v %s", ok, body)
	}
	body, ok = el.ChildNS("urn:example", "body")
	if !ok || body.Text() != "two" {
		t.Errorf("wrong namespaced body: %v %s", ok, body)
	}
	if _, ok := el.Child("subject"); ok {
		t.Errorf("did not expect a subject child")
	}
}

func TestCopyIsDeep(t *testing.T) {
	el, err := element.Parse(`<a x="1"><b>c</b></a>`)
	if err != nil {
		t.Fatalf("error parsing: %v", err)
	}
	c := el.Copy()
	c.SetAttr("x", "2")
	c.Nodes[0] = element.CharData("replaced")
	if v := el.Attribute("x"); v != "1" {
		t.Errorf("original attribute changed: got=%q", v)
	}
	if _, ok := el.Child("b"); !ok {
		t.Errorf("original children changed: %s", el)
	}
}

func TestAppendAndSetAttr(t *testing.T) {
	el := element.New(xml.Name{Local: "presence"})
	el.SetAttr("id", "1")
	el.SetAttr("id", "2")
	el.Append(element.Element{}, element.NewText(xml.Name{Local: "status"}, "away"), element.CharData(""))
	const want = `<presence id="2"><status>away</status></presence>`
	if out := el.String(); out != want {
		t.Errorf("wrong output:\nwant=%s,\n got=%s", want, out)
	}
}

func TestInnerXML(t *testing.T) {
	const inner = `<p>Hi <b>there</b>!</p>`
	name := xml.Name{Space: "http://www.w3.org/1999/xhtml", Local: "body"}
	body, err := element.ParseInner(name, inner)
	if err != nil {
		t.Fatalf("error parsing inner XML: %v", err)
	}
	if out := body.InnerXML(); out != inner {
		t.Errorf("wrong inner XML:\nwant=%s,\n got=%s", inner, out)
	}
	p, ok := body.ChildNS(name.Space, "p")
	if !ok {
		t.Fatalf("expected p to inherit the body namespace: %s", body)
	}
	if txt := p.Text(); txt != "Hi !" {
		t.Errorf("wrong text: want=%q, got=%q", "Hi !", txt)
	}
}

var innerTextTests = [...]string{
	0: `He said "hi" &amp; 1 > 0`,
	1: `<p class="x">'quoted' &lt;tag> <em>"a" > b</em></p>`,
	2: `a ]]&gt; b`,
}

func TestInnerXMLText(t *testing.T) {
	name := xml.Name{Space: "http://www.w3.org/1999/xhtml", Local: "body"}
	for i, tc := range innerTextTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			body, err := element.ParseInner(name, tc)
			if err != nil {
				t.Fatalf("error parsing inner XML: %v", err)
			}
			if out := body.InnerXML(); out != tc {
				t.Errorf("wrong inner XML:\nwant=%s,\n got=%s", tc, out)
			}
		})
	}
}

func TestUnmarshal(t *testing.T) {
	var el element.Element
	err := xml.Unmarshal([]byte(`<iq type="get" id="1"><time xmlns="urn:xmpp:time"/></iq>`), &el)
	if err != nil {
		t.Fatalf("error unmarshaling: %v", err)
	}
	if el.Name.Local != "iq" || el.Attribute("type") != "get" {
		t.Errorf("wrong element: %s", el)
	}
	if _, ok := el.ChildNS("urn:xmpp:time", "time"); !ok {
		t.Errorf("missing time child: %s", el)
	}
}
