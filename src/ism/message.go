package ism

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/mosaicnetworks/sitesync/src/site"
)

// Element is the name of the root element of a message.
const Element = "message"

// Message is a parsed Inter-Site Message.
type Message struct {
	Origin     int
	Seq        int64
	Prev       int64
	Visibility site.Visibility
	// Dest is the only site a private message is delivered to. Public
	// messages carry site.InvalidSiteID.
	Dest int
	Body string
	// Raw is the exact XML the message was parsed from. Relays forward Raw
	// rather than re-encoding.
	Raw string
}

type xmlMessage struct {
	XMLName    xml.Name `xml:"message"`
	Origin     int      `xml:"origin,attr"`
	Seq        int64    `xml:"seq,attr"`
	Prev       *int64   `xml:"prev,attr"`
	Visibility string   `xml:"visibility,attr,omitempty"`
	Dest       *int     `xml:"dest,attr"`
	Body       string   `xml:",innerxml"`
}

// New builds a message and its canonical XML.
func New(origin int, seq, prev int64, vis site.Visibility, dest int, body string) (Message, error) {
	if vis == site.Public {
		dest = site.InvalidSiteID
	}
	m := Message{
		Origin:     origin,
		Seq:        seq,
		Prev:       prev,
		Visibility: vis,
		Dest:       dest,
		Body:       body,
	}
	raw, err := m.XML()
	if err != nil {
		return Message{}, err
	}
	m.Raw = raw
	return m, nil
}

// Parse decodes a single message. Any XML prolog before the message element
// is ignored.
func Parse(doc string) (Message, error) {
	frag, err := DropHeader(doc, Element)
	if err != nil {
		return Message{}, err
	}

	var xm xmlMessage
	if err := xml.NewDecoder(strings.NewReader(frag)).Decode(&xm); err != nil {
		return Message{}, fmt.Errorf("parse message: %w", err)
	}

	vis, err := site.ParseVisibility(xm.Visibility)
	if err != nil {
		return Message{}, fmt.Errorf("parse message: %w", err)
	}

	prev := site.InvalidSeqNum
	if xm.Prev != nil {
		prev = *xm.Prev
	}

	if xm.Seq <= prev {
		return Message{}, fmt.Errorf("parse message: seq %d not after prev %d", xm.Seq, prev)
	}

	dest := site.InvalidSiteID
	if xm.Dest != nil {
		dest = *xm.Dest
	}
	if vis == site.Private && dest < 0 {
		return Message{}, fmt.Errorf("parse message: private message without dest")
	}
	if vis == site.Public {
		dest = site.InvalidSiteID
	}

	return Message{
		Origin:     xm.Origin,
		Seq:        xm.Seq,
		Prev:       prev,
		Visibility: vis,
		Dest:       dest,
		Body:       xm.Body,
		Raw:        frag,
	}, nil
}

// XML returns the canonical encoding of the message.
func (m Message) XML() (string, error) {
	prev := m.Prev
	xm := xmlMessage{
		Origin:     m.Origin,
		Seq:        m.Seq,
		Prev:       &prev,
		Visibility: m.Visibility.String(),
		Body:       m.Body,
	}
	if m.Visibility == site.Private {
		if m.Dest < 0 {
			return "", fmt.Errorf("private message without dest")
		}
		dest := m.Dest
		xm.Dest = &dest
	}
	b, err := xml.Marshal(xm)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Size is the number of bytes the message occupies on the wire.
func (m Message) Size() int {
	return len(m.Raw)
}

// DeliverableTo reports whether the message may be handed to the given site.
func (m Message) DeliverableTo(siteID int) bool {
	return m.Visibility == site.Public || m.Dest == siteID
}

// String ...
func (m Message) String() string {
	return fmt.Sprintf("%s ism %d/%d", m.Visibility, m.Origin, m.Seq)
}

// ParseAll parses every message of a batch, stopping at the first error.
func ParseAll(docs []string) ([]Message, error) {
	res := make([]Message, 0, len(docs))
	for i, d := range docs {
		m, err := Parse(d)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		res = append(res, m)
	}
	return res, nil
}
