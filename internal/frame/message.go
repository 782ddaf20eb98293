// Package frame turns captured distributor datagrams into structured messages and back.
package frame

import (
	"fmt"

	"firestige.xyz/cjdnsniff/internal/cjdnshdr"
	"firestige.xyz/cjdnsniff/internal/ctrl"
)

// Content is the interpretation of a message payload. It is one of Raw,
// Benc or Control.
type Content interface {
	isContent()
}

// Raw means the payload is only available as Message.ContentBytes.
type Raw struct{}

// Benc holds a decoded DHT message: map[string]interface{}, []interface{},
// int64 or string values as produced by the bencode decoder.
type Benc struct {
	Value interface{}
}

// Control holds a decoded control message. Msg is *ctrl.Malformed when the
// payload could not be parsed.
type Control struct {
	Msg ctrl.Message
}

func (Raw) isContent()     {}
func (Benc) isContent()    {}
func (Control) isContent() {}

// Message is a fully decoded frame.
//
// ContentBytes and RawBytes alias the buffer given to Decode.
type Message struct {
	RouteHeader  cjdnshdr.RouteHeader
	DataHeader   *cjdnshdr.DataHeader // nil iff RouteHeader.IsCtrl()
	ContentBytes []byte
	RawBytes     []byte
	Content      Content
}

// ContentBenc returns the decoded DHT value, if any.
func (m *Message) ContentBenc() (interface{}, bool) {
	if b, ok := m.Content.(Benc); ok && b.Value != nil {
		return b.Value, true
	}
	return nil, false
}

// Control returns the decoded control message, if any.
func (m *Message) Control() (ctrl.Message, bool) {
	if c, ok := m.Content.(Control); ok && c.Msg != nil {
		return c.Msg, true
	}
	return nil, false
}

// ContentType is CTRL for control frames, otherwise the data header's type.
func (m *Message) ContentType() cjdnshdr.ContentType {
	if m.DataHeader == nil {
		return cjdnshdr.ContentTypeCTRL
	}
	return m.DataHeader.ContentType
}

// Kind names the payload interpretation: "raw", "benc" or "ctrl".
func (m *Message) Kind() string {
	switch m.Content.(type) {
	case Benc:
		return "benc"
	case Control:
		return "ctrl"
	default:
		return "raw"
	}
}

func (m *Message) String() string {
	return fmt.Sprintf("Message{Label=%s, Incoming=%t, ContentType=%s, Kind=%s, ContentLen=%d}",
		m.RouteHeader.SwitchHeader.LabelString(), m.RouteHeader.IsIncoming(),
		m.ContentType(), m.Kind(), len(m.ContentBytes))
}

// Error is returned when a frame cannot be decoded or encoded.
type Error struct {
	Stage string // "route header", "data header", "bencode", "encode"...
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("frame: %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
