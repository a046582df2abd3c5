package protocol

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Kind tells whether a Message is a request or a response.
type Kind uint8

const (
	KindRequest Kind = iota
	KindResponse
)

// Payload is an opaque, typed byte blob. TypeID is an application tag and is only
// meaningful when Data is non-empty.
type Payload struct {
	TypeID uint32
	Data   []byte
}

// NewPayload returns a payload with the given type id and data.
func NewPayload(typeID uint32, data []byte) *Payload {
	return &Payload{TypeID: typeID, Data: data}
}

// Empty reports whether the payload transmits nothing on the wire.
func (p *Payload) Empty() bool {
	return p == nil || len(p.Data) == 0
}

// Message is a single request or response. Messages are treated as immutable once built.
//
// Requests carry Op, Key and an optional Payload. Responses carry Op, a non-zero Code,
// an optional Payload, and optionally the Key (a Get miss echoes the requested key).
type Message struct {
	Kind    Kind
	Op      Op
	Code    Code
	Key     []byte
	Payload *Payload
}

// NewRequest builds a request message.
func NewRequest(op Op, key []byte, payload *Payload) Message {
	return Message{Kind: KindRequest, Op: op, Code: CodeRequest, Key: key, Payload: payload}
}

// NewResponse builds a response message. A zero code is promoted to CodeOK, since
// zero is reserved for requests.
func NewResponse(op Op, code Code, payload *Payload) Message {
	if code == CodeRequest {
		code = CodeOK
	}
	return Message{Kind: KindResponse, Op: op, Code: code, Payload: payload}
}

// WithKey returns a copy of m carrying key.
func (m Message) WithKey(key []byte) Message {
	m.Key = key
	return m
}

func (m Message) IsRequest() bool {
	return m.Kind == KindRequest
}

func (m Message) IsResponse() bool {
	return m.Kind == KindResponse
}

// HasPayload reports whether the message carries a non-empty payload.
func (m Message) HasPayload() bool {
	return !m.Payload.Empty()
}

// TypeID returns the payload type id, or zero without a payload.
func (m Message) TypeID() uint32 {
	if m.Payload.Empty() {
		return 0
	}
	return m.Payload.TypeID
}

// Data returns the payload bytes, or nil without a payload.
func (m Message) Data() []byte {
	if m.Payload == nil {
		return nil
	}
	return m.Payload.Data
}

// Equal reports whether two messages encode to the same frame.
// Empty payloads compare equal to absent payloads.
func (m Message) Equal(o Message) bool {
	if m.Kind != o.Kind || m.Op != o.Op || m.Code != o.Code {
		return false
	}
	if !bytes.Equal(m.Key, o.Key) {
		return false
	}
	if m.HasPayload() != o.HasPayload() {
		return false
	}
	if !m.HasPayload() {
		return true
	}
	return m.Payload.TypeID == o.Payload.TypeID && bytes.Equal(m.Payload.Data, o.Payload.Data)
}

const maxPrintedData = 32

func (m Message) String() string {
	var sb strings.Builder
	if m.IsRequest() {
		sb.WriteString("request ")
	} else {
		sb.WriteString("response ")
	}
	sb.WriteString(m.Op.String())
	if m.IsResponse() {
		sb.WriteString(" ")
		sb.WriteString(m.Code.String())
	}
	if len(m.Key) > 0 {
		sb.WriteString(" key=")
		sb.WriteString(strconv.Quote(string(m.Key)))
	}
	if m.HasPayload() {
		data := m.Payload.Data
		suffix := ""
		if len(data) > maxPrintedData {
			data = data[:maxPrintedData]
			suffix = "..."
		}
		fmt.Fprintf(&sb, " type=%d len=%d data=%q%s", m.Payload.TypeID, len(m.Payload.Data), data, suffix)
	}
	return sb.String()
}
