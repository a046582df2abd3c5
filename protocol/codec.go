package protocol

import (
	"encoding/binary"
	"math"
)

// Frame is one decoded message together with its correlation id.
type Frame struct {
	RequestID uint64
	Message   Message
}

// FrameLen returns the encoded size of m.
func FrameLen(m Message) int {
	n := HeaderLen + len(m.Key)
	if m.HasPayload() {
		n += typeIDLen + len(m.Payload.Data)
	}
	return n
}

// Encode returns the frame for (id, m).
func Encode(id uint64, m Message) []byte {
	return AppendFrame(make([]byte, 0, FrameLen(m)), id, m)
}

// AppendFrame appends the frame for (id, m) to dst and returns the extended slice.
//
// Layout (big-endian):
//
//	+- request id -+- code -+- op -+- payload len -+- key len -+- key -+- type id -+- payload -+
//	|     u64      |   u8   |  u8  |      u64      |    u32    |  [u8] |    u32    |    [u8]   |
//	+--------------+--------+------+---------------+-----------+-------+-----------+-----------+
//
// The type id and payload are omitted when the payload is absent or empty.
//
// AppendFrame encodes m as is. An unknown op or code yields a frame that Decode
// rejects; Writer.WriteFrame checks both before encoding.
func AppendFrame(dst []byte, id uint64, m Message) []byte {
	var payload []byte
	if m.HasPayload() {
		payload = m.Payload.Data
	}

	code := m.Code
	if m.IsRequest() {
		code = CodeRequest
	}

	dst = binary.BigEndian.AppendUint64(dst, id)
	dst = append(dst, byte(code), byte(m.Op))
	dst = binary.BigEndian.AppendUint64(dst, uint64(len(payload)))
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(m.Key)))
	dst = append(dst, m.Key...)

	if len(payload) > 0 {
		dst = binary.BigEndian.AppendUint32(dst, m.Payload.TypeID)
		dst = append(dst, payload...)
	}

	return dst
}

// checkEncodable returns a *FrameError when m carries an op or code that Decode would
// reject. The code of a request is always encoded as CodeRequest.
func checkEncodable(id uint64, m Message) error {
	if !m.Op.Valid() {
		return &FrameError{RequestID: id, Message: "unknown op " + m.Op.String()}
	}
	if !m.IsRequest() && !m.Code.Valid() {
		return &FrameError{RequestID: id, Message: "unknown status " + m.Code.String()}
	}
	return nil
}

// PeekFrameLen returns the total length of the frame starting at buf, reading only the
// header. ok is false when fewer than HeaderLen bytes are buffered.
func PeekFrameLen(buf []byte) (n int, ok bool, err error) {
	if len(buf) < HeaderLen {
		return 0, false, nil
	}

	payloadLen := binary.BigEndian.Uint64(buf[offPayloadLen:])
	keyLen := uint64(binary.BigEndian.Uint32(buf[offKeyLen:]))

	total := uint64(HeaderLen) + keyLen
	if payloadLen > 0 {
		if payloadLen > math.MaxInt-total-typeIDLen {
			return 0, false, &FrameError{
				RequestID: binary.BigEndian.Uint64(buf[offRequestID:]),
				Message:   "payload length out of bounds",
			}
		}
		total += typeIDLen + payloadLen
	}

	return int(total), true, nil
}

// Decode decodes the frame at the start of buf.
//
// When buf holds less than one complete frame, Decode returns n == 0 and a nil error
// and consumes nothing; call again once more bytes are buffered. Otherwise n is the
// exact number of bytes the frame occupies. An unknown op or code is a *FrameError.
//
// The returned message does not alias buf.
func Decode(buf []byte) (Frame, int, error) {
	total, ok, err := PeekFrameLen(buf)
	if err != nil || !ok {
		return Frame{}, 0, err
	}
	if len(buf) < total {
		return Frame{}, 0, nil
	}

	frame := buf[:total]
	id := binary.BigEndian.Uint64(frame[offRequestID:])
	code := Code(frame[offCode])
	op := Op(frame[offOp])
	payloadLen := int(binary.BigEndian.Uint64(frame[offPayloadLen:]))
	keyLen := int(binary.BigEndian.Uint32(frame[offKeyLen:]))

	if !op.Valid() {
		return Frame{}, 0, &FrameError{RequestID: id, Message: "unknown op " + op.String()}
	}
	if !code.Valid() {
		return Frame{}, 0, &FrameError{RequestID: id, Message: "unknown status " + code.String()}
	}

	// Key and payload share one allocation.
	body := make([]byte, keyLen+payloadLen)

	pos := HeaderLen
	copy(body, frame[pos:pos+keyLen])
	pos += keyLen

	var key []byte
	if keyLen > 0 {
		key = body[:keyLen:keyLen]
	}

	var payload *Payload
	if payloadLen > 0 {
		typeID := binary.BigEndian.Uint32(frame[pos:])
		pos += typeIDLen
		copy(body[keyLen:], frame[pos:pos+payloadLen])
		payload = &Payload{TypeID: typeID, Data: body[keyLen:]}
	}

	m := Message{Op: op, Code: code, Key: key, Payload: payload}
	if code == CodeRequest {
		m.Kind = KindRequest
	} else {
		m.Kind = KindResponse
	}

	return Frame{RequestID: id, Message: m}, total, nil
}
