package protocol

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allOps = []Op{OpGet, OpSet, OpDel, OpStats}

func roundTripMessages() map[string]Message {
	messages := map[string]Message{}
	for _, op := range allOps {
		name := op.String()
		messages["request "+name+" with payload"] = NewRequest(op, []byte("foo"), NewPayload(3, []byte("123124125")))
		messages["request "+name+" without payload"] = NewRequest(op, []byte("foo"), nil)
		messages["request "+name+" without key"] = NewRequest(op, nil, nil)
		messages["response "+name+" with payload"] = NewResponse(op, CodeOK, NewPayload(7, []byte("bar")))
		messages["response "+name+" without payload"] = NewResponse(op, CodeOK, nil)
		messages["response "+name+" error"] = NewResponse(op, CodeError, NewPayload(1, []byte("boom")))
		messages["response "+name+" with key"] = NewResponse(op, CodeOK, nil).WithKey([]byte("missing"))
	}
	return messages
}

func TestRoundTrip(t *testing.T) {
	ids := []uint64{0, 1, 123, 1 << 40, ^uint64(0)}

	for name, msg := range roundTripMessages() {
		t.Run(name, func(t *testing.T) {
			for _, id := range ids {
				buf := Encode(id, msg)

				frame, n, err := Decode(buf)
				require.NoError(t, err)
				require.Equal(t, len(buf), n)
				assert.Equal(t, id, frame.RequestID)
				assert.True(t, msg.Equal(frame.Message), "want %s, got %s", msg, frame.Message)
				assert.Equal(t, msg.Kind, frame.Message.Kind)
			}
		})
	}
}

func TestRoundTrip_GetRequestScenario(t *testing.T) {
	msg := NewRequest(OpGet, []byte("foo"), NewPayload(3, []byte("123124125")))

	frame, n, err := Decode(Encode(123, msg))
	require.NoError(t, err)
	require.Equal(t, FrameLen(msg), n)

	assert.Equal(t, uint64(123), frame.RequestID)
	assert.Equal(t, KindRequest, frame.Message.Kind)
	assert.Equal(t, OpGet, frame.Message.Op)
	assert.Equal(t, []byte("foo"), frame.Message.Key)
	require.NotNil(t, frame.Message.Payload)
	assert.Equal(t, uint32(3), frame.Message.Payload.TypeID)
	assert.Equal(t, []byte("123124125"), frame.Message.Payload.Data)
}

func TestEncode_Layout(t *testing.T) {
	msg := NewRequest(OpSet, []byte("ab"), NewPayload(0x01020304, []byte("xyz")))
	buf := Encode(0x0A0B, msg)

	require.Len(t, buf, HeaderLen+2+4+3)
	assert.Equal(t, uint64(0x0A0B), binary.BigEndian.Uint64(buf[0:8]))
	assert.Equal(t, byte(CodeRequest), buf[8])
	assert.Equal(t, byte(OpSet), buf[9])
	assert.Equal(t, uint64(3), binary.BigEndian.Uint64(buf[10:18]))
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(buf[18:22]))
	assert.Equal(t, "ab", string(buf[22:24]))
	assert.Equal(t, uint32(0x01020304), binary.BigEndian.Uint32(buf[24:28]))
	assert.Equal(t, "xyz", string(buf[28:]))
}

func TestEncode_OmitsTypeIDForEmptyPayload(t *testing.T) {
	for _, op := range allOps {
		withPayload := Encode(1, NewRequest(op, []byte("key"), NewPayload(9, []byte{1})))
		emptyPayload := Encode(1, NewRequest(op, []byte("key"), NewPayload(9, nil)))
		noPayload := Encode(1, NewRequest(op, []byte("key"), nil))

		assert.Equal(t, len(withPayload)-1-4, len(emptyPayload), op.String())
		assert.Equal(t, emptyPayload, noPayload, op.String())
	}
}

func TestDecode_Incremental(t *testing.T) {
	for name, msg := range roundTripMessages() {
		t.Run(name, func(t *testing.T) {
			buf := Encode(42, msg)

			for i := 0; i < len(buf); i++ {
				frame, n, err := Decode(buf[:i])
				require.NoError(t, err)
				require.Zero(t, n, "decoded from %d of %d bytes", i, len(buf))
				require.Equal(t, Frame{}, frame)
			}

			frame, n, err := Decode(buf)
			require.NoError(t, err)
			require.Equal(t, len(buf), n)
			assert.Equal(t, uint64(42), frame.RequestID)
			assert.True(t, msg.Equal(frame.Message))
		})
	}
}

func TestDecode_ConsumesExactlyOneFrame(t *testing.T) {
	first := NewRequest(OpSet, []byte("a"), NewPayload(1, []byte("one")))
	second := NewRequest(OpGet, []byte("b"), nil)

	buf := Encode(1, first)
	buf = AppendFrame(buf, 2, second)

	frame, n, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, FrameLen(first), n)
	assert.Equal(t, uint64(1), frame.RequestID)

	frame, n, err = Decode(buf[n:])
	require.NoError(t, err)
	require.Equal(t, FrameLen(second), n)
	assert.Equal(t, uint64(2), frame.RequestID)
	assert.True(t, second.Equal(frame.Message))
}

func TestDecode_DoesNotAliasInput(t *testing.T) {
	buf := Encode(1, NewRequest(OpSet, []byte("key"), NewPayload(1, []byte("value"))))

	frame, _, err := Decode(buf)
	require.NoError(t, err)

	for i := range buf {
		buf[i] = 0xFF
	}
	assert.Equal(t, []byte("key"), frame.Message.Key)
	assert.Equal(t, []byte("value"), frame.Message.Payload.Data)
}

func TestDecode_InvalidHeader(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(buf []byte)
	}{
		{
			name:   "unknown op",
			mutate: func(buf []byte) { buf[offOp] = 4 },
		},
		{
			name:   "op 255",
			mutate: func(buf []byte) { buf[offOp] = 0xFF },
		},
		{
			name:   "unknown status",
			mutate: func(buf []byte) { buf[offCode] = 3 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := Encode(77, NewRequest(OpGet, []byte("foo"), nil))
			tt.mutate(buf)

			_, n, err := Decode(buf)
			require.Error(t, err)
			assert.Zero(t, n)
			assert.True(t, errors.Is(err, ErrProtocol))
			assert.True(t, ShouldCloseConnection(err))

			var frameErr *FrameError
			require.ErrorAs(t, err, &frameErr)
			assert.Equal(t, uint64(77), frameErr.RequestID)
		})
	}
}

func TestDecode_PayloadLengthOverflow(t *testing.T) {
	buf := Encode(5, NewRequest(OpSet, []byte("k"), nil))
	binary.BigEndian.PutUint64(buf[offPayloadLen:], ^uint64(0))

	_, n, err := Decode(buf)
	require.ErrorIs(t, err, ErrProtocol)
	assert.Zero(t, n)
}

func TestDecode_ResponseWithStatusPreserved(t *testing.T) {
	msg := NewResponse(OpSet, CodeError, nil)

	frame, _, err := Decode(Encode(9, msg))
	require.NoError(t, err)
	assert.Equal(t, KindResponse, frame.Message.Kind)
	assert.Equal(t, CodeError, frame.Message.Code)
	assert.Nil(t, frame.Message.Payload)
}

func TestNewResponse_PromotesRequestCode(t *testing.T) {
	msg := NewResponse(OpGet, CodeRequest, nil)
	assert.Equal(t, CodeOK, msg.Code)
	assert.True(t, msg.IsResponse())
}

func TestMessage_String(t *testing.T) {
	req := NewRequest(OpSet, []byte("foo"), NewPayload(3, []byte("bar")))
	assert.Equal(t, `request set key="foo" type=3 len=3 data="bar"`, req.String())

	resp := NewResponse(OpGet, CodeOK, nil).WithKey([]byte("foo"))
	assert.Equal(t, `response get ok key="foo"`, resp.String())
}

func BenchmarkEncode(b *testing.B) {
	msg := NewResponse(OpGet, CodeOK, NewPayload(3, []byte("123124125")))
	buf := make([]byte, 0, 64)

	b.ReportAllocs()
	for b.Loop() {
		buf = AppendFrame(buf[:0], 123, msg)
	}
}

func BenchmarkDecode(b *testing.B) {
	buf := Encode(123, NewResponse(OpGet, CodeOK, NewPayload(3, []byte("123124125"))))

	b.ReportAllocs()
	for b.Loop() {
		_, _, _ = Decode(buf)
	}
}
