package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_MultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	want := []Frame{
		{RequestID: 1, Message: NewRequest(OpSet, []byte("a"), NewPayload(1, []byte("alpha")))},
		{RequestID: 2, Message: NewRequest(OpGet, []byte("a"), nil)},
		{RequestID: 3, Message: NewResponse(OpStats, CodeOK, NewPayload(1, []byte("keys: 1 ")))},
	}
	for _, f := range want {
		require.NoError(t, w.WriteFrame(f.RequestID, f.Message))
	}
	require.NoError(t, w.Flush())

	r := NewReader(&buf, 0)
	for _, f := range want {
		got, err := r.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, f.RequestID, got.RequestID)
		assert.True(t, f.Message.Equal(got.Message))
	}

	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
	assert.Zero(t, r.Buffered())
}

func TestReader_OneByteAtATime(t *testing.T) {
	msg := NewRequest(OpSet, []byte("foo"), NewPayload(3, []byte("123124125")))
	stream := append(Encode(10, msg), Encode(11, msg)...)

	r := NewReader(iotest.OneByteReader(bytes.NewReader(stream)), 0)

	for _, id := range []uint64{10, 11} {
		frame, err := r.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, id, frame.RequestID)
		assert.True(t, msg.Equal(frame.Message))
	}
}

func TestReader_LargeFrameGrowsBuffer(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 3*readBufferSize)
	msg := NewRequest(OpSet, []byte("big"), NewPayload(2, data))

	r := NewReader(iotest.HalfReader(bytes.NewReader(Encode(1, msg))), 0)
	frame, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, data, frame.Message.Payload.Data)
}

func TestReader_TruncatedFrame(t *testing.T) {
	buf := Encode(1, NewRequest(OpSet, []byte("foo"), NewPayload(3, []byte("bar"))))

	r := NewReader(bytes.NewReader(buf[:len(buf)-1]), 0)
	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReader_FrameTooLarge(t *testing.T) {
	buf := Encode(8, NewRequest(OpSet, []byte("foo"), NewPayload(3, make([]byte, 1024))))

	r := NewReader(bytes.NewReader(buf), 512)
	_, err := r.ReadFrame()
	require.ErrorIs(t, err, ErrProtocol)

	var frameErr *FrameError
	require.ErrorAs(t, err, &frameErr)
	assert.Equal(t, uint64(8), frameErr.RequestID)
}

func TestReader_MalformedFrame(t *testing.T) {
	buf := Encode(1, NewRequest(OpGet, []byte("foo"), nil))
	buf[offOp] = 9

	r := NewReader(bytes.NewReader(buf), 0)
	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestReader_ReadError(t *testing.T) {
	boom := errors.New("boom")
	r := NewReader(iotest.ErrReader(boom), 0)

	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, boom)
	assert.True(t, ShouldCloseConnection(err))
}

func TestWriter_LargeFrameBypassesAvailableBuffer(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	msg := NewResponse(OpGet, CodeOK, NewPayload(4, bytes.Repeat([]byte("y"), 2*writeBufferSize)))
	require.NoError(t, w.WriteFrame(99, msg))
	require.NoError(t, w.Flush())
	assert.Zero(t, w.Buffered())

	assert.Equal(t, Encode(99, msg), buf.Bytes())
}

func TestWriter_RejectsUndecodableMessages(t *testing.T) {
	tests := map[string]Message{
		"unknown code": NewResponse(OpGet, Code(7), nil),
		"unknown op":   NewRequest(Op(9), []byte("k"), nil),
	}

	for name, msg := range tests {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			w := NewWriter(&buf)

			err := w.WriteFrame(3, msg)
			var frameErr *FrameError
			require.ErrorAs(t, err, &frameErr)
			assert.Equal(t, uint64(3), frameErr.RequestID)
			assert.ErrorIs(t, err, ErrProtocol)

			require.NoError(t, w.Flush())
			assert.Zero(t, buf.Len())
		})
	}
}

func TestWriter_RequestCodeIsIgnored(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	msg := NewRequest(OpDel, []byte("k"), nil)
	msg.Code = Code(7)
	require.NoError(t, w.WriteFrame(4, msg))
	require.NoError(t, w.Flush())

	frame, _, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, CodeRequest, frame.Message.Code)
}
