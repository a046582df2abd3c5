package protocol

import "strconv"

// HeaderLen is the size of the fixed frame header:
// request id (8) + code (1) + op (1) + payload length (8) + key length (4).
const HeaderLen = 8 + 1 + 1 + 8 + 4

// typeIDLen is the size of the type id field, present only when the payload is non-empty.
const typeIDLen = 4

// Header field offsets.
const (
	offRequestID  = 0
	offCode       = 8
	offOp         = 9
	offPayloadLen = 10
	offKeyLen     = 18
)

// Op is the operation carried by a frame. The numeric values are part of the wire contract.
type Op uint8

const (
	OpGet   Op = 0
	OpSet   Op = 1
	OpDel   Op = 2
	OpStats Op = 3
)

func (o Op) Valid() bool {
	return o <= OpStats
}

func (o Op) String() string {
	switch o {
	case OpGet:
		return "get"
	case OpSet:
		return "set"
	case OpDel:
		return "del"
	case OpStats:
		return "stats"
	default:
		return "op(" + strconv.Itoa(int(o)) + ")"
	}
}

// Code is the frame status byte. Zero marks a request, any other value is a response status.
type Code uint8

const (
	CodeRequest Code = 0 // Reserved: the frame is a request
	CodeOK      Code = 1 // Operation completed
	CodeError   Code = 2 // Operation failed inside the server
)

func (c Code) Valid() bool {
	return c <= CodeError
}

func (c Code) String() string {
	switch c {
	case CodeRequest:
		return "request"
	case CodeOK:
		return "ok"
	case CodeError:
		return "error"
	default:
		return "code(" + strconv.Itoa(int(c)) + ")"
	}
}
