package protocol

import (
	"encoding/json"
	"errors"
	"math"

	"github.com/vmihailenco/msgpack/v5"
)

var ErrMalformed = errors.New("protocol: malformed envelope")

// Envelope is the unit of exchange on the wire: a positional 3-tuple of
// [requestId, actionCode, payload]. RequestID 0 marks a fire-and-forget
// notification; any other value expects exactly one reply envelope carrying
// the same id.
type Envelope struct {
	RequestID uint32
	Action    Action
	Payload   any
}

// Codec turns envelopes into whole transport messages and back. Decode must
// reject anything that is not a well-formed 3-tuple with non-negative
// integral id and action fields.
type Codec interface {
	Encode(e Envelope) ([]byte, error)
	Decode(data []byte) (Envelope, error)
	// Binary reports whether encoded messages are binary rather than text.
	Binary() bool
}

// JSONCodec is the default wire format.
type JSONCodec struct{}

func (JSONCodec) Binary() bool { return false }

func (JSONCodec) Encode(e Envelope) ([]byte, error) {
	return json.Marshal([3]any{e.RequestID, uint8(e.Action), e.Payload})
}

func (JSONCodec) Decode(data []byte) (Envelope, error) {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Envelope{}, ErrMalformed
	}
	return envelopeFromTuple(raw)
}

// MsgpackCodec is the compact binary wire format.
type MsgpackCodec struct{}

func (MsgpackCodec) Binary() bool { return true }

func (MsgpackCodec) Encode(e Envelope) ([]byte, error) {
	return msgpack.Marshal([3]any{e.RequestID, uint8(e.Action), e.Payload})
}

func (MsgpackCodec) Decode(data []byte) (Envelope, error) {
	var raw []any
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return Envelope{}, ErrMalformed
	}
	return envelopeFromTuple(raw)
}

func envelopeFromTuple(raw []any) (Envelope, error) {
	if len(raw) != 3 {
		return Envelope{}, ErrMalformed
	}
	rid, ok := asUint32(raw[0])
	if !ok {
		return Envelope{}, ErrMalformed
	}
	code, ok := asUint32(raw[1])
	if !ok || code > math.MaxUint8 || !Action(code).Known() {
		return Envelope{}, ErrMalformed
	}
	return Envelope{RequestID: rid, Action: Action(code), Payload: raw[2]}, nil
}

// Numeric coercion across codecs: JSON decodes numbers as float64, msgpack
// as assorted integer widths. These helpers normalize both.

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || n < math.MinInt32 || n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case float32:
		return asInt(float64(n))
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		if n < math.MinInt32 || n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case uint:
		return asInt(uint64(n))
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		if n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

func asUint32(v any) (uint32, bool) {
	n, ok := asInt(v)
	if !ok || n < 0 {
		return 0, false
	}
	return uint32(n), true
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asList(v any) ([]any, bool) {
	l, ok := v.([]any)
	return l, ok
}
