// Package wire implements the cross-boundary data protocol shared by
// the module host and its guests: the staged-entity record format and
// the block encoding handed to the block handler.
//
// All integers are little-endian. Values are encoded as explicit
// tagged unions with a fixed discriminant and are decoded via
// exhaustive matching, keeping the format stable across module/host
// version skew.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/lodestone-labs/lodestone/pkg/types"
)

// Value tags on the wire. These are the protocol; they never change
// meaning across versions.
const (
	tagInt64 uint8 = iota + 1
	tagUint64
	tagBool
	tagString
	tagBytes
	tagNull
	tagRef
)

var (
	ErrShortBuffer   = errors.New("wire: short buffer")
	ErrTrailingBytes = errors.New("wire: trailing bytes after record")
)

// UnknownTagError reports a value tag outside the protocol.
type UnknownTagError struct {
	Tag uint8
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("wire: unknown value tag %d", e.Tag)
}

// EncodeEntity serializes a staged-entity record:
//
//	type_id u32 | key_len u32 | key | field_count u16 | fields
//
// where each field is field_id u16 | tag u8 | payload.
func EncodeEntity(e *types.Entity) []byte {
	buf := make([]byte, 0, 16+len(e.Key))
	buf = binary.LittleEndian.AppendUint32(buf, e.TypeID)
	buf = appendBytes(buf, e.Key)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(e.Fields)))
	for _, f := range e.Fields {
		buf = binary.LittleEndian.AppendUint16(buf, f.ID)
		buf = appendValue(buf, f.Value)
	}
	return buf
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

func appendValue(buf []byte, v types.Value) []byte {
	switch v.Kind {
	case types.ValueInt64:
		buf = append(buf, tagInt64)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v.Int64))
	case types.ValueUint64:
		buf = append(buf, tagUint64)
		buf = binary.LittleEndian.AppendUint64(buf, v.Uint64)
	case types.ValueBool:
		buf = append(buf, tagBool)
		if v.Bool {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case types.ValueString:
		buf = append(buf, tagString)
		buf = appendBytes(buf, []byte(v.String))
	case types.ValueBytes:
		buf = append(buf, tagBytes)
		buf = appendBytes(buf, v.Bytes)
	case types.ValueRef:
		buf = append(buf, tagRef)
		buf = binary.LittleEndian.AppendUint32(buf, v.RefTypeID)
		buf = appendBytes(buf, v.RefKey)
	default:
		// ValueNull and anything unset encode as null.
		buf = append(buf, tagNull)
	}
	return buf
}

// DecodeEntity parses a staged-entity record. The buffer must contain
// exactly one record; trailing bytes are an error.
func DecodeEntity(data []byte) (*types.Entity, error) {
	r := reader{buf: data}

	typeID, err := r.uint32()
	if err != nil {
		return nil, err
	}
	key, err := r.bytes()
	if err != nil {
		return nil, err
	}
	fieldCount, err := r.uint16()
	if err != nil {
		return nil, err
	}

	e := &types.Entity{
		TypeID: typeID,
		Key:    key,
		Fields: make([]types.Field, 0, fieldCount),
	}
	for i := 0; i < int(fieldCount); i++ {
		id, err := r.uint16()
		if err != nil {
			return nil, err
		}
		v, err := r.value()
		if err != nil {
			return nil, err
		}
		e.Fields = append(e.Fields, types.Field{ID: id, Value: v})
	}

	if r.len() != 0 {
		return nil, ErrTrailingBytes
	}
	return e, nil
}

type reader struct {
	buf []byte
}

func (r *reader) len() int { return len(r.buf) }

func (r *reader) take(n int) ([]byte, error) {
	if len(r.buf) < n {
		return nil, ErrShortBuffer
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b, nil
}

func (r *reader) uint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) byte() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	// Copy out so decoded entities do not alias guest memory.
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (r *reader) value() (types.Value, error) {
	tag, err := r.byte()
	if err != nil {
		return types.Value{}, err
	}

	switch tag {
	case tagInt64:
		u, err := r.uint64()
		if err != nil {
			return types.Value{}, err
		}
		return types.Value{Kind: types.ValueInt64, Int64: int64(u)}, nil
	case tagUint64:
		u, err := r.uint64()
		if err != nil {
			return types.Value{}, err
		}
		return types.Value{Kind: types.ValueUint64, Uint64: u}, nil
	case tagBool:
		b, err := r.byte()
		if err != nil {
			return types.Value{}, err
		}
		return types.Value{Kind: types.ValueBool, Bool: b != 0}, nil
	case tagString:
		b, err := r.bytes()
		if err != nil {
			return types.Value{}, err
		}
		return types.Value{Kind: types.ValueString, String: string(b)}, nil
	case tagBytes:
		b, err := r.bytes()
		if err != nil {
			return types.Value{}, err
		}
		return types.Value{Kind: types.ValueBytes, Bytes: b}, nil
	case tagNull:
		return types.Value{Kind: types.ValueNull}, nil
	case tagRef:
		typeID, err := r.uint32()
		if err != nil {
			return types.Value{}, err
		}
		key, err := r.bytes()
		if err != nil {
			return types.Value{}, err
		}
		return types.Value{Kind: types.ValueRef, RefTypeID: typeID, RefKey: key}, nil
	default:
		return types.Value{}, &UnknownTagError{Tag: tag}
	}
}
