// Package rpc implements the client side of host remote procedure calls:
// the argument wire codec, the synchronous and asynchronous call paths, the
// chunked result-allocation protocol, and the host-resident key/value cache.
package rpc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Tag characters. A tag string carries one character per argument; TagList
// is followed by the tag of its element type, recursively.
const (
	TagBool   = 'b'
	TagInt32  = 'i'
	TagInt64  = 'I'
	TagFloat  = 'f'
	TagString = 's'
	TagList   = 'l'
)

var (
	ErrBadTag      = errors.New("rpc: malformed type tag")
	ErrArgMismatch = errors.New("rpc: argument does not match its tag")
	ErrTruncated   = errors.New("rpc: truncated value stream")
)

// Arity returns the number of top-level values described by tag.
func Arity(tag []byte) (int, error) {
	n := 0
	for len(tag) > 0 {
		rest, err := skipTag(tag)
		if err != nil {
			return 0, err
		}
		tag = rest
		n++
	}
	return n, nil
}

// skipTag consumes one complete type from tag and returns the remainder.
func skipTag(tag []byte) ([]byte, error) {
	if len(tag) == 0 {
		return nil, ErrBadTag
	}
	switch tag[0] {
	case TagBool, TagInt32, TagInt64, TagFloat, TagString:
		return tag[1:], nil
	case TagList:
		return skipTag(tag[1:])
	default:
		return nil, fmt.Errorf("%w: %q", ErrBadTag, tag[0])
	}
}

// EncodePacket encodes one RPC call for the async queue.
//
// Layout (little-endian):
//   - u8: async flag (0/1)
//   - u32: service id
//   - u16: tag length
//   - bytes: tag
//   - values, one per tag character:
//     b = u8 (0/1), i = u32, I = u64, f = u64 (IEEE 754 bits),
//     s = u32 length + UTF-8 bytes, l = u32 count + encoded elements
func EncodePacket(async bool, service uint32, tag []byte, args []any) ([]byte, error) {
	buf := make([]byte, 7+len(tag), 7+len(tag)+16*len(args))
	if async {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint32(buf[1:5], service)
	binary.LittleEndian.PutUint16(buf[5:7], uint16(len(tag)))
	copy(buf[7:], tag)

	rest := tag
	for _, a := range args {
		if len(rest) == 0 {
			return nil, fmt.Errorf("%w: more arguments than tag describes", ErrArgMismatch)
		}
		var err error
		buf, rest, err = appendValue(buf, rest, a)
		if err != nil {
			return nil, err
		}
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: tag describes more arguments than given", ErrArgMismatch)
	}
	return buf, nil
}

// CheckArgs verifies args against tag without producing bytes. The
// synchronous path passes arguments by reference and uses this to reject a
// malformed call before it reaches the host.
func CheckArgs(tag []byte, args []any) error {
	_, err := EncodePacket(false, 0, tag, args)
	return err
}

func appendValue(buf []byte, tag []byte, v any) ([]byte, []byte, error) {
	switch tag[0] {
	case TagBool:
		b, ok := v.(bool)
		if !ok {
			return nil, nil, mismatch(tag[0], v)
		}
		if b {
			return append(buf, 1), tag[1:], nil
		}
		return append(buf, 0), tag[1:], nil
	case TagInt32:
		n, ok := v.(int32)
		if !ok {
			return nil, nil, mismatch(tag[0], v)
		}
		return binary.LittleEndian.AppendUint32(buf, uint32(n)), tag[1:], nil
	case TagInt64:
		n, ok := v.(int64)
		if !ok {
			return nil, nil, mismatch(tag[0], v)
		}
		return binary.LittleEndian.AppendUint64(buf, uint64(n)), tag[1:], nil
	case TagFloat:
		f, ok := v.(float64)
		if !ok {
			return nil, nil, mismatch(tag[0], v)
		}
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(f)), tag[1:], nil
	case TagString:
		s, ok := v.(string)
		if !ok {
			return nil, nil, mismatch(tag[0], v)
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
		return append(buf, s...), tag[1:], nil
	case TagList:
		return appendList(buf, tag, v)
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrBadTag, tag[0])
	}
}

// appendList encodes a list value. Lists of primitive elements are typed
// slices; lists of lists are []any whose elements are themselves slices.
func appendList(buf []byte, tag []byte, v any) ([]byte, []byte, error) {
	if len(tag) < 2 {
		return nil, nil, ErrBadTag
	}
	elem := tag[1:]
	rest, err := skipTag(elem)
	if err != nil {
		return nil, nil, err
	}
	switch elem[0] {
	case TagBool:
		vv, ok := v.([]bool)
		if !ok {
			return nil, nil, mismatch(tag[0], v)
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(vv)))
		for _, b := range vv {
			if b {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		}
	case TagInt32:
		vv, ok := v.([]int32)
		if !ok {
			return nil, nil, mismatch(tag[0], v)
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(vv)))
		for _, n := range vv {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(n))
		}
	case TagInt64:
		vv, ok := v.([]int64)
		if !ok {
			return nil, nil, mismatch(tag[0], v)
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(vv)))
		for _, n := range vv {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(n))
		}
	case TagFloat:
		vv, ok := v.([]float64)
		if !ok {
			return nil, nil, mismatch(tag[0], v)
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(vv)))
		for _, f := range vv {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(f))
		}
	case TagString:
		vv, ok := v.([]string)
		if !ok {
			return nil, nil, mismatch(tag[0], v)
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(vv)))
		for _, s := range vv {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
			buf = append(buf, s...)
		}
	case TagList:
		vv, ok := v.([]any)
		if !ok {
			return nil, nil, mismatch(tag[0], v)
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(vv)))
		for _, e := range vv {
			var err error
			buf, _, err = appendValue(buf, elem, e)
			if err != nil {
				return nil, nil, err
			}
		}
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrBadTag, elem[0])
	}
	return buf, rest, nil
}

func mismatch(tag byte, v any) error {
	return fmt.Errorf("%w: tag %q, value %T", ErrArgMismatch, tag, v)
}

// DecodePacket decodes a packet produced by EncodePacket. Lists decode as
// the same typed slices EncodePacket accepts.
func DecodePacket(p []byte) (async bool, service uint32, tag []byte, args []any, err error) {
	if len(p) < 7 {
		return false, 0, nil, nil, ErrTruncated
	}
	async = p[0] != 0
	service = binary.LittleEndian.Uint32(p[1:5])
	tagLen := int(binary.LittleEndian.Uint16(p[5:7]))
	if 7+tagLen > len(p) {
		return false, 0, nil, nil, ErrTruncated
	}
	tag = p[7 : 7+tagLen]
	body := p[7+tagLen:]

	rest := tag
	for len(rest) > 0 {
		var v any
		v, body, rest, err = decodeValue(body, rest)
		if err != nil {
			return false, 0, nil, nil, err
		}
		args = append(args, v)
	}
	if len(body) != 0 {
		return false, 0, nil, nil, fmt.Errorf("%w: %d trailing bytes", ErrTruncated, len(body))
	}
	return async, service, tag, args, nil
}

func decodeValue(b []byte, tag []byte) (v any, restB []byte, restTag []byte, err error) {
	switch tag[0] {
	case TagBool:
		if len(b) < 1 {
			return nil, nil, nil, ErrTruncated
		}
		return b[0] != 0, b[1:], tag[1:], nil
	case TagInt32:
		if len(b) < 4 {
			return nil, nil, nil, ErrTruncated
		}
		return int32(binary.LittleEndian.Uint32(b)), b[4:], tag[1:], nil
	case TagInt64:
		if len(b) < 8 {
			return nil, nil, nil, ErrTruncated
		}
		return int64(binary.LittleEndian.Uint64(b)), b[8:], tag[1:], nil
	case TagFloat:
		if len(b) < 8 {
			return nil, nil, nil, ErrTruncated
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), b[8:], tag[1:], nil
	case TagString:
		if len(b) < 4 {
			return nil, nil, nil, ErrTruncated
		}
		n := int(binary.LittleEndian.Uint32(b))
		if len(b) < 4+n {
			return nil, nil, nil, ErrTruncated
		}
		return string(b[4 : 4+n]), b[4+n:], tag[1:], nil
	case TagList:
		return decodeList(b, tag)
	default:
		return nil, nil, nil, fmt.Errorf("%w: %q", ErrBadTag, tag[0])
	}
}

func decodeList(b []byte, tag []byte) (v any, restB []byte, restTag []byte, err error) {
	if len(tag) < 2 {
		return nil, nil, nil, ErrBadTag
	}
	elem := tag[1:]
	restTag, err = skipTag(elem)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(b) < 4 {
		return nil, nil, nil, ErrTruncated
	}
	count := int(binary.LittleEndian.Uint32(b))
	b = b[4:]

	switch elem[0] {
	case TagBool:
		vv := make([]bool, 0, count)
		for i := 0; i < count; i++ {
			if len(b) < 1 {
				return nil, nil, nil, ErrTruncated
			}
			vv = append(vv, b[0] != 0)
			b = b[1:]
		}
		return vv, b, restTag, nil
	case TagInt32:
		vv := make([]int32, 0, count)
		for i := 0; i < count; i++ {
			if len(b) < 4 {
				return nil, nil, nil, ErrTruncated
			}
			vv = append(vv, int32(binary.LittleEndian.Uint32(b)))
			b = b[4:]
		}
		return vv, b, restTag, nil
	case TagInt64:
		vv := make([]int64, 0, count)
		for i := 0; i < count; i++ {
			if len(b) < 8 {
				return nil, nil, nil, ErrTruncated
			}
			vv = append(vv, int64(binary.LittleEndian.Uint64(b)))
			b = b[8:]
		}
		return vv, b, restTag, nil
	case TagFloat:
		vv := make([]float64, 0, count)
		for i := 0; i < count; i++ {
			if len(b) < 8 {
				return nil, nil, nil, ErrTruncated
			}
			vv = append(vv, math.Float64frombits(binary.LittleEndian.Uint64(b)))
			b = b[8:]
		}
		return vv, b, restTag, nil
	case TagString:
		vv := make([]string, 0, count)
		for i := 0; i < count; i++ {
			if len(b) < 4 {
				return nil, nil, nil, ErrTruncated
			}
			n := int(binary.LittleEndian.Uint32(b))
			if len(b) < 4+n {
				return nil, nil, nil, ErrTruncated
			}
			vv = append(vv, string(b[4:4+n]))
			b = b[4+n:]
		}
		return vv, b, restTag, nil
	case TagList:
		vv := make([]any, 0, count)
		for i := 0; i < count; i++ {
			var e any
			e, b, _, err = decodeValue(b, elem)
			if err != nil {
				return nil, nil, nil, err
			}
			vv = append(vv, e)
		}
		return vv, b, restTag, nil
	default:
		return nil, nil, nil, fmt.Errorf("%w: %q", ErrBadTag, elem[0])
	}
}
