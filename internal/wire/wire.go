// Package wire implements the marshalling engine of spec §4.2: it walks a
// recursive dataset.Schema and converts a host-layout Record to/from a
// packed, big-endian wire frame.
//
// The walker is a single-pass cursor, generalized from the FIX tag/value
// scanning idiom in fixclient/parser.go (walk a buffer once, switch on the
// current field, advance a position variable) to a fixed-width-per-primitive
// binary cursor that additionally tracks alignment padding.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/saelay/trdp-ladder/internal/config"
	"github.com/saelay/trdp-ladder/internal/dataset"
)

// Errors returned by Marshal/Unmarshal (spec §4.2 Failure).
var (
	ErrUnknownDataset = fmt.Errorf("wire: unknown dataset")
	ErrBufferTooSmall = fmt.Errorf("wire: buffer too small")
	ErrMalformedFrame = fmt.Errorf("wire: malformed frame")
)

// TimeDate32 is a 32-bit TRDP timestamp (seconds since epoch).
type TimeDate32 uint32

// TimeDate48 is a 48-bit TRDP timestamp: seconds plus sub-second ticks.
type TimeDate48 struct {
	Seconds uint32
	Ticks   uint16
}

// TimeDate64 is a 64-bit TRDP timestamp: seconds plus microseconds.
type TimeDate64 struct {
	Seconds uint32
	Micros  uint32
}

// Record is the host-layout representation of one dataset instance. Values
// is positional: Values[i] holds the host value for schema.Elements[i].
//
// Per-element Go types:
//   - scalar primitive (Count==1): bool, byte, uint16, int8/16/32/64,
//     uint8/16/32/64, float32/64, TimeDate32/48/64
//   - array primitive (Count>1 or Count==0): a []T slice of the above
//   - nested dataset (Count==1): *Record
//   - nested dataset array: []*Record
type Record struct {
	Values []any
}

type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) alignTo(n int) error {
	pad := (n - c.pos%n) % n
	if pad == 0 {
		return nil
	}
	if c.pos+pad > len(c.buf) {
		return ErrBufferTooSmall
	}
	for i := 0; i < pad; i++ {
		c.buf[c.pos+i] = 0
	}
	c.pos += pad
	return nil
}

func (c *cursor) need(n int) error {
	if c.pos+n > len(c.buf) {
		return ErrBufferTooSmall
	}
	return nil
}

// Marshal packs rec according to schema into buf, returning the number of
// bytes written. buf must be large enough; callers size it from MaxSize or
// another generous upper bound.
func Marshal(cache *dataset.Cache, schema *dataset.Schema, rec *Record, buf []byte) (int, error) {
	c := &cursor{buf: buf}
	if err := marshalElements(cache, schema.Elements, rec.Values, c); err != nil {
		return 0, err
	}
	return c.pos, nil
}

// Unmarshal unpacks buf according to schema into a freshly built Record.
func Unmarshal(cache *dataset.Cache, schema *dataset.Schema, buf []byte) (*Record, error) {
	c := &cursor{buf: buf}
	values := make([]any, len(schema.Elements))
	if err := unmarshalElements(cache, schema.Elements, values, c); err != nil {
		return nil, err
	}
	if c.pos != len(buf) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedFrame, len(buf)-c.pos)
	}
	return &Record{Values: values}, nil
}

// maxVariableLenElements bounds a variable-length (Count==0) element for
// MaxSize purposes: its true length is only known from the preceding
// element's runtime value, so callers sizing a scratch buffer ahead of a
// real Record get this generous fixed bound instead (spec §4.2's variable-
// length elements are themselves bounded by the driving UINT* field's
// range, but in practice payloads stay well under this).
const maxVariableLenElements = 256

// MaxSize returns a conservative upper bound on schema's marshalled size,
// for sizing a scratch buffer before the real Record (and its
// variable-length counts) are known. Every fixed-count element contributes
// its exact wire size plus worst-case alignment padding; every
// variable-length element contributes maxVariableLenElements worth of its
// element size instead.
func MaxSize(schema *dataset.Schema) (int, error) {
	total := 0
	for _, el := range schema.Elements {
		total += dataset.WireAlign(el.Type) - 1 // worst-case padding before this element
		switch {
		case el.Type == config.TypeDataset:
			if el.Nested == nil {
				return 0, fmt.Errorf("%w: dataset %d", ErrUnknownDataset, el.RefID)
			}
			nestedSize, err := MaxSize(el.Nested)
			if err != nil {
				return 0, err
			}
			n := int(el.Count)
			if n == 0 {
				n = maxVariableLenElements
			}
			total += n * nestedSize
		default:
			// Consecutive TIMEDATE48 items realign to 4, so each one
			// occupies up to 8 bytes, not 6.
			stride := dataset.WireSize(el.Type)
			if el.Type == config.TypeTIMEDATE48 {
				stride = 8
			}
			n := int(el.Count)
			if n == 0 {
				n = maxVariableLenElements
			}
			total += stride * n
		}
	}
	return total, nil
}

func elementCount(elements []dataset.Element, values []any, i int) (int, error) {
	el := elements[i]
	if el.Count != 0 {
		return int(el.Count), nil
	}
	if i == 0 {
		return 0, fmt.Errorf("%w: variable-length element has no preceding count field", ErrMalformedFrame)
	}
	prev := elements[i-1]
	if prev.Type == config.TypeDataset || !dataset.IsUnsignedInt(prev.Type) {
		return 0, fmt.Errorf("%w: preceding element must be an unsigned integer", ErrMalformedFrame)
	}
	switch v := values[i-1].(type) {
	case uint8:
		return int(v), nil
	case uint16:
		return int(v), nil
	case uint32:
		return int(v), nil
	case uint64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("%w: count driver has unexpected host type %T", ErrMalformedFrame, v)
	}
}

func marshalElements(cache *dataset.Cache, elements []dataset.Element, values []any, c *cursor) error {
	for i, el := range elements {
		count, err := elementCount(elements, values, i)
		if err != nil {
			return err
		}
		if el.Type == config.TypeDataset {
			nested, err := resolveNested(cache, el)
			if err != nil {
				return err
			}
			if count == 1 && el.Count == 1 {
				rec, ok := values[i].(*Record)
				if !ok {
					return fmt.Errorf("%w: expected *Record for nested dataset %d", ErrMalformedFrame, el.RefID)
				}
				if err := marshalElements(cache, nested.Elements, rec.Values, c); err != nil {
					return err
				}
				continue
			}
			recs, ok := values[i].([]*Record)
			if !ok {
				return fmt.Errorf("%w: expected []*Record for nested dataset array %d", ErrMalformedFrame, el.RefID)
			}
			if len(recs) != count {
				return fmt.Errorf("%w: nested dataset array length %d != count %d", ErrMalformedFrame, len(recs), count)
			}
			for _, rec := range recs {
				if err := marshalElements(cache, nested.Elements, rec.Values, c); err != nil {
					return err
				}
			}
			continue
		}

		if el.Count == 1 {
			if err := marshalScalar(c, el.Type, values[i]); err != nil {
				return err
			}
			continue
		}
		if err := marshalSlice(c, el.Type, values[i], count); err != nil {
			return err
		}
	}
	return nil
}

func unmarshalElements(cache *dataset.Cache, elements []dataset.Element, values []any, c *cursor) error {
	for i, el := range elements {
		count, err := elementCount(elements, values, i)
		if err != nil {
			return err
		}
		if el.Type == config.TypeDataset {
			nested, err := resolveNested(cache, el)
			if err != nil {
				return err
			}
			if el.Count == 1 {
				nestedValues := make([]any, len(nested.Elements))
				if err := unmarshalElements(cache, nested.Elements, nestedValues, c); err != nil {
					return err
				}
				values[i] = &Record{Values: nestedValues}
				continue
			}
			recs := make([]*Record, count)
			for j := 0; j < count; j++ {
				nestedValues := make([]any, len(nested.Elements))
				if err := unmarshalElements(cache, nested.Elements, nestedValues, c); err != nil {
					return err
				}
				recs[j] = &Record{Values: nestedValues}
			}
			values[i] = recs
			continue
		}

		if el.Count == 1 {
			v, err := unmarshalScalar(c, el.Type)
			if err != nil {
				return err
			}
			values[i] = v
			continue
		}
		v, err := unmarshalSlice(c, el.Type, count)
		if err != nil {
			return err
		}
		values[i] = v
	}
	return nil
}

func resolveNested(cache *dataset.Cache, el dataset.Element) (*dataset.Schema, error) {
	if el.Nested != nil {
		return el.Nested, nil
	}
	s, ok := cache.Lookup(el.RefID)
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownDataset, el.RefID)
	}
	return s, nil
}

func marshalSlice(c *cursor, t config.PrimitiveType, v any, count int) error {
	switch t {
	case config.TypeCHAR8, config.TypeINT8, config.TypeUINT8, config.TypeBOOL8:
		bytes, ok := toByteSlice(t, v)
		if !ok || len(bytes) != count {
			return fmt.Errorf("%w: expected %d-element byte slice", ErrMalformedFrame, count)
		}
		if err := c.need(len(bytes)); err != nil {
			return err
		}
		copy(c.buf[c.pos:], bytes)
		c.pos += len(bytes)
		return nil
	default:
		for idx := 0; idx < count; idx++ {
			elemVal, err := sliceElem(v, idx, count)
			if err != nil {
				return err
			}
			if err := marshalScalar(c, t, elemVal); err != nil {
				return err
			}
		}
		return nil
	}
}

func unmarshalSlice(c *cursor, t config.PrimitiveType, count int) (any, error) {
	switch t {
	case config.TypeCHAR8, config.TypeINT8, config.TypeUINT8, config.TypeBOOL8:
		if err := c.need(count); err != nil {
			return nil, err
		}
		out := make([]byte, count)
		copy(out, c.buf[c.pos:c.pos+count])
		c.pos += count
		return fromByteSlice(t, out), nil
	default:
		return unmarshalTypedSlice(c, t, count)
	}
}

func marshalScalar(c *cursor, t config.PrimitiveType, v any) error {
	align := dataset.WireAlign(t)
	if err := c.alignTo(align); err != nil {
		return err
	}
	size := dataset.WireSize(t)
	if size > 0 {
		if err := c.need(size); err != nil {
			return err
		}
	}
	switch t {
	case config.TypeBOOL8:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("%w: expected bool", ErrMalformedFrame)
		}
		if b {
			c.buf[c.pos] = 1
		} else {
			c.buf[c.pos] = 0
		}
		c.pos++
	case config.TypeCHAR8:
		b, ok := v.(byte)
		if !ok {
			return fmt.Errorf("%w: expected byte", ErrMalformedFrame)
		}
		c.buf[c.pos] = b
		c.pos++
	case config.TypeINT8:
		i, ok := v.(int8)
		if !ok {
			return fmt.Errorf("%w: expected int8", ErrMalformedFrame)
		}
		c.buf[c.pos] = byte(i)
		c.pos++
	case config.TypeUINT8:
		i, ok := v.(uint8)
		if !ok {
			return fmt.Errorf("%w: expected uint8", ErrMalformedFrame)
		}
		c.buf[c.pos] = i
		c.pos++
	case config.TypeUTF16:
		i, ok := v.(uint16)
		if !ok {
			return fmt.Errorf("%w: expected uint16", ErrMalformedFrame)
		}
		binary.BigEndian.PutUint16(c.buf[c.pos:], i)
		c.pos += 2
	case config.TypeINT16:
		i, ok := v.(int16)
		if !ok {
			return fmt.Errorf("%w: expected int16", ErrMalformedFrame)
		}
		binary.BigEndian.PutUint16(c.buf[c.pos:], uint16(i))
		c.pos += 2
	case config.TypeUINT16:
		i, ok := v.(uint16)
		if !ok {
			return fmt.Errorf("%w: expected uint16", ErrMalformedFrame)
		}
		binary.BigEndian.PutUint16(c.buf[c.pos:], i)
		c.pos += 2
	case config.TypeINT32:
		i, ok := v.(int32)
		if !ok {
			return fmt.Errorf("%w: expected int32", ErrMalformedFrame)
		}
		binary.BigEndian.PutUint32(c.buf[c.pos:], uint32(i))
		c.pos += 4
	case config.TypeUINT32:
		i, ok := v.(uint32)
		if !ok {
			return fmt.Errorf("%w: expected uint32", ErrMalformedFrame)
		}
		binary.BigEndian.PutUint32(c.buf[c.pos:], i)
		c.pos += 4
	case config.TypeREAL32:
		f, ok := v.(float32)
		if !ok {
			return fmt.Errorf("%w: expected float32", ErrMalformedFrame)
		}
		binary.BigEndian.PutUint32(c.buf[c.pos:], math.Float32bits(f))
		c.pos += 4
	case config.TypeTIMEDATE32:
		td, ok := v.(TimeDate32)
		if !ok {
			return fmt.Errorf("%w: expected TimeDate32", ErrMalformedFrame)
		}
		binary.BigEndian.PutUint32(c.buf[c.pos:], uint32(td))
		c.pos += 4
	case config.TypeTIMEDATE48:
		td, ok := v.(TimeDate48)
		if !ok {
			return fmt.Errorf("%w: expected TimeDate48", ErrMalformedFrame)
		}
		binary.BigEndian.PutUint32(c.buf[c.pos:], td.Seconds)
		binary.BigEndian.PutUint16(c.buf[c.pos+4:], td.Ticks)
		c.pos += 6
	case config.TypeINT64:
		i, ok := v.(int64)
		if !ok {
			return fmt.Errorf("%w: expected int64", ErrMalformedFrame)
		}
		binary.BigEndian.PutUint64(c.buf[c.pos:], uint64(i))
		c.pos += 8
	case config.TypeUINT64:
		i, ok := v.(uint64)
		if !ok {
			return fmt.Errorf("%w: expected uint64", ErrMalformedFrame)
		}
		binary.BigEndian.PutUint64(c.buf[c.pos:], i)
		c.pos += 8
	case config.TypeREAL64:
		f, ok := v.(float64)
		if !ok {
			return fmt.Errorf("%w: expected float64", ErrMalformedFrame)
		}
		binary.BigEndian.PutUint64(c.buf[c.pos:], math.Float64bits(f))
		c.pos += 8
	case config.TypeTIMEDATE64:
		td, ok := v.(TimeDate64)
		if !ok {
			return fmt.Errorf("%w: expected TimeDate64", ErrMalformedFrame)
		}
		binary.BigEndian.PutUint32(c.buf[c.pos:], td.Seconds)
		binary.BigEndian.PutUint32(c.buf[c.pos+4:], td.Micros)
		c.pos += 8
	default:
		return fmt.Errorf("%w: unknown primitive type %d", ErrMalformedFrame, t)
	}
	return nil
}

func unmarshalScalar(c *cursor, t config.PrimitiveType) (any, error) {
	align := dataset.WireAlign(t)
	if err := c.alignTo(align); err != nil {
		return nil, err
	}
	size := dataset.WireSize(t)
	if size > 0 {
		if err := c.need(size); err != nil {
			return nil, err
		}
	}
	switch t {
	case config.TypeBOOL8:
		v := c.buf[c.pos] != 0
		c.pos++
		return v, nil
	case config.TypeCHAR8:
		v := c.buf[c.pos]
		c.pos++
		return v, nil
	case config.TypeINT8:
		v := int8(c.buf[c.pos])
		c.pos++
		return v, nil
	case config.TypeUINT8:
		v := c.buf[c.pos]
		c.pos++
		return v, nil
	case config.TypeUTF16, config.TypeUINT16:
		v := binary.BigEndian.Uint16(c.buf[c.pos:])
		c.pos += 2
		return v, nil
	case config.TypeINT16:
		v := int16(binary.BigEndian.Uint16(c.buf[c.pos:]))
		c.pos += 2
		return v, nil
	case config.TypeINT32:
		v := int32(binary.BigEndian.Uint32(c.buf[c.pos:]))
		c.pos += 4
		return v, nil
	case config.TypeUINT32:
		v := binary.BigEndian.Uint32(c.buf[c.pos:])
		c.pos += 4
		return v, nil
	case config.TypeREAL32:
		v := math.Float32frombits(binary.BigEndian.Uint32(c.buf[c.pos:]))
		c.pos += 4
		return v, nil
	case config.TypeTIMEDATE32:
		v := TimeDate32(binary.BigEndian.Uint32(c.buf[c.pos:]))
		c.pos += 4
		return v, nil
	case config.TypeTIMEDATE48:
		v := TimeDate48{
			Seconds: binary.BigEndian.Uint32(c.buf[c.pos:]),
			Ticks:   binary.BigEndian.Uint16(c.buf[c.pos+4:]),
		}
		c.pos += 6
		return v, nil
	case config.TypeINT64:
		v := int64(binary.BigEndian.Uint64(c.buf[c.pos:]))
		c.pos += 8
		return v, nil
	case config.TypeUINT64:
		v := binary.BigEndian.Uint64(c.buf[c.pos:])
		c.pos += 8
		return v, nil
	case config.TypeREAL64:
		v := math.Float64frombits(binary.BigEndian.Uint64(c.buf[c.pos:]))
		c.pos += 8
		return v, nil
	case config.TypeTIMEDATE64:
		v := TimeDate64{
			Seconds: binary.BigEndian.Uint32(c.buf[c.pos:]),
			Micros:  binary.BigEndian.Uint32(c.buf[c.pos+4:]),
		}
		c.pos += 8
		return v, nil
	default:
		return nil, fmt.Errorf("%w: unknown primitive type %d", ErrMalformedFrame, t)
	}
}

func unmarshalTypedSlice(c *cursor, t config.PrimitiveType, count int) (any, error) {
	switch t {
	case config.TypeUTF16:
		out := make([]uint16, count)
		for i := range out {
			v, err := unmarshalScalar(c, t)
			if err != nil {
				return nil, err
			}
			out[i] = v.(uint16)
		}
		return out, nil
	case config.TypeINT16:
		out := make([]int16, count)
		for i := range out {
			v, err := unmarshalScalar(c, t)
			if err != nil {
				return nil, err
			}
			out[i] = v.(int16)
		}
		return out, nil
	case config.TypeUINT16:
		out := make([]uint16, count)
		for i := range out {
			v, err := unmarshalScalar(c, t)
			if err != nil {
				return nil, err
			}
			out[i] = v.(uint16)
		}
		return out, nil
	case config.TypeINT32:
		out := make([]int32, count)
		for i := range out {
			v, err := unmarshalScalar(c, t)
			if err != nil {
				return nil, err
			}
			out[i] = v.(int32)
		}
		return out, nil
	case config.TypeUINT32:
		out := make([]uint32, count)
		for i := range out {
			v, err := unmarshalScalar(c, t)
			if err != nil {
				return nil, err
			}
			out[i] = v.(uint32)
		}
		return out, nil
	case config.TypeREAL32:
		out := make([]float32, count)
		for i := range out {
			v, err := unmarshalScalar(c, t)
			if err != nil {
				return nil, err
			}
			out[i] = v.(float32)
		}
		return out, nil
	case config.TypeTIMEDATE32:
		out := make([]TimeDate32, count)
		for i := range out {
			v, err := unmarshalScalar(c, t)
			if err != nil {
				return nil, err
			}
			out[i] = v.(TimeDate32)
		}
		return out, nil
	case config.TypeTIMEDATE48:
		out := make([]TimeDate48, count)
		for i := range out {
			v, err := unmarshalScalar(c, t)
			if err != nil {
				return nil, err
			}
			out[i] = v.(TimeDate48)
		}
		return out, nil
	case config.TypeINT64:
		out := make([]int64, count)
		for i := range out {
			v, err := unmarshalScalar(c, t)
			if err != nil {
				return nil, err
			}
			out[i] = v.(int64)
		}
		return out, nil
	case config.TypeUINT64:
		out := make([]uint64, count)
		for i := range out {
			v, err := unmarshalScalar(c, t)
			if err != nil {
				return nil, err
			}
			out[i] = v.(uint64)
		}
		return out, nil
	case config.TypeREAL64:
		out := make([]float64, count)
		for i := range out {
			v, err := unmarshalScalar(c, t)
			if err != nil {
				return nil, err
			}
			out[i] = v.(float64)
		}
		return out, nil
	case config.TypeTIMEDATE64:
		out := make([]TimeDate64, count)
		for i := range out {
			v, err := unmarshalScalar(c, t)
			if err != nil {
				return nil, err
			}
			out[i] = v.(TimeDate64)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown primitive type %d", ErrMalformedFrame, t)
	}
}

func sliceElem(v any, idx, count int) (any, error) {
	switch s := v.(type) {
	case []uint16:
		return checkLen(s, idx, count, func(i int) any { return s[i] })
	case []int16:
		return checkLen(s, idx, count, func(i int) any { return s[i] })
	case []int32:
		return checkLen(s, idx, count, func(i int) any { return s[i] })
	case []uint32:
		return checkLen(s, idx, count, func(i int) any { return s[i] })
	case []float32:
		return checkLen(s, idx, count, func(i int) any { return s[i] })
	case []TimeDate32:
		return checkLen(s, idx, count, func(i int) any { return s[i] })
	case []TimeDate48:
		return checkLen(s, idx, count, func(i int) any { return s[i] })
	case []int64:
		return checkLen(s, idx, count, func(i int) any { return s[i] })
	case []uint64:
		return checkLen(s, idx, count, func(i int) any { return s[i] })
	case []float64:
		return checkLen(s, idx, count, func(i int) any { return s[i] })
	case []TimeDate64:
		return checkLen(s, idx, count, func(i int) any { return s[i] })
	default:
		return nil, fmt.Errorf("%w: unsupported array host type %T", ErrMalformedFrame, v)
	}
}

func checkLen[T any](s []T, idx, count int, get func(int) any) (any, error) {
	if len(s) != count {
		return nil, fmt.Errorf("%w: array length %d != expected %d", ErrMalformedFrame, len(s), count)
	}
	return get(idx), nil
}

func toByteSlice(t config.PrimitiveType, v any) ([]byte, bool) {
	switch t {
	case config.TypeBOOL8:
		bs, ok := v.([]bool)
		if !ok {
			return nil, false
		}
		out := make([]byte, len(bs))
		for i, b := range bs {
			if b {
				out[i] = 1
			}
		}
		return out, true
	case config.TypeCHAR8, config.TypeUINT8:
		b, ok := v.([]byte)
		return b, ok
	case config.TypeINT8:
		s, ok := v.([]int8)
		if !ok {
			return nil, false
		}
		out := make([]byte, len(s))
		for i, x := range s {
			out[i] = byte(x)
		}
		return out, true
	default:
		return nil, false
	}
}

func fromByteSlice(t config.PrimitiveType, raw []byte) any {
	switch t {
	case config.TypeBOOL8:
		out := make([]bool, len(raw))
		for i, b := range raw {
			out[i] = b != 0
		}
		return out
	case config.TypeINT8:
		out := make([]int8, len(raw))
		for i, b := range raw {
			out[i] = int8(b)
		}
		return out
	default: // CHAR8, UINT8
		return raw
	}
}
