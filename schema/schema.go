// Package schema describes the per-point binary layout that the rest of
// the index treats as an arbitrary attribute table: which dimensions exist,
// their scalar types and byte sizes, and the stride of one point record.
//
// The point-attribute codec itself — binding a Schema to a real point-cloud
// library's representation — is explicitly out of scope for this repo; a
// Schema only ever describes bytes, never interprets them beyond the typed
// accessors below.
package schema

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// ScalarType identifies the wire representation of one dimension's value.
type ScalarType uint8

// The scalar types a Dimension may hold. Sizes are fixed by the type, never
// by the data, so a Schema's PointSize is always computable in O(len(dims)).
const (
	Uint8 ScalarType = iota
	Int8
	Uint16
	Int16
	Uint32
	Int32
	Uint64
	Int64
	Float32
	Float64
)

// Size returns the byte width of t.
func (t ScalarType) Size() int {
	switch t {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32, Float32:
		return 4
	case Uint64, Int64, Float64:
		return 8
	default:
		panic(errors.Errorf("invalid scalar type %d", t))
	}
}

// Dimension is one named, typed column of a point record.
type Dimension struct {
	Name string
	Type ScalarType
}

// Size returns the dimension's byte width.
func (d Dimension) Size() int {
	return d.Type.Size()
}

// TubeIDDimension is prepended to a Schema by Celled to form the on-disk
// layout for SparseChunkData: an 8-byte raw-index key ahead of the native
// point record, per the core chunk blob format.
const TubeIDDimension = "TubeId"

// XDimension, YDimension, and ZDimension are the conventional names a
// Schema must use for its positional dimensions. ContiguousChunkData and
// SparseChunkData read these three by name to recover a point.Point from a
// raw record; every other dimension is opaque attribute data to this repo.
const (
	XDimension = "X"
	YDimension = "Y"
	ZDimension = "Z"
)

// Schema is an ordered list of dimensions with each dimension's byte offset
// precomputed. BinaryPoint accessors find a dimension by name with a linear
// scan of the list, then use its precomputed offset.
type Schema struct {
	dims    []Dimension
	offsets []int
	size    int
}

// New builds a Schema from an ordered dimension list.
func New(dims ...Dimension) Schema {
	offsets := make([]int, len(dims))
	size := 0
	for i, d := range dims {
		offsets[i] = size
		size += d.Size()
	}
	return Schema{dims: dims, offsets: offsets, size: size}
}

// Dims returns the schema's dimensions in order.
func (s Schema) Dims() []Dimension {
	return s.dims
}

// PointSize is the byte stride of one point record under this schema.
func (s Schema) PointSize() int {
	return s.size
}

// Celled returns a copy of s with an 8-byte TubeId dimension prepended,
// matching the Sparse chunk on-disk record layout.
func (s Schema) Celled() Schema {
	celled := make([]Dimension, 0, len(s.dims)+1)
	celled = append(celled, Dimension{Name: TubeIDDimension, Type: Uint64})
	celled = append(celled, s.dims...)
	return New(celled...)
}

// offset returns the byte offset of the named dimension and its type, or
// false if the schema has no such dimension.
func (s Schema) offset(name string) (int, ScalarType, bool) {
	for i, d := range s.dims {
		if d.Name == name {
			return s.offsets[i], d.Type, true
		}
	}
	return 0, 0, false
}

// Find reports whether the schema contains the named dimension.
func (s Schema) Find(name string) (Dimension, bool) {
	for _, d := range s.dims {
		if d.Name == name {
			return d, true
		}
	}
	return Dimension{}, false
}

// BinaryPoint is a typed view over one point record's raw bytes under a
// fixed Schema. It does not own or copy the bytes; callers control lifetime,
// exactly as the core spec's Entry owns the raw pointer that a BinaryPoint
// is constructed against.
type BinaryPoint struct {
	schema Schema
	raw    []byte
}

// NewBinaryPoint wraps raw (which must be at least schema.PointSize() bytes)
// for typed field access.
func NewBinaryPoint(schema Schema, raw []byte) BinaryPoint {
	return BinaryPoint{schema: schema, raw: raw}
}

// Raw returns the underlying byte slice.
func (bp BinaryPoint) Raw() []byte {
	return bp.raw
}

func (bp BinaryPoint) field(name string) ([]byte, ScalarType) {
	off, typ, ok := bp.schema.offset(name)
	if !ok {
		panic(errors.Errorf("schema has no dimension %q", name))
	}
	sz := typ.Size()
	return bp.raw[off : off+sz], typ
}

// GetFloat64 reads the named dimension as a float64, converting from its
// native width (float32 or float64) as needed.
func (bp BinaryPoint) GetFloat64(name string) float64 {
	b, typ := bp.field(name)
	switch typ {
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	default:
		panic(errors.Errorf("dimension %q is not a float type", name))
	}
}

// SetFloat64 writes v into the named dimension, narrowing to float32 if
// that is the dimension's native width.
func (bp BinaryPoint) SetFloat64(name string, v float64) {
	b, typ := bp.field(name)
	switch typ {
	case Float32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case Float64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	default:
		panic(errors.Errorf("dimension %q is not a float type", name))
	}
}

// GetUint64 reads the named dimension as a uint64, widening from its native
// unsigned integer width as needed.
func (bp BinaryPoint) GetUint64(name string) uint64 {
	b, typ := bp.field(name)
	switch typ {
	case Uint8:
		return uint64(b[0])
	case Uint16:
		return uint64(binary.LittleEndian.Uint16(b))
	case Uint32:
		return uint64(binary.LittleEndian.Uint32(b))
	case Uint64:
		return binary.LittleEndian.Uint64(b)
	default:
		panic(errors.Errorf("dimension %q is not an unsigned integer type", name))
	}
}

// SetUint64 writes v into the named dimension, narrowing to its native
// unsigned integer width.
func (bp BinaryPoint) SetUint64(name string, v uint64) {
	b, typ := bp.field(name)
	switch typ {
	case Uint8:
		b[0] = byte(v)
	case Uint16:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case Uint32:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case Uint64:
		binary.LittleEndian.PutUint64(b, v)
	default:
		panic(errors.Errorf("dimension %q is not an unsigned integer type", name))
	}
}

// GetInt64 reads the named dimension as an int64.
func (bp BinaryPoint) GetInt64(name string) int64 {
	b, typ := bp.field(name)
	switch typ {
	case Int8:
		return int64(int8(b[0]))
	case Int16:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case Int32:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	case Int64:
		return int64(binary.LittleEndian.Uint64(b))
	default:
		panic(errors.Errorf("dimension %q is not a signed integer type", name))
	}
}

// SetInt64 writes v into the named dimension, narrowing to its native
// signed integer width.
func (bp BinaryPoint) SetInt64(name string, v int64) {
	b, typ := bp.field(name)
	switch typ {
	case Int8:
		b[0] = byte(int8(v))
	case Int16:
		binary.LittleEndian.PutUint16(b, uint16(int16(v)))
	case Int32:
		binary.LittleEndian.PutUint32(b, uint32(int32(v)))
	case Int64:
		binary.LittleEndian.PutUint64(b, uint64(v))
	default:
		panic(errors.Errorf("dimension %q is not a signed integer type", name))
	}
}
