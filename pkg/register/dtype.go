package register

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DType identifies the wire representation of a register's value. Every
// multi-byte scalar is little-endian on the wire.
type DType uint8

const (
	U8 DType = iota
	S8
	U16
	S16
	U32
	S32
	U64
	S64
	Float
	Str
	ByteArray512
	Bool
)

var dtypeNames = map[DType]string{
	U8: "u8", S8: "s8", U16: "u16", S16: "s16",
	U32: "u32", S32: "s32", U64: "u64", S64: "s64",
	Float: "float", Str: "str", ByteArray512: "byte_array_512", Bool: "bool",
}

func (d DType) String() string {
	if n, ok := dtypeNames[d]; ok {
		return n
	}
	return fmt.Sprintf("dtype(%d)", uint8(d))
}

// ParseDType maps a dictionary's lexicon string onto a DType. Unknown
// strings return ok=false so the caller can skip the register per the
// dictionary loader's "unknown dtype -> skip and log" rule.
func ParseDType(s string) (DType, bool) {
	switch s {
	case "u8", "uint8":
		return U8, true
	case "s8", "int8":
		return S8, true
	case "u16", "uint16":
		return U16, true
	case "s16", "int16":
		return S16, true
	case "u32", "uint32":
		return U32, true
	case "s32", "int32":
		return S32, true
	case "u64", "uint64":
		return U64, true
	case "s64", "int64":
		return S64, true
	case "float", "float32":
		return Float, true
	case "str", "string":
		return Str, true
	case "byte_array_512":
		return ByteArray512, true
	case "bool", "boolean":
		return Bool, true
	default:
		return 0, false
	}
}

// Size returns the fixed wire size in bytes for a dtype. Str has no fixed
// size (it's bounded by the transport's declared buffer, typically 512);
// Size returns 0 for it.
func (d DType) Size() int {
	switch d {
	case U8, S8, Bool:
		return 1
	case U16, S16:
		return 2
	case U32, S32, Float:
		return 4
	case U64, S64:
		return 8
	case ByteArray512:
		return 512
	case Str:
		return 0
	default:
		return 0
	}
}

// IsInteger reports whether the dtype is an integer scalar (used to decide
// whether range/enum/bitfield semantics apply).
func (d DType) IsInteger() bool {
	switch d {
	case U8, S8, U16, S16, U32, S32, U64, S64, Bool:
		return true
	default:
		return false
	}
}

// Encode converts a Go value into its little-endian wire representation
// for the given dtype. For Str, size is the declared field width and the
// string is NUL-padded to it; for ByteArray512, value must be []byte of
// at most 512 bytes and is passed through verbatim, without padding.
func Encode(dtype DType, value any, size int) ([]byte, error) {
	switch dtype {
	case U8:
		v, err := toUint64(value)
		if err != nil {
			return nil, err
		}
		return []byte{byte(v)}, nil
	case S8:
		v, err := toInt64(value)
		if err != nil {
			return nil, err
		}
		return []byte{byte(int8(v))}, nil
	case Bool:
		v, err := toBool(value)
		if err != nil {
			return nil, err
		}
		if v {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case U16:
		v, err := toUint64(value)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, uint16(v))
		return buf, nil
	case S16:
		v, err := toInt64(value)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, uint16(int16(v)))
		return buf, nil
	case U32:
		v, err := toUint64(value)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(v))
		return buf, nil
	case S32:
		v, err := toInt64(value)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(int32(v)))
		return buf, nil
	case U64:
		v, err := toUint64(value)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, v)
		return buf, nil
	case S64:
		v, err := toInt64(value)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(v))
		return buf, nil
	case Float:
		v, err := toFloat64(value)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
		return buf, nil
	case Str:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("register: expected string for Str dtype, got %T", value)
		}
		if size <= 0 {
			size = len(s) + 1
		}
		buf := make([]byte, size)
		n := copy(buf, s)
		_ = n
		return buf, nil
	case ByteArray512:
		b, ok := value.([]byte)
		if !ok {
			return nil, fmt.Errorf("register: expected []byte for ByteArray512 dtype, got %T", value)
		}
		if len(b) > 512 {
			return nil, fmt.Errorf("register: %d bytes exceeds the 512-byte buffer", len(b))
		}
		return append([]byte(nil), b...), nil
	default:
		return nil, fmt.Errorf("register: unsupported dtype %v", dtype)
	}
}

// Decode converts a wire byte slice into a Go value for the given dtype.
// Str is NUL-trimmed at the first NUL byte; trailing bytes beyond an
// embedded NUL are implementation-defined and discarded.
func Decode(dtype DType, data []byte) (any, error) {
	switch dtype {
	case U8:
		if len(data) < 1 {
			return nil, fmt.Errorf("register: short data for u8")
		}
		return data[0], nil
	case S8:
		if len(data) < 1 {
			return nil, fmt.Errorf("register: short data for s8")
		}
		return int8(data[0]), nil
	case Bool:
		if len(data) < 1 {
			return nil, fmt.Errorf("register: short data for bool")
		}
		return data[0] != 0, nil
	case U16:
		if len(data) < 2 {
			return nil, fmt.Errorf("register: short data for u16")
		}
		return binary.LittleEndian.Uint16(data), nil
	case S16:
		if len(data) < 2 {
			return nil, fmt.Errorf("register: short data for s16")
		}
		return int16(binary.LittleEndian.Uint16(data)), nil
	case U32:
		if len(data) < 4 {
			return nil, fmt.Errorf("register: short data for u32")
		}
		return binary.LittleEndian.Uint32(data), nil
	case S32:
		if len(data) < 4 {
			return nil, fmt.Errorf("register: short data for s32")
		}
		return int32(binary.LittleEndian.Uint32(data)), nil
	case U64:
		if len(data) < 8 {
			return nil, fmt.Errorf("register: short data for u64")
		}
		return binary.LittleEndian.Uint64(data), nil
	case S64:
		if len(data) < 8 {
			return nil, fmt.Errorf("register: short data for s64")
		}
		return int64(binary.LittleEndian.Uint64(data)), nil
	case Float:
		if len(data) < 4 {
			return nil, fmt.Errorf("register: short data for float")
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(data)), nil
	case Str:
		return decodeString(data), nil
	case ByteArray512:
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	default:
		return nil, fmt.Errorf("register: unsupported dtype %v", dtype)
	}
}

// decodeString trims at the first NUL byte; bytes after an embedded NUL
// beyond the first are discarded rather than interpreted.
func decodeString(data []byte) string {
	for i, b := range data {
		if b == 0 {
			return string(data[:i])
		}
	}
	return string(data)
}

func toUint64(value any) (uint64, error) {
	switch v := value.(type) {
	case uint64:
		return v, nil
	case uint32:
		return uint64(v), nil
	case uint16:
		return uint64(v), nil
	case uint8:
		return uint64(v), nil
	case int:
		return uint64(v), nil
	case int8:
		return uint64(v), nil
	case int16:
		return uint64(v), nil
	case int32:
		return uint64(v), nil
	case int64:
		return uint64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("register: cannot convert %T to unsigned integer", value)
	}
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("register: cannot convert %T to signed integer", value)
	}
}

func toFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("register: cannot convert %T to float", value)
	}
}

// ParseValue converts storage text (a dictionary storage/default attribute
// or a .xcf storage value) into the typed value Encode expects for dtype:
// decimal (or 0x-prefixed hex) for integers, decimal for floats, the
// literal text for Str, and hex for ByteArray512.
func ParseValue(dtype DType, s string) (any, error) {
	s = strings.TrimSpace(s)
	intBase := 0 // accepts the 0x prefix
	if t := strings.TrimLeft(s, "+-"); len(t) > 1 && t[0] == '0' && t[1] >= '0' && t[1] <= '9' {
		intBase = 10 // a leading zero is decimal, not octal
	}
	switch dtype {
	case Str:
		return s, nil
	case ByteArray512:
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("register: decode hex storage: %w", err)
		}
		return b, nil
	case Float:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return nil, err
		}
		return float32(f), nil
	case Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, err
		}
		return b, nil
	case U8, U16, U32, U64:
		v, err := strconv.ParseUint(s, intBase, 64)
		if err != nil {
			return nil, err
		}
		switch dtype {
		case U8:
			return uint8(v), nil
		case U16:
			return uint16(v), nil
		case U32:
			return uint32(v), nil
		default:
			return v, nil
		}
	case S8, S16, S32, S64:
		v, err := strconv.ParseInt(s, intBase, 64)
		if err != nil {
			return nil, err
		}
		switch dtype {
		case S8:
			return int8(v), nil
		case S16:
			return int16(v), nil
		case S32:
			return int32(v), nil
		default:
			return v, nil
		}
	default:
		return nil, fmt.Errorf("register: unsupported dtype %v", dtype)
	}
}

func toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case uint64:
		return v != 0, nil
	case int64:
		return v != 0, nil
	default:
		return false, fmt.Errorf("register: cannot convert %T to bool", value)
	}
}
