package runtime

import (
	"fmt"
	"math"
	"reflect"

	"github.com/tetratelabs/wazero/api"

	"github.com/belagoesr/mun/types"
)

var (
	anyType       = reflect.TypeFor[any]()
	unitType      = reflect.TypeFor[struct{}]()
	structRefType = reflect.TypeFor[StructRef]()
)

// goKinds maps the Go type that represents each primitive. The mapping is
// exact: an int8 never stands in for an i32.
var goKinds = map[reflect.Type]types.Kind{
	reflect.TypeFor[bool]():    types.KindBool,
	reflect.TypeFor[int8]():    types.KindI8,
	reflect.TypeFor[int16]():   types.KindI16,
	reflect.TypeFor[int32]():   types.KindI32,
	reflect.TypeFor[int64]():   types.KindI64,
	reflect.TypeFor[uint8]():   types.KindU8,
	reflect.TypeFor[uint16]():  types.KindU16,
	reflect.TypeFor[uint32]():  types.KindU32,
	reflect.TypeFor[uint64]():  types.KindU64,
	reflect.TypeFor[int]():     types.KindISize,
	reflect.TypeFor[uint]():    types.KindUSize,
	reflect.TypeFor[float32](): types.KindF32,
	reflect.TypeFor[float64](): types.KindF64,
}

func typeFor[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}

func goTypeName(v any) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", v)
}

// matches reports whether values of t can be surfaced as gt.
func matches(gt reflect.Type, t *types.Descriptor) bool {
	if gt == anyType {
		return true
	}
	switch {
	case t.Kind.IsPrimitive():
		k, ok := goKinds[gt]
		return ok && k == t.Kind
	case t.Kind == types.KindStruct:
		return gt == structRefType
	case t.Kind == types.KindArray:
		ah, ok := zeroArrayHandle(gt)
		return ok && matches(ah.elemType(), t.Elem)
	}
	return false
}

// zeroArrayHandle returns the zero ArrayRef instantiation for gt.
func zeroArrayHandle(gt reflect.Type) (arrayHandle, bool) {
	if gt.Kind() != reflect.Struct {
		return nil, false
	}
	ah, ok := reflect.Zero(gt).Interface().(arrayHandle)
	return ah, ok
}

// toBits encodes v as the raw little-endian bits of kind k. It reports false
// when v does not have the Go type of k.
func toBits(k types.Kind, v any) (uint64, bool) {
	switch k {
	case types.KindBool:
		b, ok := v.(bool)
		if b {
			return 1, ok
		}
		return 0, ok
	case types.KindI8:
		x, ok := v.(int8)
		return uint64(uint8(x)), ok
	case types.KindI16:
		x, ok := v.(int16)
		return uint64(uint16(x)), ok
	case types.KindI32:
		x, ok := v.(int32)
		return uint64(uint32(x)), ok
	case types.KindI64:
		x, ok := v.(int64)
		return uint64(x), ok
	case types.KindU8:
		x, ok := v.(uint8)
		return uint64(x), ok
	case types.KindU16:
		x, ok := v.(uint16)
		return uint64(x), ok
	case types.KindU32:
		x, ok := v.(uint32)
		return uint64(x), ok
	case types.KindU64:
		x, ok := v.(uint64)
		return x, ok
	case types.KindISize:
		x, ok := v.(int)
		return uint64(int64(x)), ok
	case types.KindUSize:
		x, ok := v.(uint)
		return uint64(x), ok
	case types.KindF32:
		x, ok := v.(float32)
		return uint64(math.Float32bits(x)), ok
	case types.KindF64:
		x, ok := v.(float64)
		return math.Float64bits(x), ok
	}
	return 0, false
}

// fromBits decodes raw bits of kind k into the matching Go value.
func fromBits(k types.Kind, bits uint64) any {
	switch k {
	case types.KindBool:
		return bits&0xff != 0
	case types.KindI8:
		return int8(bits)
	case types.KindI16:
		return int16(bits)
	case types.KindI32:
		return int32(uint32(bits))
	case types.KindI64:
		return int64(bits)
	case types.KindU8:
		return uint8(bits)
	case types.KindU16:
		return uint16(bits)
	case types.KindU32:
		return uint32(bits)
	case types.KindU64:
		return bits
	case types.KindISize:
		return int(int64(bits))
	case types.KindUSize:
		return uint(bits)
	case types.KindF32:
		return math.Float32frombits(uint32(bits))
	case types.KindF64:
		return math.Float64frombits(bits)
	}
	return nil
}

// slotType is the engine value type carrying a primitive. Narrow integers
// travel as i32; isize and usize as i64.
func slotType(k types.Kind) api.ValueType {
	switch k {
	case types.KindI64, types.KindU64, types.KindISize, types.KindUSize:
		return api.ValueTypeI64
	case types.KindF32:
		return api.ValueTypeF32
	case types.KindF64:
		return api.ValueTypeF64
	default:
		return api.ValueTypeI32
	}
}

// bitsToSlot widens memory bits into a call slot. Signed narrow integers are
// sign extended to 32 bits.
func bitsToSlot(k types.Kind, bits uint64) uint64 {
	switch k {
	case types.KindI8:
		return uint64(uint32(int32(int8(bits))))
	case types.KindI16:
		return uint64(uint32(int32(int16(bits))))
	case types.KindBool, types.KindU8, types.KindU16, types.KindI32, types.KindU32, types.KindF32:
		return uint64(uint32(bits))
	default:
		return bits
	}
}

// slotToBits narrows a call slot to the storage width of k.
func slotToBits(k types.Kind, slot uint64) uint64 {
	switch k.Width() {
	case 1:
		return slot & 0xff
	case 2:
		return slot & 0xffff
	case 4:
		return slot & 0xffffffff
	default:
		return slot
	}
}
