package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/belagoesr/mun/runtime"
	"github.com/belagoesr/mun/types"
)

func parseArgs(rt *runtime.Runtime, def types.FuncDef, raw []string) ([]any, error) {
	if len(raw) != len(def.Params) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", def.Name, len(def.Params), len(raw))
	}
	args := make([]any, len(raw))
	for i, p := range def.Params {
		d, err := rt.Types().Resolve(p.Type)
		if err != nil {
			return nil, err
		}
		if args[i], err = parseArg(rt, d, raw[i]); err != nil {
			return nil, fmt.Errorf("argument %s: %w", p.Name, err)
		}
	}
	return args, nil
}

// parseArg converts command line text to the Go value for d. Arrays of
// primitives are written as "[1, 2, 3]" and allocated on the runtime heap.
func parseArg(rt *runtime.Runtime, d *types.Descriptor, text string) (any, error) {
	text = strings.TrimSpace(text)
	switch {
	case d.Kind.IsPrimitive():
		return parseScalar(d.Kind, text)
	case d.Kind == types.KindArray && d.Elem.Kind.IsPrimitive():
		return parseArray(rt, d.Elem, text)
	}
	return nil, fmt.Errorf("%s values cannot be given as text", d.Name)
}

func parseScalar(k types.Kind, s string) (any, error) {
	var (
		v   any
		err error
	)
	switch k {
	case types.KindBool:
		v, err = strconv.ParseBool(s)
	case types.KindI8:
		v, err = parseInt[int8](s, 8)
	case types.KindI16:
		v, err = parseInt[int16](s, 16)
	case types.KindI32:
		v, err = parseInt[int32](s, 32)
	case types.KindI64:
		v, err = parseInt[int64](s, 64)
	case types.KindISize:
		v, err = parseInt[int](s, strconv.IntSize)
	case types.KindU8:
		v, err = parseUint[uint8](s, 8)
	case types.KindU16:
		v, err = parseUint[uint16](s, 16)
	case types.KindU32:
		v, err = parseUint[uint32](s, 32)
	case types.KindU64:
		v, err = parseUint[uint64](s, 64)
	case types.KindUSize:
		v, err = parseUint[uint](s, strconv.IntSize)
	case types.KindF32:
		var f float64
		f, err = strconv.ParseFloat(s, 32)
		v = float32(f)
	case types.KindF64:
		v, err = strconv.ParseFloat(s, 64)
	default:
		return nil, fmt.Errorf("%s is not a primitive", k)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", k, s)
	}
	return v, nil
}

func parseInt[T int8 | int16 | int32 | int64 | int](s string, bits int) (T, error) {
	n, err := strconv.ParseInt(s, 0, bits)
	return T(n), err
}

func parseUint[T uint8 | uint16 | uint32 | uint64 | uint](s string, bits int) (T, error) {
	n, err := strconv.ParseUint(s, 0, bits)
	return T(n), err
}

func splitList(text string) []string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "[")
	text = strings.TrimSuffix(text, "]")
	if strings.TrimSpace(text) == "" {
		return nil
	}
	parts := strings.Split(text, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseArray(rt *runtime.Runtime, elem *types.Descriptor, text string) (any, error) {
	parts := splitList(text)
	vals := make([]any, len(parts))
	for i, p := range parts {
		v, err := parseScalar(elem.Kind, p)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		vals[i] = v
	}

	switch elem.Kind {
	case types.KindBool:
		return construct[bool](rt, elem.Name, vals)
	case types.KindI8:
		return construct[int8](rt, elem.Name, vals)
	case types.KindI16:
		return construct[int16](rt, elem.Name, vals)
	case types.KindI32:
		return construct[int32](rt, elem.Name, vals)
	case types.KindI64:
		return construct[int64](rt, elem.Name, vals)
	case types.KindISize:
		return construct[int](rt, elem.Name, vals)
	case types.KindU8:
		return construct[uint8](rt, elem.Name, vals)
	case types.KindU16:
		return construct[uint16](rt, elem.Name, vals)
	case types.KindU32:
		return construct[uint32](rt, elem.Name, vals)
	case types.KindU64:
		return construct[uint64](rt, elem.Name, vals)
	case types.KindUSize:
		return construct[uint](rt, elem.Name, vals)
	case types.KindF32:
		return construct[float32](rt, elem.Name, vals)
	default:
		return construct[float64](rt, elem.Name, vals)
	}
}

func construct[T any](rt *runtime.Runtime, elemType string, vals []any) (any, error) {
	arr, err := runtime.ConstructArray(rt, elemType, func(yield func(T) bool) {
		for _, v := range vals {
			if !yield(v.(T)) {
				return
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return arr, nil
}
