package wat

import "github.com/belagoesr/mun/wasm"

type immKind int

const (
	immNone immKind = iota
	immLocal
	immFunc
	immI32
	immI64
	immF32
	immF64
	immMem
)

type instrInfo struct {
	align uint32 // natural alignment in bytes, memory instructions only
	imm   immKind
	op    byte
}

var instrs = map[string]instrInfo{
	"unreachable": {op: wasm.OpUnreachable},
	"nop":         {op: wasm.OpNop},
	"return":      {op: wasm.OpReturn},
	"drop":        {op: wasm.OpDrop},
	"call":        {op: wasm.OpCall, imm: immFunc},

	"local.get": {op: wasm.OpLocalGet, imm: immLocal},
	"local.set": {op: wasm.OpLocalSet, imm: immLocal},
	"local.tee": {op: wasm.OpLocalTee, imm: immLocal},

	"i32.load":  {op: wasm.OpI32Load, imm: immMem, align: 4},
	"i64.load":  {op: wasm.OpI64Load, imm: immMem, align: 8},
	"f32.load":  {op: wasm.OpF32Load, imm: immMem, align: 4},
	"f64.load":  {op: wasm.OpF64Load, imm: immMem, align: 8},
	"i32.store": {op: wasm.OpI32Store, imm: immMem, align: 4},
	"i64.store": {op: wasm.OpI64Store, imm: immMem, align: 8},
	"f32.store": {op: wasm.OpF32Store, imm: immMem, align: 4},
	"f64.store": {op: wasm.OpF64Store, imm: immMem, align: 8},

	"i32.const": {op: wasm.OpI32Const, imm: immI32},
	"i64.const": {op: wasm.OpI64Const, imm: immI64},
	"f32.const": {op: wasm.OpF32Const, imm: immF32},
	"f64.const": {op: wasm.OpF64Const, imm: immF64},

	"i32.eqz": {op: wasm.OpI32Eqz},
	"i32.add": {op: wasm.OpI32Add},
	"i32.sub": {op: wasm.OpI32Sub},
	"i32.mul": {op: wasm.OpI32Mul},
	"i64.add": {op: wasm.OpI64Add},
	"i64.sub": {op: wasm.OpI64Sub},
	"i64.mul": {op: wasm.OpI64Mul},
	"f32.add": {op: wasm.OpF32Add},
	"f32.mul": {op: wasm.OpF32Mul},
	"f64.add": {op: wasm.OpF64Add},
	"f64.mul": {op: wasm.OpF64Mul},

	"i32.wrap_i64":      {op: wasm.OpI32WrapI64},
	"i64.extend_i32_s":  {op: wasm.OpI64ExtendI32S},
	"i64.extend_i32_u":  {op: wasm.OpI64ExtendI32U},
	"f64.convert_i32_s": {op: wasm.OpF64ConvertI32S},
}
