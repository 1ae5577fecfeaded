package wasm

const (
	// Magic is the binary magic number ("\0asm" read little endian).
	Magic uint32 = 0x6D736100

	// Version is the binary format version the encoder writes.
	Version uint32 = 0x01
)

// Section IDs. Non-custom sections are written in increasing order.
const (
	SectionCustom   byte = 0
	SectionType     byte = 1
	SectionImport   byte = 2
	SectionFunction byte = 3
	SectionMemory   byte = 5
	SectionExport   byte = 7
	SectionCode     byte = 10
)

// Import and export kinds.
const (
	KindFunc   byte = 0
	KindMemory byte = 2
)

// ValType is a wasm value type as it appears in the binary format.
type ValType byte

const (
	ValI32 ValType = 0x7F
	ValI64 ValType = 0x7E
	ValF32 ValType = 0x7D
	ValF64 ValType = 0x7C
)

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	}
	return "unknown"
}

// FuncTypeByte prefixes each entry of the type section.
const FuncTypeByte byte = 0x60

// LimitsHasMax marks limits that carry a maximum.
const LimitsHasMax byte = 0x01

// Opcodes used by generated and hand-written code bodies.
const (
	OpUnreachable byte = 0x00
	OpNop         byte = 0x01
	OpEnd         byte = 0x0B
	OpReturn      byte = 0x0F
	OpCall        byte = 0x10
	OpDrop        byte = 0x1A

	OpLocalGet byte = 0x20
	OpLocalSet byte = 0x21
	OpLocalTee byte = 0x22

	OpI32Load  byte = 0x28
	OpI64Load  byte = 0x29
	OpF32Load  byte = 0x2A
	OpF64Load  byte = 0x2B
	OpI32Store byte = 0x36
	OpI64Store byte = 0x37
	OpF32Store byte = 0x38
	OpF64Store byte = 0x39

	OpI32Const byte = 0x41
	OpI64Const byte = 0x42
	OpF32Const byte = 0x43
	OpF64Const byte = 0x44

	OpI32Eqz byte = 0x45
	OpI32Add byte = 0x6A
	OpI32Sub byte = 0x6B
	OpI32Mul byte = 0x6C
	OpI64Add byte = 0x7C
	OpI64Sub byte = 0x7D
	OpI64Mul byte = 0x7E
	OpF32Add byte = 0x92
	OpF32Mul byte = 0x94
	OpF64Add byte = 0xA0
	OpF64Mul byte = 0xA2

	OpI32WrapI64     byte = 0xA7
	OpI64ExtendI32S  byte = 0xAC
	OpI64ExtendI32U  byte = 0xAD
	OpF64ConvertI32S byte = 0xB7
)
