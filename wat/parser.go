package wat

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"

	"github.com/belagoesr/mun/wasm"
	"github.com/belagoesr/mun/wat/internal/token"
)

type parser struct {
	mod       *wasm.Module
	funcNames map[string]uint32
	locals    map[string]uint32
	tokens    []token.Token
	pos       int
	numLocals uint32
}

func newParser(tokens []token.Token) *parser {
	return &parser{
		tokens:    tokens,
		mod:       &wasm.Module{},
		funcNames: make(map[string]uint32),
	}
}

func (p *parser) peek() *token.Token {
	if p.pos >= len(p.tokens) {
		return nil
	}
	return &p.tokens[p.pos]
}

func (p *parser) next() *token.Token {
	t := p.peek()
	if t != nil {
		p.pos++
	}
	return t
}

func (p *parser) expect(typ token.Type) (*token.Token, error) {
	t := p.next()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of input")
	}
	if t.Type != typ {
		return nil, fmt.Errorf("line %d: expected %v, got %q", t.Line, typ, t.Value)
	}
	return t, nil
}

// peekField reports whether the next tokens open a field named kw.
func (p *parser) peekField(kw string) bool {
	if p.pos+1 >= len(p.tokens) {
		return false
	}
	return p.tokens[p.pos].Type == token.LParen &&
		p.tokens[p.pos+1].Type == token.Ident && p.tokens[p.pos+1].Value == kw
}

// optionalID consumes a $name if one is next.
func (p *parser) optionalID() string {
	if t := p.peek(); t != nil && t.Type == token.Ident && strings.HasPrefix(t.Value, "$") {
		p.pos++
		return t.Value
	}
	return ""
}

// skipField moves past the parenthesized field starting at the cursor.
func (p *parser) skipField() error {
	depth := 0
	for {
		t := p.next()
		if t == nil {
			return fmt.Errorf("unexpected end of input")
		}
		switch t.Type {
		case token.LParen:
			depth++
		case token.RParen:
			depth--
			if depth == 0 {
				return nil
			}
		}
	}
}

func (p *parser) parseModule() (*wasm.Module, error) {
	if _, err := p.expect(token.LParen); err != nil {
		return nil, err
	}
	if t := p.next(); t == nil || t.Type != token.Ident || t.Value != "module" {
		return nil, fmt.Errorf("expected 'module'")
	}
	p.optionalID()

	// Imports take the low function indices, so defined functions and
	// exports are resolved once every field has been seen.
	var funcs, exports []int
	for {
		t := p.peek()
		if t == nil {
			return nil, fmt.Errorf("unexpected end of input")
		}
		if t.Type == token.RParen {
			break
		}
		if t.Type != token.LParen || p.pos+1 >= len(p.tokens) {
			return nil, fmt.Errorf("line %d: expected module field, got %q", t.Line, t.Value)
		}
		start := p.pos
		switch kw := p.tokens[p.pos+1].Value; kw {
		case "import":
			if err := p.parseImport(); err != nil {
				return nil, err
			}
		case "memory":
			if err := p.parseMemory(); err != nil {
				return nil, err
			}
		case "func":
			funcs = append(funcs, start)
			if err := p.skipField(); err != nil {
				return nil, err
			}
		case "export":
			exports = append(exports, start)
			if err := p.skipField(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("line %d: unknown module field %q", t.Line, kw)
		}
	}
	end := p.pos

	base := p.mod.NumImportedFuncs()
	for i, start := range funcs {
		p.pos = start + 2
		if name := p.optionalID(); name != "" {
			p.funcNames[name] = base + uint32(i)
		}
	}
	for i, start := range funcs {
		p.pos = start
		if err := p.parseFunc(base + uint32(i)); err != nil {
			return nil, err
		}
	}
	for _, start := range exports {
		p.pos = start
		if err := p.parseExport(); err != nil {
			return nil, err
		}
	}

	p.pos = end + 1
	if t := p.peek(); t != nil {
		return nil, fmt.Errorf("line %d: unexpected %q after module", t.Line, t.Value)
	}
	return p.mod, nil
}

func (p *parser) parseImport() error {
	p.pos += 2
	modName, err := p.expect(token.String)
	if err != nil {
		return err
	}
	name, err := p.expect(token.String)
	if err != nil {
		return err
	}
	if _, err := p.expect(token.LParen); err != nil {
		return err
	}
	kind, err := p.expect(token.Ident)
	if err != nil {
		return err
	}
	imp := wasm.Import{Module: modName.Value, Name: name.Value}
	id := p.optionalID()

	switch kind.Value {
	case "func":
		ft, err := p.parseSignature(nil)
		if err != nil {
			return err
		}
		if id != "" {
			p.funcNames[id] = p.mod.NumImportedFuncs()
		}
		imp.Desc = wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: p.mod.AddType(ft)}
	case "memory":
		limits, err := p.parseLimits()
		if err != nil {
			return err
		}
		imp.Desc = wasm.ImportDesc{Kind: wasm.KindMemory, Memory: &wasm.MemoryType{Limits: limits}}
	default:
		return fmt.Errorf("line %d: unsupported import kind %q", kind.Line, kind.Value)
	}
	if _, err := p.expect(token.RParen); err != nil {
		return err
	}
	if _, err := p.expect(token.RParen); err != nil {
		return err
	}
	p.mod.Imports = append(p.mod.Imports, imp)
	return nil
}

func (p *parser) parseMemory() error {
	p.pos += 2
	p.optionalID()
	idx := uint32(len(p.mod.Memories))
	for _, imp := range p.mod.Imports {
		if imp.Desc.Kind == wasm.KindMemory {
			idx++
		}
	}
	if err := p.parseInlineExports(wasm.KindMemory, idx); err != nil {
		return err
	}
	limits, err := p.parseLimits()
	if err != nil {
		return err
	}
	if _, err := p.expect(token.RParen); err != nil {
		return err
	}
	p.mod.Memories = append(p.mod.Memories, wasm.MemoryType{Limits: limits})
	return nil
}

func (p *parser) parseLimits() (wasm.Limits, error) {
	minPages, err := p.parseU32()
	if err != nil {
		return wasm.Limits{}, err
	}
	l := wasm.Limits{Min: minPages}
	if t := p.peek(); t != nil && t.Type == token.Number {
		maxPages, err := p.parseU32()
		if err != nil {
			return wasm.Limits{}, err
		}
		l.Max = &maxPages
	}
	return l, nil
}

func (p *parser) parseInlineExports(kind byte, idx uint32) error {
	for p.peekField("export") {
		p.pos += 2
		name, err := p.expect(token.String)
		if err != nil {
			return err
		}
		if _, err := p.expect(token.RParen); err != nil {
			return err
		}
		p.mod.Exports = append(p.mod.Exports, wasm.Export{Name: name.Value, Kind: kind, Idx: idx})
	}
	return nil
}

func (p *parser) parseExport() error {
	p.pos += 2
	name, err := p.expect(token.String)
	if err != nil {
		return err
	}
	if _, err := p.expect(token.LParen); err != nil {
		return err
	}
	kind, err := p.expect(token.Ident)
	if err != nil {
		return err
	}
	exp := wasm.Export{Name: name.Value}
	switch kind.Value {
	case "func":
		exp.Kind = wasm.KindFunc
		exp.Idx, err = p.parseIdx(p.funcNames, "function")
	case "memory":
		exp.Kind = wasm.KindMemory
		exp.Idx, err = p.parseIdx(nil, "memory")
	default:
		return fmt.Errorf("line %d: unsupported export kind %q", kind.Line, kind.Value)
	}
	if err != nil {
		return err
	}
	if _, err := p.expect(token.RParen); err != nil {
		return err
	}
	if _, err := p.expect(token.RParen); err != nil {
		return err
	}
	p.mod.Exports = append(p.mod.Exports, exp)
	return nil
}

// parseSignature reads param and result fields. Named params are recorded
// in names when it is not nil.
func (p *parser) parseSignature(names map[string]uint32) (wasm.FuncType, error) {
	var ft wasm.FuncType
	for p.peekField("param") {
		p.pos += 2
		if id := p.optionalID(); id != "" {
			if names != nil {
				names[id] = uint32(len(ft.Params))
			}
			vt, err := p.parseValType()
			if err != nil {
				return ft, err
			}
			ft.Params = append(ft.Params, vt)
		} else {
			vts, err := p.parseValTypes()
			if err != nil {
				return ft, err
			}
			ft.Params = append(ft.Params, vts...)
		}
		if _, err := p.expect(token.RParen); err != nil {
			return ft, err
		}
	}
	for p.peekField("result") {
		p.pos += 2
		vts, err := p.parseValTypes()
		if err != nil {
			return ft, err
		}
		ft.Results = append(ft.Results, vts...)
		if _, err := p.expect(token.RParen); err != nil {
			return ft, err
		}
	}
	return ft, nil
}

func (p *parser) parseFunc(idx uint32) error {
	p.pos += 2
	p.optionalID()
	if err := p.parseInlineExports(wasm.KindFunc, idx); err != nil {
		return err
	}

	p.locals = make(map[string]uint32)
	ft, err := p.parseSignature(p.locals)
	if err != nil {
		return err
	}
	p.numLocals = uint32(len(ft.Params))

	var body wasm.FuncBody
	for p.peekField("local") {
		p.pos += 2
		var vts []wasm.ValType
		if id := p.optionalID(); id != "" {
			p.locals[id] = p.numLocals
			vt, err := p.parseValType()
			if err != nil {
				return err
			}
			vts = []wasm.ValType{vt}
		} else if vts, err = p.parseValTypes(); err != nil {
			return err
		}
		for _, vt := range vts {
			body.Locals = append(body.Locals, wasm.LocalEntry{Count: 1, ValType: vt})
		}
		p.numLocals += uint32(len(vts))
		if _, err := p.expect(token.RParen); err != nil {
			return err
		}
	}

	var code bytes.Buffer
	if err := p.parseInstrs(&code); err != nil {
		return err
	}
	if _, err := p.expect(token.RParen); err != nil {
		return err
	}
	code.WriteByte(wasm.OpEnd)
	body.Code = code.Bytes()

	p.mod.Funcs = append(p.mod.Funcs, p.mod.AddType(ft))
	p.mod.Code = append(p.mod.Code, body)
	return nil
}

func (p *parser) parseValType() (wasm.ValType, error) {
	t, err := p.expect(token.Ident)
	if err != nil {
		return 0, err
	}
	switch t.Value {
	case "i32":
		return wasm.ValI32, nil
	case "i64":
		return wasm.ValI64, nil
	case "f32":
		return wasm.ValF32, nil
	case "f64":
		return wasm.ValF64, nil
	}
	return 0, fmt.Errorf("line %d: unknown value type: %s", t.Line, t.Value)
}

func (p *parser) parseValTypes() ([]wasm.ValType, error) {
	var out []wasm.ValType
	for {
		t := p.peek()
		if t == nil || t.Type != token.Ident {
			return out, nil
		}
		vt, err := p.parseValType()
		if err != nil {
			return nil, err
		}
		out = append(out, vt)
	}
}

func (p *parser) parseU32() (uint32, error) {
	t, err := p.expect(token.Number)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.ReplaceAll(t.Value, "_", ""), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("line %d: invalid number: %s", t.Line, t.Value)
	}
	return uint32(v), nil
}

func (p *parser) parseIdx(names map[string]uint32, what string) (uint32, error) {
	t := p.peek()
	if t == nil {
		return 0, fmt.Errorf("unexpected end of input")
	}
	if t.Type == token.Ident && strings.HasPrefix(t.Value, "$") {
		p.pos++
		if idx, ok := names[t.Value]; ok {
			return idx, nil
		}
		return 0, fmt.Errorf("line %d: unknown %s %s", t.Line, what, t.Value)
	}
	return p.parseU32()
}

func (p *parser) parseInstrs(code *bytes.Buffer) error {
	for {
		t := p.peek()
		switch {
		case t == nil:
			return fmt.Errorf("unexpected end of input")
		case t.Type == token.RParen:
			return nil
		case t.Type == token.LParen:
			if err := p.parseFolded(code); err != nil {
				return err
			}
		default:
			if err := p.parseInstr(code); err != nil {
				return err
			}
		}
	}
}

// parseFolded encodes (op imm* expr*) as the operand expressions followed
// by op.
func (p *parser) parseFolded(code *bytes.Buffer) error {
	p.pos++
	var instr bytes.Buffer
	if err := p.parseInstr(&instr); err != nil {
		return err
	}
	for {
		t := p.peek()
		if t == nil {
			return fmt.Errorf("unexpected end of input")
		}
		if t.Type == token.RParen {
			p.pos++
			break
		}
		if t.Type != token.LParen {
			return fmt.Errorf("line %d: expected folded operand, got %q", t.Line, t.Value)
		}
		if err := p.parseFolded(code); err != nil {
			return err
		}
	}
	code.Write(instr.Bytes())
	return nil
}

func (p *parser) parseInstr(code *bytes.Buffer) error {
	t, err := p.expect(token.Ident)
	if err != nil {
		return err
	}
	info, ok := instrs[t.Value]
	if !ok {
		return fmt.Errorf("line %d: unknown instruction: %s", t.Line, t.Value)
	}
	code.WriteByte(info.op)

	switch info.imm {
	case immLocal:
		idx, err := p.parseIdx(p.locals, "local")
		if err != nil {
			return err
		}
		if idx >= p.numLocals {
			return fmt.Errorf("line %d: local index %d out of range", t.Line, idx)
		}
		wasm.WriteLEB128u(code, idx)
	case immFunc:
		idx, err := p.parseIdx(p.funcNames, "function")
		if err != nil {
			return err
		}
		wasm.WriteLEB128u(code, idx)
	case immI32:
		v, err := p.parseInt(32)
		if err != nil {
			return err
		}
		wasm.WriteLEB128s64(code, int64(int32(v)))
	case immI64:
		v, err := p.parseInt(64)
		if err != nil {
			return err
		}
		wasm.WriteLEB128s64(code, v)
	case immF32:
		f, err := p.parseFloat(32)
		if err != nil {
			return err
		}
		code.Write(binary.LittleEndian.AppendUint32(nil, math.Float32bits(float32(f))))
	case immF64:
		f, err := p.parseFloat(64)
		if err != nil {
			return err
		}
		code.Write(binary.LittleEndian.AppendUint64(nil, math.Float64bits(f)))
	case immMem:
		return p.parseMemarg(code, info.align)
	}
	return nil
}

// parseInt accepts signed values and unsigned ones up to the full width,
// which wrap.
func (p *parser) parseInt(bitSize int) (int64, error) {
	t, err := p.expect(token.Number)
	if err != nil {
		return 0, err
	}
	s := strings.ReplaceAll(t.Value, "_", "")
	if v, err := strconv.ParseInt(s, 0, bitSize); err == nil {
		return v, nil
	}
	u, err := strconv.ParseUint(s, 0, bitSize)
	if err != nil {
		return 0, fmt.Errorf("line %d: invalid i%d: %s", t.Line, bitSize, t.Value)
	}
	return int64(u), nil
}

func (p *parser) parseFloat(bitSize int) (float64, error) {
	t := p.next()
	if t == nil {
		return 0, fmt.Errorf("unexpected end of input")
	}
	switch t.Value {
	case "inf", "+inf":
		return math.Inf(1), nil
	case "-inf":
		return math.Inf(-1), nil
	case "nan", "+nan":
		return math.NaN(), nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(t.Value, "_", ""), bitSize)
	if err != nil || t.Type != token.Number {
		return 0, fmt.Errorf("line %d: invalid f%d: %s", t.Line, bitSize, t.Value)
	}
	return f, nil
}

func (p *parser) parseMemarg(code *bytes.Buffer, align uint32) error {
	var offset uint32
	for {
		t := p.peek()
		if t == nil || t.Type != token.Ident {
			break
		}
		key, val, ok := strings.Cut(t.Value, "=")
		if !ok || (key != "offset" && key != "align") {
			break
		}
		p.pos++
		v, err := strconv.ParseUint(val, 0, 32)
		if err != nil {
			return fmt.Errorf("line %d: invalid %s: %s", t.Line, key, val)
		}
		if key == "offset" {
			offset = uint32(v)
			continue
		}
		if v == 0 || v&(v-1) != 0 {
			return fmt.Errorf("line %d: alignment must be a power of two: %s", t.Line, val)
		}
		align = uint32(v)
	}
	wasm.WriteLEB128u(code, uint32(bits.TrailingZeros32(align)))
	wasm.WriteLEB128u(code, offset)
	return nil
}
