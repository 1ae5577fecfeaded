package wasm

import (
	"bytes"
	"encoding/binary"
)

type writer struct {
	bytes.Buffer
}

func (w *writer) u32(v uint32) {
	WriteLEB128u(&w.Buffer, v)
}

func (w *writer) name(s string) {
	w.u32(uint32(len(s)))
	w.WriteString(s)
}

func (w *writer) valTypes(ts []ValType) {
	w.u32(uint32(len(ts)))
	for _, t := range ts {
		w.WriteByte(byte(t))
	}
}

func (w *writer) limits(l Limits) {
	if l.Max != nil {
		w.WriteByte(LimitsHasMax)
		w.u32(l.Min)
		w.u32(*l.Max)
		return
	}
	w.WriteByte(0)
	w.u32(l.Min)
}

func (w *writer) section(id byte, body *writer) {
	w.WriteByte(id)
	w.u32(uint32(body.Len()))
	w.Write(body.Bytes())
}

// Encode encodes the module to the wasm binary format.
func (m *Module) Encode() []byte {
	var w writer
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[:4], Magic)
	binary.LittleEndian.PutUint32(hdr[4:], Version)
	w.Write(hdr[:])

	if len(m.Types) > 0 {
		var sec writer
		sec.u32(uint32(len(m.Types)))
		for _, ft := range m.Types {
			sec.WriteByte(FuncTypeByte)
			sec.valTypes(ft.Params)
			sec.valTypes(ft.Results)
		}
		w.section(SectionType, &sec)
	}

	if len(m.Imports) > 0 {
		var sec writer
		sec.u32(uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			sec.name(imp.Module)
			sec.name(imp.Name)
			sec.WriteByte(imp.Desc.Kind)
			switch imp.Desc.Kind {
			case KindFunc:
				sec.u32(imp.Desc.TypeIdx)
			case KindMemory:
				var l Limits
				if imp.Desc.Memory != nil {
					l = imp.Desc.Memory.Limits
				}
				sec.limits(l)
			}
		}
		w.section(SectionImport, &sec)
	}

	if len(m.Funcs) > 0 {
		var sec writer
		sec.u32(uint32(len(m.Funcs)))
		for _, typeIdx := range m.Funcs {
			sec.u32(typeIdx)
		}
		w.section(SectionFunction, &sec)
	}

	if len(m.Memories) > 0 {
		var sec writer
		sec.u32(uint32(len(m.Memories)))
		for _, mem := range m.Memories {
			sec.limits(mem.Limits)
		}
		w.section(SectionMemory, &sec)
	}

	if len(m.Exports) > 0 {
		var sec writer
		sec.u32(uint32(len(m.Exports)))
		for _, exp := range m.Exports {
			sec.name(exp.Name)
			sec.WriteByte(exp.Kind)
			sec.u32(exp.Idx)
		}
		w.section(SectionExport, &sec)
	}

	if len(m.Code) > 0 {
		var sec writer
		sec.u32(uint32(len(m.Code)))
		for _, body := range m.Code {
			var fb writer
			fb.u32(uint32(len(body.Locals)))
			for _, l := range body.Locals {
				fb.u32(l.Count)
				fb.WriteByte(byte(l.ValType))
			}
			fb.Write(body.Code)
			sec.u32(uint32(fb.Len()))
			sec.Write(fb.Bytes())
		}
		w.section(SectionCode, &sec)
	}

	for _, cs := range m.CustomSections {
		w.Write(EncodeCustomSection(cs))
	}

	return w.Bytes()
}

// EncodeCustomSection encodes cs as a complete section, id and size
// included, so it can be appended to an already encoded module.
func EncodeCustomSection(cs CustomSection) []byte {
	var w, sec writer
	sec.name(cs.Name)
	sec.Write(cs.Data)
	w.section(SectionCustom, &sec)
	return w.Bytes()
}
