package runtime

import (
	"fmt"
	"strings"
)

// formatDepth bounds how far String follows references, so cyclic object
// graphs still print.
const formatDepth = 4

type formatter interface {
	formatTo(b *strings.Builder, depth int)
}

// String renders the struct and the objects it refers to, e.g.
// "Pair{id: 1, left: Number{value: 2}}".
func (s StructRef) String() string {
	var b strings.Builder
	s.formatTo(&b, formatDepth)
	return b.String()
}

// String renders the array elements, e.g. "[5, 4, 3]".
func (a ArrayRef[T]) String() string {
	var b strings.Builder
	a.formatTo(&b, formatDepth)
	return b.String()
}

func (s StructRef) formatTo(b *strings.Builder, depth int) {
	if s.IsNull() {
		b.WriteString("null")
		return
	}
	if err := s.Valid(); err != nil {
		fmt.Fprintf(b, "<%v>", err)
		return
	}
	b.WriteString(s.r.desc.Name)
	if depth == 0 {
		b.WriteString("{...}")
		return
	}
	b.WriteByte('{')
	for i := range s.r.desc.Fields {
		f := &s.r.desc.Fields[i]
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f.Name)
		b.WriteString(": ")
		v, err := s.Get(f.Name)
		if err != nil {
			fmt.Fprintf(b, "<%v>", err)
			continue
		}
		formatValue(b, v, depth-1)
	}
	b.WriteByte('}')
}

func (a ArrayRef[T]) formatTo(b *strings.Builder, depth int) {
	if a.IsNull() {
		b.WriteString("null")
		return
	}
	if err := a.Valid(); err != nil {
		fmt.Fprintf(b, "<%v>", err)
		return
	}
	if depth == 0 {
		b.WriteString("[...]")
		return
	}
	b.WriteByte('[')
	for i, v := range a.All() {
		if i > 0 {
			b.WriteString(", ")
		}
		formatValue(b, v, depth-1)
	}
	b.WriteByte(']')
}

func formatValue(b *strings.Builder, v any, depth int) {
	switch v := v.(type) {
	case formatter:
		v.formatTo(b, depth)
	default:
		fmt.Fprintf(b, "%v", v)
	}
}
