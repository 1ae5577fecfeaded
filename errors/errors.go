package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseRegister Phase = "register" // type descriptor registration
	PhaseAlloc    Phase = "alloc"    // heap allocation
	PhaseCollect  Phase = "collect"  // reclamation
	PhaseInvoke   Phase = "invoke"   // function lookup and call
	PhaseMarshal  Phase = "marshal"  // native values to slots and back
	PhaseField    Phase = "field"    // struct field access
	PhaseIndex    Phase = "index"    // array element access
	PhaseRoot     Phase = "root"     // root table operations
	PhaseReload   Phase = "reload"   // hot reload
	PhaseLoad     Phase = "load"     // module loading
	PhaseParse    Phase = "parse"    // manifest and metadata parsing
	PhaseRuntime  Phase = "runtime"  // runtime lifecycle
	PhaseMemory   Phase = "memory"   // raw linear memory access
)

// Kind categorizes the error
type Kind string

const (
	KindOutOfMemory              Kind = "out_of_memory"
	KindFunctionNotFound         Kind = "function_not_found"
	KindArgumentCountMismatch    Kind = "argument_count_mismatch"
	KindArgumentTypeMismatch     Kind = "argument_type_mismatch"
	KindReturnTypeMismatch       Kind = "return_type_mismatch"
	KindUnknownField             Kind = "unknown_field"
	KindFieldTypeMismatch        Kind = "field_type_mismatch"
	KindReadOnlyField            Kind = "read_only_field"
	KindIndexOutOfBounds         Kind = "index_out_of_bounds"
	KindRootNotFound             Kind = "root_not_found"
	KindStaleTypeLayout          Kind = "stale_type_layout"
	KindStaleHandle              Kind = "stale_handle"
	KindIncompatibleLayoutChange Kind = "incompatible_layout_change"
	KindDuplicateType            Kind = "duplicate_type"
	KindUnknownType              Kind = "unknown_type"
	KindInvalidData              Kind = "invalid_data"
	KindInvalidInput             Kind = "invalid_input"
	KindNotInitialized           Kind = "not_initialized"
	KindBusy                     Kind = "busy"
	KindTrap                     Kind = "trap"
)

// Sentinels for errors.Is. They carry no phase, so they match an error of
// the same kind raised in any phase.
var (
	ErrOutOfMemory              = &Error{Kind: KindOutOfMemory}
	ErrFunctionNotFound         = &Error{Kind: KindFunctionNotFound}
	ErrArgumentCountMismatch    = &Error{Kind: KindArgumentCountMismatch}
	ErrArgumentTypeMismatch     = &Error{Kind: KindArgumentTypeMismatch}
	ErrReturnTypeMismatch       = &Error{Kind: KindReturnTypeMismatch}
	ErrUnknownField             = &Error{Kind: KindUnknownField}
	ErrFieldTypeMismatch        = &Error{Kind: KindFieldTypeMismatch}
	ErrReadOnlyField            = &Error{Kind: KindReadOnlyField}
	ErrIndexOutOfBounds         = &Error{Kind: KindIndexOutOfBounds}
	ErrRootNotFound             = &Error{Kind: KindRootNotFound}
	ErrStaleTypeLayout          = &Error{Kind: KindStaleTypeLayout}
	ErrStaleHandle              = &Error{Kind: KindStaleHandle}
	ErrIncompatibleLayoutChange = &Error{Kind: KindIncompatibleLayoutChange}
	ErrDuplicateType            = &Error{Kind: KindDuplicateType}
	ErrUnknownType              = &Error{Kind: KindUnknownType}
	ErrInvalidData              = &Error{Kind: KindInvalidData}
	ErrInvalidInput             = &Error{Kind: KindInvalidInput}
	ErrNotInitialized           = &Error{Kind: KindNotInitialized}
	ErrBusy                     = &Error{Kind: KindBusy}
)

// Error is the structured error type used throughout the runtime
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	GoType string
	Type   string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Phase != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Phase))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" || e.Type != "" {
		b.WriteString(": ")
		if e.GoType != "" && e.Type != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", type ")
			b.WriteString(e.Type)
		} else if e.GoType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		} else {
			b.WriteString("type ")
			b.WriteString(e.Type)
		}
	}

	if e.Detail != "" {
		if e.GoType != "" || e.Type != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. A target without a phase
// matches on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// Type sets the compiled type name
func (b *Builder) Type(t string) *Builder {
	b.err.Type = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// OutOfMemory creates an allocation failure error
func OutOfMemory(size uint32, cause error) *Error {
	return &Error{
		Phase:  PhaseAlloc,
		Kind:   KindOutOfMemory,
		Detail: fmt.Sprintf("failed to allocate %d bytes", size),
		Cause:  cause,
	}
}

// FunctionNotFound creates an unknown function error
func FunctionNotFound(name string) *Error {
	return &Error{
		Phase:  PhaseInvoke,
		Kind:   KindFunctionNotFound,
		Detail: fmt.Sprintf("function %q not found", name),
		Value:  name,
	}
}

// ArgumentCountMismatch creates an arity error
func ArgumentCountMismatch(name string, want, got int) *Error {
	return &Error{
		Phase:  PhaseInvoke,
		Kind:   KindArgumentCountMismatch,
		Path:   []string{name},
		Detail: fmt.Sprintf("expected %d arguments, got %d", want, got),
		Value:  got,
	}
}

// ArgumentTypeMismatch creates an argument type error
func ArgumentTypeMismatch(name string, index int, goType, typ string) *Error {
	return &Error{
		Phase:  PhaseMarshal,
		Kind:   KindArgumentTypeMismatch,
		Path:   []string{name, fmt.Sprintf("arg%d", index)},
		GoType: goType,
		Type:   typ,
	}
}

// ReturnTypeMismatch creates a return type error
func ReturnTypeMismatch(name, goType, typ string) *Error {
	return &Error{
		Phase:  PhaseMarshal,
		Kind:   KindReturnTypeMismatch,
		Path:   []string{name},
		GoType: goType,
		Type:   typ,
	}
}

// UnknownField creates an unknown field error
func UnknownField(typ, fieldName string) *Error {
	return &Error{
		Phase:  PhaseField,
		Kind:   KindUnknownField,
		Path:   []string{typ},
		Type:   typ,
		Detail: fmt.Sprintf("unknown field %q", fieldName),
	}
}

// FieldTypeMismatch creates a field type error
func FieldTypeMismatch(typ, fieldName, goType, fieldType string) *Error {
	return &Error{
		Phase:  PhaseField,
		Kind:   KindFieldTypeMismatch,
		Path:   []string{typ, fieldName},
		GoType: goType,
		Type:   fieldType,
	}
}

// ReadOnlyField creates a write-to-read-only-field error
func ReadOnlyField(typ, fieldName string) *Error {
	return &Error{
		Phase:  PhaseField,
		Kind:   KindReadOnlyField,
		Path:   []string{typ, fieldName},
		Detail: "field is read-only",
	}
}

// IndexOutOfBounds creates an out of bounds error
func IndexOutOfBounds(index, length int) *Error {
	return &Error{
		Phase:  PhaseIndex,
		Kind:   KindIndexOutOfBounds,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// RootNotFound creates an unknown or released root error
func RootNotFound(id uint64) *Error {
	return &Error{
		Phase:  PhaseRoot,
		Kind:   KindRootNotFound,
		Detail: fmt.Sprintf("root %d not found", id),
		Value:  id,
	}
}

// StaleTypeLayout creates a layout mismatch error
func StaleTypeLayout(typ, detail string) *Error {
	return &Error{
		Phase:  PhaseRoot,
		Kind:   KindStaleTypeLayout,
		Type:   typ,
		Detail: detail,
	}
}

// StaleHandle creates an error for a handle that outlived its object or instance
func StaleHandle(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindStaleHandle,
		Detail: detail,
	}
}

// IncompatibleLayoutChange creates a reload rejection error
func IncompatibleLayoutChange(typ, detail string) *Error {
	return &Error{
		Phase:  PhaseReload,
		Kind:   KindIncompatibleLayoutChange,
		Type:   typ,
		Detail: detail,
	}
}

// DuplicateType creates a conflicting registration error
func DuplicateType(typ string) *Error {
	return &Error{
		Phase:  PhaseRegister,
		Kind:   KindDuplicateType,
		Type:   typ,
		Detail: "incompatible redefinition outside a reload transaction",
	}
}

// UnknownType creates an unresolved type error
func UnknownType(typ string) *Error {
	return &Error{
		Phase:  PhaseRegister,
		Kind:   KindUnknownType,
		Type:   typ,
		Detail: fmt.Sprintf("type %q not registered", typ),
	}
}

// NotInitialized creates a not-initialized error for a closed runtime or empty handle
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Trap wraps a failure raised by compiled code
func Trap(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseInvoke,
		Kind:   KindTrap,
		Path:   []string{name},
		Detail: "compiled code trapped",
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindInvalidData,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}
