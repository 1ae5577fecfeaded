// Package errors provides structured error types for the runtime.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes rich context: field path, Go/compiled type names, and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseField, errors.KindFieldTypeMismatch).
//		Path("Number", "value").
//		GoType("string").
//		Type("i32").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.FunctionNotFound("main")
//	err := errors.IndexOutOfBounds(10, 5)
//
// Every kind has a phase-less sentinel that matches through errors.Is:
//
//	if errors.Is(err, errors.ErrFunctionNotFound) { ... }
//
// Marshaling, field and index failures are always returned as values; nothing
// in the runtime panics across the embedding boundary.
package errors
