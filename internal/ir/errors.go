package ir

import (
	"errors"
	"fmt"
)

// Error is the structured error shared by every layer of the engine.
//
// Match failure during search is ordinary control flow and never produces an
// Error; these surface only from store operations, effect application and
// run termination.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Ref identifies the affected object, when there is one.
	Ref ObjectRef

	// Rule names the rule being applied, when there is one.
	Rule string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// CodeUnknownObject indicates a stale, deleted or never-issued handle.
	CodeUnknownObject ErrorCode = "UNKNOWN_OBJECT"

	// CodeUnknownAttribute indicates removal of an attribute that is not set.
	CodeUnknownAttribute ErrorCode = "UNKNOWN_ATTRIBUTE"

	// CodeTypeMismatch indicates a value kind disagreement.
	CodeTypeMismatch ErrorCode = "TYPE_MISMATCH"

	// CodeTupleArityMismatch indicates a destructure of the wrong length.
	CodeTupleArityMismatch ErrorCode = "TUPLE_ARITY_MISMATCH"

	// CodeArithmetic indicates overflow or division by zero.
	CodeArithmetic ErrorCode = "ARITHMETIC_ERROR"

	// CodeTransactionAborted indicates an effect failed mid-cycle and the
	// cycle's transaction was rolled back.
	CodeTransactionAborted ErrorCode = "TRANSACTION_ABORTED"

	// CodeBudgetExhausted is a terminal status, not a failure.
	CodeBudgetExhausted ErrorCode = "BUDGET_EXHAUSTED"

	// CodeStoreInvariantViolation indicates internal corruption. Fatal.
	CodeStoreInvariantViolation ErrorCode = "STORE_INVARIANT_VIOLATION"

	// CodeInactiveTransaction indicates use of a transaction that is not
	// the top of the stack, or that has already finished.
	CodeInactiveTransaction ErrorCode = "INACTIVE_TRANSACTION"

	// CodeTransactionActive indicates an operation that requires the
	// transaction stack to be empty (garbage collection).
	CodeTransactionActive ErrorCode = "TRANSACTION_ACTIVE"

	// CodeInvalidInput indicates wrong system input arguments.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeInvalidRule indicates a malformed rule or system definition.
	CodeInvalidRule ErrorCode = "INVALID_RULE"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Rule != "" {
		msg += fmt.Sprintf(" (rule=%s)", e.Rule)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// HasCode reports whether err wraps an *Error with the given code.
func HasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsUnknownObject returns true if the error is an unknown object error.
func IsUnknownObject(err error) bool { return HasCode(err, CodeUnknownObject) }

// IsTypeMismatch returns true if the error is a type mismatch.
func IsTypeMismatch(err error) bool { return HasCode(err, CodeTypeMismatch) }

// IsArityMismatch returns true if the error is a tuple arity mismatch.
func IsArityMismatch(err error) bool { return HasCode(err, CodeTupleArityMismatch) }

// IsTransactionAborted returns true if the error reports an aborted cycle.
func IsTransactionAborted(err error) bool { return HasCode(err, CodeTransactionAborted) }

// IsBudgetExhausted returns true if the error reports an exhausted budget.
func IsBudgetExhausted(err error) bool { return HasCode(err, CodeBudgetExhausted) }

// IsInvariantViolation returns true if the error reports store corruption.
func IsInvariantViolation(err error) bool { return HasCode(err, CodeStoreInvariantViolation) }

// NewUnknownObjectError creates an Error for an invalid handle.
func NewUnknownObjectError(ref ObjectRef) *Error {
	return &Error{
		Code:    CodeUnknownObject,
		Message: fmt.Sprintf("unknown object %s", ref),
		Ref:     ref,
	}
}

// NewUnknownAttributeError creates an Error for a missing attribute.
func NewUnknownAttributeError(ref ObjectRef, key Symbol) *Error {
	return &Error{
		Code:    CodeUnknownAttribute,
		Message: fmt.Sprintf("object %s has no attribute %q", ref, key.Name()),
		Ref:     ref,
	}
}

// NewTypeMismatchError creates an Error for an operation applied to values
// of incompatible kinds. b may be nil for unary operations.
func NewTypeMismatchError(op string, a, b Value) *Error {
	msg := fmt.Sprintf("%s: unsupported operand %s", op, describe(a))
	if b != nil {
		msg = fmt.Sprintf("%s: incompatible operands %s and %s", op, describe(a), describe(b))
	}
	return &Error{Code: CodeTypeMismatch, Message: msg}
}

// NewArityMismatchError creates an Error for a tuple of the wrong length.
func NewArityMismatchError(want, got int) *Error {
	return &Error{
		Code:    CodeTupleArityMismatch,
		Message: fmt.Sprintf("expected tuple of %d elements, got %d", want, got),
	}
}

// NewArithmeticError creates an Error for overflow or division by zero.
func NewArithmeticError(format string, args ...any) *Error {
	return &Error{Code: CodeArithmetic, Message: fmt.Sprintf(format, args...)}
}

// NewAbortedError creates an Error for a cycle whose effects failed.
func NewAbortedError(rule string, cause error) *Error {
	return &Error{
		Code:    CodeTransactionAborted,
		Message: "effect application failed, transaction aborted",
		Rule:    rule,
		Err:     cause,
	}
}

// NewBudgetError creates an Error reporting budget exhaustion.
func NewBudgetError(format string, args ...any) *Error {
	return &Error{Code: CodeBudgetExhausted, Message: fmt.Sprintf(format, args...)}
}

// NewInvariantError creates an Error for store corruption.
func NewInvariantError(format string, args ...any) *Error {
	return &Error{Code: CodeStoreInvariantViolation, Message: fmt.Sprintf(format, args...)}
}

// NewInvalidInputError creates an Error for bad system inputs.
func NewInvalidInputError(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// NewInvalidRuleError creates an Error for a malformed rule.
func NewInvalidRuleError(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidRule, Message: fmt.Sprintf(format, args...)}
}

func describe(v Value) string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s(%s)", v.Kind(), v)
}
