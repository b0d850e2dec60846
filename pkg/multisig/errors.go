package multisig

import (
	"errors"
	"fmt"
)

// Error codes. The code is what clients see as the failure name.
const (
	// Input validation.
	CodeDuplicateOwner   = "DuplicateOwner"
	CodeInvalidThreshold = "InvalidThreshold"
	CodeEmptyOwnerSet    = "EmptyOwnerSet"
	CodeTooManyOwners    = "TooManyOwners"
	CodeAddressMismatch  = "AddressMismatch"
	CodeMalformedRequest = "MalformedRequest"
	CodeAccountMismatch  = "AccountMismatch"

	// Authorization.
	CodeUnknownOwner     = "UnknownOwner"
	CodeGroupMismatch    = "GroupMismatch"
	CodeMissingSignature = "MissingSignature"

	// Record lifecycle.
	CodeAlreadyExecuted          = "AlreadyExecuted"
	CodeNotEnoughSigners         = "NotEnoughSigners"
	CodePendingTransactionsExist = "PendingTransactionsExist"
	CodeTooManyPending           = "TooManyPending"
	CodeUnknownProposal          = "UnknownProposal"
	CodeUninitialized            = "Uninitialized"
	CodeInvalidRecord            = "InvalidRecord"
	CodeAccountInUse             = "AccountInUse"
	CodeInsufficientFunding      = "InsufficientFunding"
)

// Category groups error codes by how a caller should react.
type Category string

const (
	CategoryInput         Category = "input"
	CategoryAuthorization Category = "authorization"
	CategoryState         Category = "state"
)

var categories = map[string]Category{
	CodeDuplicateOwner:           CategoryInput,
	CodeInvalidThreshold:         CategoryInput,
	CodeEmptyOwnerSet:            CategoryInput,
	CodeTooManyOwners:            CategoryInput,
	CodeAddressMismatch:          CategoryInput,
	CodeMalformedRequest:         CategoryInput,
	CodeAccountMismatch:          CategoryInput,
	CodeUnknownOwner:             CategoryAuthorization,
	CodeGroupMismatch:            CategoryAuthorization,
	CodeMissingSignature:         CategoryAuthorization,
	CodeAlreadyExecuted:          CategoryState,
	CodeNotEnoughSigners:         CategoryState,
	CodePendingTransactionsExist: CategoryState,
	CodeTooManyPending:           CategoryState,
	CodeUnknownProposal:          CategoryState,
	CodeUninitialized:            CategoryState,
	CodeInvalidRecord:            CategoryState,
	CodeAccountInUse:             CategoryState,
	CodeInsufficientFunding:      CategoryState,
}

// Error is a rejected multisig request.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so the sentinels below work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Category returns the error's category.
func (e *Error) Category() Category {
	return categories[e.Code]
}

var (
	ErrDuplicateOwner           = &Error{Code: CodeDuplicateOwner}
	ErrInvalidThreshold         = &Error{Code: CodeInvalidThreshold}
	ErrEmptyOwnerSet            = &Error{Code: CodeEmptyOwnerSet}
	ErrTooManyOwners            = &Error{Code: CodeTooManyOwners}
	ErrAddressMismatch          = &Error{Code: CodeAddressMismatch}
	ErrMalformedRequest         = &Error{Code: CodeMalformedRequest}
	ErrAccountMismatch          = &Error{Code: CodeAccountMismatch}
	ErrUnknownOwner             = &Error{Code: CodeUnknownOwner}
	ErrGroupMismatch            = &Error{Code: CodeGroupMismatch}
	ErrMissingSignature         = &Error{Code: CodeMissingSignature}
	ErrAlreadyExecuted          = &Error{Code: CodeAlreadyExecuted}
	ErrNotEnoughSigners         = &Error{Code: CodeNotEnoughSigners}
	ErrPendingTransactionsExist = &Error{Code: CodePendingTransactionsExist}
	ErrTooManyPending           = &Error{Code: CodeTooManyPending}
	ErrUnknownProposal          = &Error{Code: CodeUnknownProposal}
	ErrUninitialized            = &Error{Code: CodeUninitialized}
	ErrInvalidRecord            = &Error{Code: CodeInvalidRecord}
	ErrAccountInUse             = &Error{Code: CodeAccountInUse}
	ErrInsufficientFunding      = &Error{Code: CodeInsufficientFunding}
)

func newError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func wrapError(code string, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...) + ": " + err.Error(), Err: err}
}

// CodeOf returns the multisig error code carried by err, or "" if err did
// not originate in this package.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
