package core

import (
	"errors"
	"fmt"

	"github.com/eth2030/ledgercore/core/types"
	"github.com/eth2030/ledgercore/core/vm"
)

// ErrFatal marks conditions that abort block production: fee arithmetic
// overflow or a corrupted precompile table. It must reach the operator.
var ErrFatal = errors.New("fatal")

// ErrInvalid is the class sentinel carried by every *InvalidError.
var ErrInvalid = errors.New("invalid transaction")

// Invalid reasons.
var (
	ErrStaleNonce          = errors.New("nonce too low")
	ErrFutureNonce         = errors.New("nonce too high")
	ErrInsufficientBalance = errors.New("insufficient funds for gas * price + value")
	ErrUnderpricedFee      = errors.New("fee below current base fee")
	ErrChainIDMismatch     = errors.New("chain id mismatch")
	ErrIntrinsicGas        = errors.New("intrinsic gas too low")
	ErrBlockGasExhausted   = errors.New("block gas limit reached")
)

// InvalidError is a validity rejection. errors.Is matches both ErrInvalid
// and the specific reason.
type InvalidError struct {
	Reason error
	Detail string
}

func (e *InvalidError) Error() string {
	if e.Detail == "" {
		return e.Reason.Error()
	}
	return e.Reason.Error() + ": " + e.Detail
}

func (e *InvalidError) Unwrap() []error { return []error{ErrInvalid, e.Reason} }

func invalidf(reason error, format string, args ...any) *InvalidError {
	return &InvalidError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

func fatalf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFatal, fmt.Sprintf(format, args...))
}

// ErrorClass groups errors by how the system reacts to them.
type ErrorClass uint8

const (
	ClassNone ErrorClass = iota
	ClassDecode
	ClassSignature
	ClassInvalid
	ClassExecution
	ClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassDecode:
		return "decode"
	case ClassSignature:
		return "signature"
	case ClassInvalid:
		return "invalid"
	case ClassExecution:
		return "execution"
	case ClassFatal:
		return "fatal"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

// Classify maps an error to its class. Errors the core does not recognise
// are treated as fatal so they surface to the operator.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrFatal), errors.Is(err, vm.ErrCorruptedPrecompiles):
		return ClassFatal
	case errors.Is(err, types.ErrDecode), errors.Is(err, types.ErrUnknownFunction):
		return ClassDecode
	case errors.Is(err, types.ErrSignature):
		return ClassSignature
	case errors.Is(err, ErrInvalid):
		return ClassInvalid
	case errors.Is(err, vm.ErrExecutionReverted), errors.Is(err, vm.ErrOutOfGas):
		return ClassExecution
	default:
		return ClassFatal
	}
}

// IsPermanent reports whether a rejected submission can never succeed, so
// wallets need not retry it.
func IsPermanent(err error) bool {
	switch Classify(err) {
	case ClassDecode, ClassSignature:
		return true
	case ClassInvalid:
		return errors.Is(err, ErrChainIDMismatch) || errors.Is(err, ErrIntrinsicGas)
	default:
		return false
	}
}
