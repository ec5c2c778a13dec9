package vm

import "errors"

// List of interpreter and precompile errors. Interpreter implementations
// translate their own error values into these so that the execution bridge
// can classify outcomes.
var (
	ErrOutOfGas                 = errors.New("out of gas")
	ErrExecutionReverted        = errors.New("execution reverted")
	ErrInsufficientBalance      = errors.New("insufficient balance for transfer")
	ErrCodeExecutionUnsupported = errors.New("interpreter cannot execute contract code")
	ErrUnknownPrecompile        = errors.New("unknown precompile")
	ErrCorruptedPrecompiles     = errors.New("corrupted precompile table")
)
