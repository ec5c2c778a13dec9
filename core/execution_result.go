package core

import "github.com/eth2030/ledgercore/core/types"

// ExecutionResult holds the outcome of one self-contained call.
type ExecutionResult struct {
	Receipt    *types.Receipt
	Gas        GasAccounting
	Err        error // vm.ErrExecutionReverted, vm.ErrOutOfGas or a precompile error
	ReturnData []byte
}

// Unwrap returns the execution error, if any.
func (r *ExecutionResult) Unwrap() error {
	return r.Err
}

// Failed returns whether the execution resulted in an error.
func (r *ExecutionResult) Failed() bool {
	return r.Err != nil
}

// Return returns the return data from a successful execution.
func (r *ExecutionResult) Return() []byte {
	if r.Failed() {
		return nil
	}
	return r.ReturnData
}

// Revert returns the return data from a reverted execution (revert reason).
func (r *ExecutionResult) Revert() []byte {
	if r.Failed() {
		return r.ReturnData
	}
	return nil
}
