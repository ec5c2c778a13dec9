package types

// InternalTx records a nested message call made while executing a
// self-contained call. Depth is 1 for calls made directly by the
// top-level frame.
type InternalTx struct {
	From     Address
	To       Address
	Value    []byte // big-endian, empty for zero
	GasUsed  uint64
	Depth    int
	Create   bool
	Reverted bool
}
