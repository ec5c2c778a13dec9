package types

import (
	"github.com/holiman/uint256"
)

const (
	// ReceiptStatusFailed is the status code of a call that reverted or
	// ran out of gas but was still included and charged.
	ReceiptStatusFailed = uint64(0)

	// ReceiptStatusSuccessful is the status code of a successful call.
	ReceiptStatusSuccessful = uint64(1)
)

// Outcome classifies how an included call finished.
type Outcome uint8

const (
	OutcomeSuccess Outcome = iota
	OutcomeRevert
	OutcomeOutOfGas
	OutcomeFailed // precompile or interpreter error other than revert/out-of-gas
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRevert:
		return "revert"
	case OutcomeOutOfGas:
		return "out-of-gas"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Receipt is the result of one included call.
type Receipt struct {
	// Type is the envelope type for self-contained calls and NativeCallType
	// for native calls.
	Type              uint8
	Status            uint64
	Outcome           Outcome
	CumulativeGasUsed uint64
	Bloom             Bloom
	Logs              []*Log
	ReturnData        []byte

	TxHash            Hash
	From              Address
	ContractAddress   Address
	GasUsed           uint64
	EffectiveGasPrice *uint256.Int
	BurntFee          *uint256.Int // gas used times base fee, removed from circulation
	PriorityFee       *uint256.Int // paid to the block author
	InternalTxs       []*InternalTx

	BlockHash        Hash
	BlockNumber      uint64
	TransactionIndex uint
}

// NewReceipt creates a receipt for the given outcome and gas usage.
func NewReceipt(outcome Outcome, gasUsed uint64) *Receipt {
	r := &Receipt{
		Outcome:           outcome,
		GasUsed:           gasUsed,
		EffectiveGasPrice: new(uint256.Int),
		BurntFee:          new(uint256.Int),
		PriorityFee:       new(uint256.Int),
	}
	if outcome == OutcomeSuccess {
		r.Status = ReceiptStatusSuccessful
	} else {
		r.Status = ReceiptStatusFailed
	}
	return r
}

// Succeeded reports whether the call completed without revert or failure.
func (r *Receipt) Succeeded() bool { return r.Status == ReceiptStatusSuccessful }

// receiptRLP is the consensus encoding used for the receipts root.
type receiptRLP struct {
	Status            uint64
	CumulativeGasUsed uint64
	Bloom             Bloom
	Logs              []logRLP
}

type logRLP struct {
	Address Address
	Topics  []Hash
	Data    []byte
}

func (r *Receipt) consensusForm() receiptRLP {
	logs := make([]logRLP, len(r.Logs))
	for i, l := range r.Logs {
		logs[i] = logRLP{Address: l.Address, Topics: l.Topics, Data: l.Data}
	}
	return receiptRLP{
		Status:            r.Status,
		CumulativeGasUsed: r.CumulativeGasUsed,
		Bloom:             r.Bloom,
		Logs:              logs,
	}
}

// ReceiptsRoot commits to the consensus fields of the receipts in order.
func ReceiptsRoot(receipts []*Receipt) Hash {
	if len(receipts) == 0 {
		return EmptyRootHash
	}
	forms := make([]receiptRLP, len(receipts))
	for i, r := range receipts {
		forms[i] = r.consensusForm()
	}
	return rlpHash(forms)
}
