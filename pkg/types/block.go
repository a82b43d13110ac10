package types

import (
	"github.com/ethereum/go-ethereum/common"
)

// Block is one unit of chain input: a height, the block hash, the
// producer timestamp and the ordered list of events decoded from the
// block's receipts. Blocks are sourced externally and never mutated
// by the engine.
type Block struct {
	Height uint64
	Hash   common.Hash
	Time   int64
	Events []Event
}

// EventKind discriminates the decodable chain event variants.
type EventKind uint8

const (
	EventCall EventKind = iota + 1
	EventReturn
	EventLog
	EventLogData
	EventTransfer
	EventTransferOut
	EventRevert
	EventPanic
	EventMessageOut
	EventScriptResult
)

func (k EventKind) String() string {
	switch k {
	case EventCall:
		return "call"
	case EventReturn:
		return "return"
	case EventLog:
		return "log"
	case EventLogData:
		return "log_data"
	case EventTransfer:
		return "transfer"
	case EventTransferOut:
		return "transfer_out"
	case EventRevert:
		return "revert"
	case EventPanic:
		return "panic"
	case EventMessageOut:
		return "message_out"
	case EventScriptResult:
		return "script_result"
	default:
		return "unknown"
	}
}

// Valid reports whether k is one of the known event kinds.
func (k EventKind) Valid() bool {
	return k >= EventCall && k <= EventScriptResult
}

// Event is a tagged variant over the decodable chain event kinds.
// Contract identifies the event source; the remaining fields are
// populated per kind and zero otherwise. Each kind has a fixed binary
// layout on the wire (see internal/wire).
type Event struct {
	Kind     EventKind
	Contract common.Hash

	// Call, Transfer, TransferOut
	To     common.Hash
	Amount uint64

	// Log, LogData, Revert, Panic, ScriptResult
	Values [2]uint64

	// LogData, MessageOut, Return
	Data []byte
}
