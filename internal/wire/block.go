package wire

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lodestone-labs/lodestone/pkg/types"
)

// EncodeBlock serializes a block and its (possibly pre-filtered)
// events into the form passed to the module's block handler:
//
//	height u64 | hash 32 | time i64 | event_count u32 | events
//
// Each event begins with its kind discriminant followed by the kind's
// fixed layout.
func EncodeBlock(b *types.Block, events []types.Event) []byte {
	buf := make([]byte, 0, 52+len(events)*80)
	buf = binary.LittleEndian.AppendUint64(buf, b.Height)
	buf = append(buf, b.Hash[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(b.Time))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(events)))
	for i := range events {
		buf = appendEvent(buf, &events[i])
	}
	return buf
}

func appendEvent(buf []byte, ev *types.Event) []byte {
	buf = append(buf, uint8(ev.Kind))

	switch ev.Kind {
	case types.EventCall, types.EventTransfer, types.EventTransferOut:
		buf = append(buf, ev.Contract[:]...)
		buf = append(buf, ev.To[:]...)
		buf = binary.LittleEndian.AppendUint64(buf, ev.Amount)
	case types.EventReturn:
		buf = append(buf, ev.Contract[:]...)
		buf = binary.LittleEndian.AppendUint64(buf, ev.Values[0])
	case types.EventLog:
		buf = append(buf, ev.Contract[:]...)
		buf = binary.LittleEndian.AppendUint64(buf, ev.Values[0])
		buf = binary.LittleEndian.AppendUint64(buf, ev.Values[1])
	case types.EventLogData:
		buf = append(buf, ev.Contract[:]...)
		buf = binary.LittleEndian.AppendUint64(buf, ev.Values[0])
		buf = binary.LittleEndian.AppendUint64(buf, ev.Values[1])
		buf = appendBytes(buf, ev.Data)
	case types.EventRevert, types.EventPanic:
		buf = append(buf, ev.Contract[:]...)
		buf = binary.LittleEndian.AppendUint64(buf, ev.Values[0])
	case types.EventMessageOut:
		buf = append(buf, ev.Contract[:]...)
		buf = append(buf, ev.To[:]...)
		buf = binary.LittleEndian.AppendUint64(buf, ev.Amount)
		buf = appendBytes(buf, ev.Data)
	case types.EventScriptResult:
		buf = binary.LittleEndian.AppendUint64(buf, ev.Values[0])
		buf = binary.LittleEndian.AppendUint64(buf, ev.Values[1])
	}
	return buf
}

// DecodeBlock parses a block encoding back into a block. The engine
// itself never needs this on the hot path; it exists so tests and
// tooling can verify what a guest would observe.
func DecodeBlock(data []byte) (*types.Block, error) {
	r := reader{buf: data}

	height, err := r.uint64()
	if err != nil {
		return nil, err
	}
	hashBytes, err := r.take(common.HashLength)
	if err != nil {
		return nil, err
	}
	t, err := r.uint64()
	if err != nil {
		return nil, err
	}
	count, err := r.uint32()
	if err != nil {
		return nil, err
	}

	b := &types.Block{
		Height: height,
		Hash:   common.BytesToHash(hashBytes),
		Time:   int64(t),
		Events: make([]types.Event, 0, count),
	}
	for i := 0; i < int(count); i++ {
		ev, err := decodeEvent(&r)
		if err != nil {
			return nil, err
		}
		b.Events = append(b.Events, ev)
	}

	if r.len() != 0 {
		return nil, ErrTrailingBytes
	}
	return b, nil
}

func decodeEvent(r *reader) (types.Event, error) {
	kind, err := r.byte()
	if err != nil {
		return types.Event{}, err
	}

	ev := types.Event{Kind: types.EventKind(kind)}
	if !ev.Kind.Valid() {
		return types.Event{}, &UnknownTagError{Tag: kind}
	}

	readHash := func(dst *common.Hash) error {
		b, err := r.take(common.HashLength)
		if err != nil {
			return err
		}
		*dst = common.BytesToHash(b)
		return nil
	}

	switch ev.Kind {
	case types.EventCall, types.EventTransfer, types.EventTransferOut:
		if err := readHash(&ev.Contract); err != nil {
			return types.Event{}, err
		}
		if err := readHash(&ev.To); err != nil {
			return types.Event{}, err
		}
		if ev.Amount, err = r.uint64(); err != nil {
			return types.Event{}, err
		}
	case types.EventReturn, types.EventRevert, types.EventPanic:
		if err := readHash(&ev.Contract); err != nil {
			return types.Event{}, err
		}
		if ev.Values[0], err = r.uint64(); err != nil {
			return types.Event{}, err
		}
	case types.EventLog:
		if err := readHash(&ev.Contract); err != nil {
			return types.Event{}, err
		}
		if ev.Values[0], err = r.uint64(); err != nil {
			return types.Event{}, err
		}
		if ev.Values[1], err = r.uint64(); err != nil {
			return types.Event{}, err
		}
	case types.EventLogData:
		if err := readHash(&ev.Contract); err != nil {
			return types.Event{}, err
		}
		if ev.Values[0], err = r.uint64(); err != nil {
			return types.Event{}, err
		}
		if ev.Values[1], err = r.uint64(); err != nil {
			return types.Event{}, err
		}
		if ev.Data, err = r.bytes(); err != nil {
			return types.Event{}, err
		}
	case types.EventMessageOut:
		if err := readHash(&ev.Contract); err != nil {
			return types.Event{}, err
		}
		if err := readHash(&ev.To); err != nil {
			return types.Event{}, err
		}
		if ev.Amount, err = r.uint64(); err != nil {
			return types.Event{}, err
		}
		if ev.Data, err = r.bytes(); err != nil {
			return types.Event{}, err
		}
	case types.EventScriptResult:
		if ev.Values[0], err = r.uint64(); err != nil {
			return types.Event{}, err
		}
		if ev.Values[1], err = r.uint64(); err != nil {
			return types.Event{}, err
		}
	}
	return ev, nil
}
