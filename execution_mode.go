package permissionless

import (
	"bytes"
	"errors"
	"fmt"
)

// CallType is the leading byte of an ERC-7579 execution mode.
type CallType byte

const (
	CallTypeCall         CallType = 0x00
	CallTypeBatchCall    CallType = 0x01
	CallTypeDelegateCall CallType = 0xff
)

// Byte offsets of the fields inside the 32-byte execution mode.
const (
	execModeCallTypeOffset = 0
	execModeRevertOffset   = 1
	execModeSelectorOffset = 3
	execModeContextOffset  = 7
	execModeLength         = 32

	// ExecutionModeContextSize is the number of context bytes carried by a mode.
	ExecutionModeContextSize = execModeLength - execModeContextOffset
)

var ErrInvalidCallType = errors.New("Invalid call type")

func (c CallType) String() string {
	switch c {
	case CallTypeCall:
		return "call"
	case CallTypeBatchCall:
		return "batchcall"
	case CallTypeDelegateCall:
		return "delegatecall"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(c))
	}
}

func (c CallType) valid() bool {
	return c == CallTypeCall || c == CallTypeBatchCall || c == CallTypeDelegateCall
}

// ExecutionMode describes how an ERC-7579 account executes its calldata.
type ExecutionMode struct {
	Type          CallType
	RevertOnError bool
	Selector      [4]byte
	// Context is right-padded with zeros, or truncated, to ExecutionModeContextSize bytes.
	Context []byte
}

// EncodeExecutionMode packs a mode into the 32-byte value passed as execMode to execute.
func EncodeExecutionMode(mode ExecutionMode) ([32]byte, error) {
	var out [32]byte
	if !mode.Type.valid() {
		return out, fmt.Errorf("%w: %s", ErrInvalidCallType, mode.Type)
	}
	out[execModeCallTypeOffset] = byte(mode.Type)
	if mode.RevertOnError {
		out[execModeRevertOffset] = 0x01
	}
	copy(out[execModeSelectorOffset:execModeContextOffset], mode.Selector[:])
	copy(out[execModeContextOffset:], mode.Context)
	return out, nil
}

// DecodeExecutionMode unpacks a 32-byte execution mode.
// Trailing zero padding is stripped from the context, which is never nil.
func DecodeExecutionMode(value [32]byte) (ExecutionMode, error) {
	callType := CallType(value[execModeCallTypeOffset])
	if !callType.valid() {
		return ExecutionMode{}, fmt.Errorf("%w: 0x%02x", ErrInvalidCallType, byte(callType))
	}
	mode := ExecutionMode{
		Type:          callType,
		RevertOnError: value[execModeRevertOffset] == 0x01,
	}
	copy(mode.Selector[:], value[execModeSelectorOffset:execModeContextOffset])
	mode.Context = append([]byte{}, bytes.TrimRight(value[execModeContextOffset:], "\x00")...)
	return mode, nil
}
