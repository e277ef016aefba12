package permissionless

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc7579ExecuteABI = `[{
	"type": "function",
	"name": "execute",
	"stateMutability": "payable",
	"inputs": [
		{"name": "execMode", "type": "bytes32"},
		{"name": "executionCalldata", "type": "bytes"}
	],
	"outputs": []
}]`

// Layout of a single-call execution calldata: to(20) ++ value(32) ++ data.
const (
	singleCallValueOffset = common.AddressLength
	singleCallDataOffset  = singleCallValueOffset + 32
)

var (
	ErrNoCalls                  = errors.New("No calls to encode")
	ErrBatchCallNotSupported    = errors.New("mode does not support batchcall calldata")
	ErrInvalidExecutionCalldata = errors.New("invalid execution calldata")
	ErrNotExecuteCall           = errors.New("call data is not an ERC-7579 execute call")
	ErrInvalidCallValue         = errors.New("call value is not a uint256")
)

var (
	erc7579AccountABI = mustParseABI(erc7579ExecuteABI)
	executionsArgs    = abi.Arguments{{Type: mustNewType("tuple[]", []abi.ArgumentMarshaling{
		{Name: "target", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "callData", Type: "bytes"},
	})}}
)

// Call is a single call executed by a smart account.
type Call struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// execution mirrors the ERC-7579 Execution struct for ABI packing.
type execution struct {
	Target   common.Address
	Value    *big.Int
	CallData []byte
}

// EncodeExecutionCalldata encodes calls into the executionCalldata argument of an
// ERC-7579 execute call. More than one call requires a batchcall mode.
func EncodeExecutionCalldata(mode ExecutionMode, calls []Call) ([]byte, error) {
	if len(calls) == 0 {
		return nil, ErrNoCalls
	}
	if len(calls) > 1 && mode.Type != CallTypeBatchCall {
		return nil, fmt.Errorf("%w: %s with %d calls", ErrBatchCallNotSupported, mode.Type, len(calls))
	}
	if err := validateCallValues(calls); err != nil {
		return nil, err
	}
	if mode.Type == CallTypeBatchCall {
		executions := make([]execution, len(calls))
		for i, call := range calls {
			executions[i] = execution{
				Target:   call.To,
				Value:    valueOrZero(call.Value),
				CallData: bytesOrEmpty(call.Data),
			}
		}
		packed, err := executionsArgs.Pack(executions)
		if err != nil {
			return nil, fmt.Errorf("error packing batch executions: %w", err)
		}
		return packed, nil
	}

	call := calls[0]
	out := make([]byte, 0, singleCallDataOffset+len(call.Data))
	out = append(out, call.To.Bytes()...)
	out = append(out, common.LeftPadBytes(valueOrZero(call.Value).Bytes(), 32)...)
	if len(call.Data) > 0 {
		out = append(out, call.Data...)
	}
	return out, nil
}

// Encode7579Calls builds the full execute(bytes32,bytes) call data for an ERC-7579 account.
func Encode7579Calls(mode ExecutionMode, calls []Call) ([]byte, error) {
	execMode, err := EncodeExecutionMode(mode)
	if err != nil {
		return nil, err
	}
	executionCalldata, err := EncodeExecutionCalldata(mode, calls)
	if err != nil {
		return nil, err
	}
	packed, err := erc7579AccountABI.Pack("execute", execMode, executionCalldata)
	if err != nil {
		return nil, fmt.Errorf("error packing execute: %w", err)
	}
	return packed, nil
}

// DecodeExecutionCalldata is the inverse of EncodeExecutionCalldata.
// The mode decides the layout, so a one-element batch decodes as a batch.
func DecodeExecutionCalldata(mode ExecutionMode, executionCalldata []byte) ([]Call, error) {
	if mode.Type == CallTypeBatchCall {
		values, err := executionsArgs.Unpack(executionCalldata)
		if err != nil {
			return nil, fmt.Errorf("error unpacking batch executions: %w", err)
		}
		executions := *abi.ConvertType(values[0], new([]execution)).(*[]execution)
		calls := make([]Call, len(executions))
		for i, e := range executions {
			calls[i] = Call{To: e.Target, Value: e.Value, Data: e.CallData}
		}
		return calls, nil
	}

	if len(executionCalldata) < singleCallDataOffset {
		return nil, fmt.Errorf("%w: %d bytes, want at least %d", ErrInvalidExecutionCalldata, len(executionCalldata), singleCallDataOffset)
	}
	call := Call{
		To:    common.BytesToAddress(executionCalldata[:singleCallValueOffset]),
		Value: new(big.Int).SetBytes(executionCalldata[singleCallValueOffset:singleCallDataOffset]),
		Data:  []byte{},
	}
	if len(executionCalldata) > singleCallDataOffset {
		call.Data = bytes.Clone(executionCalldata[singleCallDataOffset:])
	}
	return []Call{call}, nil
}

// Decode7579Calls decodes execute(bytes32,bytes) call data back into its mode and calls.
func Decode7579Calls(callData []byte) (ExecutionMode, []Call, error) {
	if len(callData) < 4 {
		return ExecutionMode{}, nil, fmt.Errorf("%w: %d bytes", ErrNotExecuteCall, len(callData))
	}
	method, err := erc7579AccountABI.MethodById(callData[:4])
	if err != nil {
		return ExecutionMode{}, nil, fmt.Errorf("%w: %v", ErrNotExecuteCall, err)
	}
	args, err := method.Inputs.Unpack(callData[4:])
	if err != nil {
		return ExecutionMode{}, nil, fmt.Errorf("error unpacking execute arguments: %w", err)
	}
	mode, err := DecodeExecutionMode(args[0].([32]byte))
	if err != nil {
		return ExecutionMode{}, nil, err
	}
	calls, err := DecodeExecutionCalldata(mode, args[1].([]byte))
	if err != nil {
		return ExecutionMode{}, nil, err
	}
	return mode, calls, nil
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// validateCallValues rejects values that do not fit a uint256 word.
func validateCallValues(calls []Call) error {
	for i, call := range calls {
		if v := call.Value; v != nil && (v.Sign() < 0 || v.BitLen() > 256) {
			return fmt.Errorf("%w: call %d value %s", ErrInvalidCallValue, i, v)
		}
	}
	return nil
}

func bytesOrEmpty(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(fmt.Errorf("failed to parse ABI: %w", err))
	}
	return parsed
}

func mustNewType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(fmt.Errorf("failed to create ABI type %s: %w", t, err))
	}
	return typ
}
