package permissionless

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

const packedGasBytes = 16

var ErrGasValueOverflow = errors.New("gas value does not fit in 128 bits")

// IsAccountDeployed checks if the account is deployed by querying its bytecode
func IsAccountDeployed(ctx context.Context, client *ethclient.Client, address common.Address) (bool, error) {
	code, err := client.CodeAt(ctx, address, nil)
	if err != nil {
		return false, err
	}
	return len(code) > 0, nil
}

// HexToBigInt converts a hex string to a big.Int.
// If the hex string is prefixed with "0x", it will be removed.
func HexToBigInt(hex string) *big.Int {
	hex = strings.TrimPrefix(hex, "0x")
	if len(hex)%2 == 1 {
		hex = "0" + hex
	}
	return new(big.Int).SetBytes(common.Hex2Bytes(hex))
}

// PackInt packs two 128-bit values into a common.Hash.
// The first 16 bytes are a and the last 16 bytes are b; nil packs as zero.
func PackInt(a *big.Int, b *big.Int) (common.Hash, error) {
	var result common.Hash
	for i, v := range []*big.Int{a, b} {
		if v == nil {
			continue
		}
		if v.Sign() < 0 || v.BitLen() > 8*packedGasBytes {
			return common.Hash{}, fmt.Errorf("%w: %s", ErrGasValueOverflow, v)
		}
		v.FillBytes(result[i*packedGasBytes : (i+1)*packedGasBytes])
	}
	return result, nil
}

// UnpackInt splits a packed hash into its high and low 128-bit halves.
func UnpackInt(packed [32]byte) (*big.Int, *big.Int) {
	return new(big.Int).SetBytes(packed[:packedGasBytes]), new(big.Int).SetBytes(packed[packedGasBytes:])
}

// PackInitCode joins factory and factoryData, or returns an empty byte string
// when there is no factory.
func PackInitCode(factory common.Address, factoryData []byte) []byte {
	if factory == (common.Address{}) {
		return []byte{}
	}
	out := make([]byte, 0, common.AddressLength+len(factoryData))
	out = append(out, factory.Bytes()...)
	return append(out, factoryData...)
}

// PackUserOperation packs a v0.7 or v0.8 user operation into a PackedUserOperation.
// The input is never modified and absent fields pack as zero or empty.
func PackUserOperation(userOp *UserOperation) (*PackedUserOperation, error) {
	if userOp == nil {
		return nil, errors.New("nil user operation")
	}
	switch userOp.Version {
	case EntryPointV07, EntryPointV08:
	case EntryPointV06:
		return nil, fmt.Errorf("%w: v0.6 user operations are not packed", ErrUnsupportedEntryPoint)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEntryPoint, userOp.Version)
	}
	op := userOp.WithDefaults()

	accountGasLimits, err := PackInt(op.VerificationGasLimit, op.CallGasLimit)
	if err != nil {
		return nil, fmt.Errorf("error packing account gas limits: %w", err)
	}
	gasFees, err := PackInt(op.MaxPriorityFeePerGas, op.MaxFeePerGas)
	if err != nil {
		return nil, fmt.Errorf("error packing gas fees: %w", err)
	}
	paymasterAndData := []byte{}
	if op.Paymaster != (common.Address{}) {
		paymasterAndData, err = PackPaymasterAndData(op.Paymaster, op.PaymasterVerificationGasLimit, op.PaymasterPostOpGasLimit, op.PaymasterData)
		if err != nil {
			return nil, err
		}
	}
	return &PackedUserOperation{
		Sender:             op.Sender,
		Nonce:              op.Nonce,
		InitCode:           PackInitCode(op.Factory, op.FactoryData),
		CallData:           op.CallData,
		AccountGasLimits:   accountGasLimits,
		PreVerificationGas: op.PreVerificationGas,
		GasFees:            gasFees,
		PaymasterAndData:   paymasterAndData,
		Signature:          op.Signature,
	}, nil
}

// UnpackUserOperation is the inverse of PackUserOperation for the given version.
func UnpackUserOperation(version EntryPointVersion, packed *PackedUserOperation) (*UserOperation, error) {
	switch version {
	case EntryPointV07, EntryPointV08:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEntryPoint, version)
	}
	op := &UserOperation{
		Version:            version,
		Sender:             packed.Sender,
		Nonce:              cloneOrZero(packed.Nonce),
		CallData:           packed.CallData,
		PreVerificationGas: cloneOrZero(packed.PreVerificationGas),
		Signature:          packed.Signature,
	}
	op.VerificationGasLimit, op.CallGasLimit = UnpackInt(packed.AccountGasLimits)
	op.MaxPriorityFeePerGas, op.MaxFeePerGas = UnpackInt(packed.GasFees)
	if len(packed.InitCode) >= common.AddressLength {
		op.Factory = common.BytesToAddress(packed.InitCode[:common.AddressLength])
		op.FactoryData = packed.InitCode[common.AddressLength:]
	}
	if len(packed.PaymasterAndData) > 0 {
		if len(packed.PaymasterAndData) < PaymasterDataOffset {
			return nil, fmt.Errorf("%w: paymasterAndData is %d bytes", ErrInvalidPaymasterAndData, len(packed.PaymasterAndData))
		}
		op.Paymaster = common.BytesToAddress(packed.PaymasterAndData[:PaymasterValidationGasOffset])
		op.PaymasterVerificationGasLimit = new(big.Int).SetBytes(packed.PaymasterAndData[PaymasterValidationGasOffset:PaymasterPostOpGasOffset])
		op.PaymasterPostOpGasLimit = new(big.Int).SetBytes(packed.PaymasterAndData[PaymasterPostOpGasOffset:PaymasterDataOffset])
		op.PaymasterData = packed.PaymasterAndData[PaymasterDataOffset:]
	}
	return op, nil
}
