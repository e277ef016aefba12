package permissionless

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testChainId = big.NewInt(31337)

func word(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func TestGetUserOpHashV06(t *testing.T) {
	userOp := &UserOperation{
		Version:              EntryPointV06,
		Sender:               callTarget1,
		Nonce:                big.NewInt(3),
		InitCode:             append(testFactory.Bytes(), 0x01, 0x02),
		CallData:             hexutil.MustDecode("0xb61d27f6"),
		CallGasLimit:         big.NewInt(100000),
		VerificationGasLimit: big.NewInt(200000),
		PreVerificationGas:   big.NewInt(50000),
		MaxFeePerGas:         big.NewInt(3e9),
		MaxPriorityFeePerGas: big.NewInt(1e9),
		PaymasterAndData:     testPaymaster.Bytes(),
		Signature:            hexutil.MustDecode("0xdeadbeef"),
	}

	inner := crypto.Keccak256(
		common.LeftPadBytes(userOp.Sender.Bytes(), 32),
		word(userOp.Nonce),
		crypto.Keccak256(userOp.InitCode),
		crypto.Keccak256(userOp.CallData),
		word(userOp.CallGasLimit),
		word(userOp.VerificationGasLimit),
		word(userOp.PreVerificationGas),
		word(userOp.MaxFeePerGas),
		word(userOp.MaxPriorityFeePerGas),
		crypto.Keccak256(userOp.PaymasterAndData),
	)
	want := crypto.Keccak256Hash(inner, common.LeftPadBytes(EntryPointV06Address.Bytes(), 32), word(testChainId))

	got, err := GetUserOpHash(userOp, EntryPointV06Address, testChainId)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestGetUserOpHashV07(t *testing.T) {
	userOp := sampleUserOp(EntryPointV07)
	packed, err := PackUserOperation(userOp)
	require.NoError(t, err)

	inner := crypto.Keccak256(
		common.LeftPadBytes(packed.Sender.Bytes(), 32),
		word(packed.Nonce),
		crypto.Keccak256(packed.InitCode),
		crypto.Keccak256(packed.CallData),
		packed.AccountGasLimits[:],
		word(packed.PreVerificationGas),
		packed.GasFees[:],
		crypto.Keccak256(packed.PaymasterAndData),
	)
	want := crypto.Keccak256Hash(inner, common.LeftPadBytes(EntryPointV07Address.Bytes(), 32), word(testChainId))

	got, err := GetUserOpHash(userOp, EntryPointV07Address, testChainId)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestGetUserOpHashV08MatchesTypedData(t *testing.T) {
	userOp := sampleUserOp(EntryPointV08)
	packed, err := PackUserOperation(userOp)
	require.NoError(t, err)

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"PackedUserOperation": {
				{Name: "sender", Type: "address"},
				{Name: "nonce", Type: "uint256"},
				{Name: "initCode", Type: "bytes"},
				{Name: "callData", Type: "bytes"},
				{Name: "accountGasLimits", Type: "bytes32"},
				{Name: "preVerificationGas", Type: "uint256"},
				{Name: "gasFees", Type: "bytes32"},
				{Name: "paymasterAndData", Type: "bytes"},
			},
		},
		PrimaryType: "PackedUserOperation",
		Domain: apitypes.TypedDataDomain{
			Name:              "ERC4337",
			Version:           "1",
			ChainId:           (*math.HexOrDecimal256)(testChainId),
			VerifyingContract: EntryPointV08Address.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"sender":             packed.Sender.Hex(),
			"nonce":              packed.Nonce,
			"initCode":           packed.InitCode,
			"callData":           packed.CallData,
			"accountGasLimits":   packed.AccountGasLimits[:],
			"preVerificationGas": packed.PreVerificationGas,
			"gasFees":            packed.GasFees[:],
			"paymasterAndData":   packed.PaymasterAndData,
		},
	}
	want, _, err := apitypes.TypedDataAndHash(typedData)
	require.NoError(t, err)

	got, err := GetUserOpHash(userOp, EntryPointV08Address, testChainId)
	require.NoError(t, err)
	assert.Equal(t, common.BytesToHash(want), got)
}

func TestGetUserOpHashIgnoresSignature(t *testing.T) {
	for _, version := range []EntryPointVersion{EntryPointV07, EntryPointV08} {
		userOp := sampleUserOp(version)
		before, err := GetUserOpHash(userOp, EntryPointV07Address, testChainId)
		require.NoError(t, err)

		userOp.Signature = StubSignature
		after, err := GetUserOpHash(userOp, EntryPointV07Address, testChainId)
		require.NoError(t, err)
		assert.Equal(t, before, after, "version %s", version)
	}
}

func TestGetUserOpHashDependsOnDomain(t *testing.T) {
	userOp := sampleUserOp(EntryPointV08)

	base, err := GetUserOpHash(userOp, EntryPointV08Address, testChainId)
	require.NoError(t, err)
	otherChain, err := GetUserOpHash(userOp, EntryPointV08Address, big.NewInt(1))
	require.NoError(t, err)
	otherEntryPoint, err := GetUserOpHash(userOp, EntryPointV07Address, testChainId)
	require.NoError(t, err)

	assert.NotEqual(t, base, otherChain)
	assert.NotEqual(t, base, otherEntryPoint)
}

func TestGetUserOpHashUnsupportedVersion(t *testing.T) {
	_, err := GetUserOpHash(&UserOperation{Version: "0.5"}, EntryPointV07Address, testChainId)
	require.ErrorIs(t, err, ErrUnsupportedEntryPoint)
}
