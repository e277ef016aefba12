package permissionless

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	addressTy = abi.Type{T: abi.AddressTy}
	uint256Ty = abi.Type{T: abi.UintTy, Size: 256}
	bytes32Ty = abi.Type{T: abi.FixedBytesTy, Size: 32}
	uint48Ty  = abi.Type{T: abi.UintTy, Size: 48}

	eip712DomainTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	packedUserOpTypeHash = crypto.Keccak256Hash([]byte("PackedUserOperation(address sender,uint256 nonce,bytes initCode,bytes callData,bytes32 accountGasLimits,uint256 preVerificationGas,bytes32 gasFees,bytes paymasterAndData)"))
)

const (
	entryPointDomainName    = "ERC4337"
	entryPointDomainVersion = "1"
)

// GetUserOpHash computes the hash the account signs, following the hashing
// rules of the operation's EntryPoint version.
func GetUserOpHash(userOp *UserOperation, entrypoint common.Address, chainId *big.Int) (common.Hash, error) {
	switch userOp.Version {
	case EntryPointV06:
		hashed, err := hashedUserOpV06(userOp.WithDefaults())
		if err != nil {
			return common.Hash{}, err
		}
		return wrapUserOpHash(hashed, entrypoint, chainId)
	case EntryPointV07:
		packed, err := PackUserOperation(userOp)
		if err != nil {
			return common.Hash{}, err
		}
		hashed, err := HashedUserOp(packed)
		if err != nil {
			return common.Hash{}, err
		}
		return wrapUserOpHash(hashed, entrypoint, chainId)
	case EntryPointV08:
		packed, err := PackUserOperation(userOp)
		if err != nil {
			return common.Hash{}, err
		}
		return typedDataUserOpHash(packed, entrypoint, chainId)
	default:
		return common.Hash{}, fmt.Errorf("%w: %q", ErrUnsupportedEntryPoint, userOp.Version)
	}
}

func wrapUserOpHash(hashed common.Hash, entrypoint common.Address, chainId *big.Int) (common.Hash, error) {
	packedHash, err := abi.Arguments{
		{Type: bytes32Ty}, // userOp.hash
		{Type: addressTy}, // entrypoint address
		{Type: uint256Ty}, // chainID
	}.Pack(hashed, entrypoint, chainId)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(packedHash), nil
}

// HashedUserOp hashes the fields of a packed (v0.7) user operation, excluding the signature.
func HashedUserOp(userOp *PackedUserOperation) (common.Hash, error) {
	packed, err := packedUserOpArguments(false).Pack(packedUserOpValues(userOp)...)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(packed), nil
}

func packedUserOpArguments(withTypeHash bool) abi.Arguments {
	args := abi.Arguments{
		{Type: addressTy}, // sender
		{Type: uint256Ty}, // nonce
		{Type: bytes32Ty}, // hashInitCode
		{Type: bytes32Ty}, // hashCallData
		{Type: bytes32Ty}, // accountGasLimits
		{Type: uint256Ty}, // preVerificationGas
		{Type: bytes32Ty}, // gasFees
		{Type: bytes32Ty}, // hashPaymasterAndData
	}
	if withTypeHash {
		return append(abi.Arguments{{Type: bytes32Ty}}, args...)
	}
	return args
}

func packedUserOpValues(userOp *PackedUserOperation) []any {
	return []any{
		userOp.Sender,
		userOp.Nonce,
		crypto.Keccak256Hash(userOp.InitCode),
		crypto.Keccak256Hash(userOp.CallData),
		userOp.AccountGasLimits,
		userOp.PreVerificationGas,
		userOp.GasFees,
		crypto.Keccak256Hash(userOp.PaymasterAndData),
	}
}

func hashedUserOpV06(userOp *UserOperation) (common.Hash, error) {
	packed, err := abi.Arguments{
		{Type: addressTy}, // sender
		{Type: uint256Ty}, // nonce
		{Type: bytes32Ty}, // hashInitCode
		{Type: bytes32Ty}, // hashCallData
		{Type: uint256Ty}, // callGasLimit
		{Type: uint256Ty}, // verificationGasLimit
		{Type: uint256Ty}, // preVerificationGas
		{Type: uint256Ty}, // maxFeePerGas
		{Type: uint256Ty}, // maxPriorityFeePerGas
		{Type: bytes32Ty}, // hashPaymasterAndData
	}.Pack(
		userOp.Sender,
		userOp.Nonce,
		crypto.Keccak256Hash(userOp.InitCode),
		crypto.Keccak256Hash(userOp.CallData),
		userOp.CallGasLimit,
		userOp.VerificationGasLimit,
		userOp.PreVerificationGas,
		userOp.MaxFeePerGas,
		userOp.MaxPriorityFeePerGas,
		crypto.Keccak256Hash(userOp.PaymasterAndData),
	)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(packed), nil
}

// typedDataUserOpHash is the EIP-712 hash used by EntryPoint v0.8.
func typedDataUserOpHash(userOp *PackedUserOperation, entrypoint common.Address, chainId *big.Int) (common.Hash, error) {
	domain, err := abi.Arguments{
		{Type: bytes32Ty}, {Type: bytes32Ty}, {Type: bytes32Ty}, {Type: uint256Ty}, {Type: addressTy},
	}.Pack(
		eip712DomainTypeHash,
		crypto.Keccak256Hash([]byte(entryPointDomainName)),
		crypto.Keccak256Hash([]byte(entryPointDomainVersion)),
		chainId,
		entrypoint,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("error packing domain separator: %w", err)
	}
	structData, err := packedUserOpArguments(true).Pack(append([]any{packedUserOpTypeHash}, packedUserOpValues(userOp)...)...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("error packing user operation struct: %w", err)
	}
	return crypto.Keccak256Hash(
		[]byte{0x19, 0x01},
		crypto.Keccak256(domain),
		crypto.Keccak256(structData),
	), nil
}
