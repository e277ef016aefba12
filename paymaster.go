package permissionless

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Layout of a v0.7 paymasterAndData: paymaster(20) ++ verificationGas(16) ++ postOpGas(16) ++ data.
const (
	PaymasterValidationGasOffset = 20
	PaymasterPostOpGasOffset     = 36
	PaymasterDataOffset          = 52
)

var (
	EmptySignature = make([]byte, 65)

	ErrPaymasterDataNotFound   = errors.New("Paymaster data not found in the user operation")
	ErrTokenAddressNotFound    = errors.New("Invalid paymaster data, cannot find token address")
	ErrInvalidPaymasterAndData = errors.New("invalid paymasterAndData")
	ErrInvalidTokenQuote       = errors.New("invalid token quote")
)

type byteRange struct{ start, end int }

// tokenAddressRanges locates the ERC-20 token inside the paymaster blob of
// each EntryPoint version: paymasterAndData for v0.6, paymasterData for v0.7+.
var tokenAddressRanges = map[EntryPointVersion]byteRange{
	EntryPointV06: {start: 34, end: 54},
	EntryPointV07: {start: 46, end: 66},
	EntryPointV08: {start: 46, end: 66},
}

var (
	weiPerEther = big.NewInt(1e18)
	usdDecimals = big.NewFloat(1e6)
)

// TokenQuote is an ERC-20 paymaster's price for a token.
type TokenQuote struct {
	Paymaster               common.Address
	Token                   common.Address
	PostOpGas               *big.Int
	ExchangeRate            *big.Int
	ExchangeRateNativeToUsd *big.Int
	BalanceSlot             *big.Int
	AllowanceSlot           *big.Int
}

// ERC20PaymasterCost is the worst-case cost of a user operation paid through an ERC-20 paymaster.
type ERC20PaymasterCost struct {
	// CostInToken is denominated in the token's smallest unit.
	CostInToken *big.Int
	CostInUsd   float64
}

// paymasterBlob returns the version's paymaster byte string, or ErrPaymasterDataNotFound.
func paymasterBlob(userOp *UserOperation) ([]byte, error) {
	var blob []byte
	switch userOp.Version {
	case EntryPointV06:
		blob = userOp.PaymasterAndData
	case EntryPointV07, EntryPointV08:
		blob = userOp.PaymasterData
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEntryPoint, userOp.Version)
	}
	if len(blob) == 0 {
		return nil, ErrPaymasterDataNotFound
	}
	return blob, nil
}

// PaymasterTokenAddress extracts the ERC-20 token address embedded in the
// operation's paymaster data.
func PaymasterTokenAddress(userOp *UserOperation) (common.Address, error) {
	blob, err := paymasterBlob(userOp)
	if err != nil {
		return common.Address{}, err
	}
	r := tokenAddressRanges[userOp.Version]
	if len(blob) < r.end || r.end-r.start != common.AddressLength {
		return common.Address{}, fmt.Errorf("%w: %d bytes", ErrTokenAddressNotFound, len(blob))
	}
	return common.BytesToAddress(blob[r.start:r.end]), nil
}

// MaxGas sums every gas limit the operation can consume. Absent limits count as zero.
func MaxGas(userOp *UserOperation) *big.Int {
	total := new(big.Int)
	for _, v := range []*big.Int{
		userOp.PreVerificationGas,
		userOp.VerificationGasLimit,
		userOp.CallGasLimit,
		userOp.PaymasterVerificationGasLimit,
		userOp.PaymasterPostOpGasLimit,
	} {
		if v != nil {
			total.Add(total, v)
		}
	}
	return total
}

// EstimateERC20PaymasterCost computes what the operation costs at most when
// its gas is paid in the quoted token.
func EstimateERC20PaymasterCost(userOp *UserOperation, quote *TokenQuote) (*ERC20PaymasterCost, error) {
	if _, err := paymasterBlob(userOp); err != nil {
		return nil, err
	}
	if quote == nil || quote.ExchangeRate == nil || quote.ExchangeRateNativeToUsd == nil {
		return nil, ErrInvalidTokenQuote
	}
	maxFeePerGas := valueOrZero(userOp.MaxFeePerGas)

	maxCostInWei := new(big.Int).Mul(MaxGas(userOp), maxFeePerGas)
	maxCostInWei.Add(maxCostInWei, new(big.Int).Mul(valueOrZero(quote.PostOpGas), maxFeePerGas))

	costInToken := new(big.Int).Mul(maxCostInWei, quote.ExchangeRate)
	costInToken.Quo(costInToken, weiPerEther)

	costInUsdFixed := new(big.Int).Mul(maxCostInWei, quote.ExchangeRateNativeToUsd)
	costInUsdFixed.Quo(costInUsdFixed, weiPerEther)
	costInUsd, _ := new(big.Float).Quo(new(big.Float).SetInt(costInUsdFixed), usdDecimals).Float64()

	return &ERC20PaymasterCost{
		CostInToken: costInToken,
		CostInUsd:   costInUsd,
	}, nil
}

// GetPaymasterHash returns the hash a VerifyingPaymaster signer signs for a packed user operation.
func GetPaymasterHash(
	packedUserOp *PackedUserOperation,
	chainId *big.Int,
	validUntil *big.Int,
	validAfter *big.Int,
) (common.Hash, error) {
	if len(packedUserOp.PaymasterAndData) < PaymasterDataOffset {
		return common.Hash{}, fmt.Errorf("%w: too short", ErrInvalidPaymasterAndData)
	}
	paymaster := common.BytesToAddress(packedUserOp.PaymasterAndData[:PaymasterValidationGasOffset])
	args := abi.Arguments{
		{Type: addressTy}, //	sender
		{Type: uint256Ty}, //	nonce
		{Type: bytes32Ty}, //	initCode
		{Type: bytes32Ty}, //	callData
		{Type: bytes32Ty}, //	accountGasLimits
		{Type: uint256Ty}, //	paymasterValidationGas
		{Type: uint256Ty}, //	preVerificationGas
		{Type: bytes32Ty}, //	gasFees
		{Type: uint256Ty}, //	chainId
		{Type: addressTy}, //	paymaster's address
		{Type: uint48Ty},  //	validUntil
		{Type: uint48Ty},  //	validAfter
	}

	packed, err := args.Pack(
		packedUserOp.Sender,
		packedUserOp.Nonce,
		crypto.Keccak256Hash(packedUserOp.InitCode),
		crypto.Keccak256Hash(packedUserOp.CallData),
		packedUserOp.AccountGasLimits,
		new(big.Int).SetBytes(packedUserOp.PaymasterAndData[PaymasterValidationGasOffset:PaymasterDataOffset]),
		packedUserOp.PreVerificationGas,
		packedUserOp.GasFees,
		chainId,
		paymaster,
		validUntil,
		validAfter,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack error in GetPaymasterHash: %w", err)
	}

	return crypto.Keccak256Hash(packed), nil
}

// PackPaymasterAndData constructs the v0.7 paymasterAndData field.
func PackPaymasterAndData(paymaster common.Address, verGasLimit, postOpGasLimit *big.Int, data []byte) ([]byte, error) {
	gasLimits, err := PackInt(verGasLimit, postOpGasLimit)
	if err != nil {
		return nil, fmt.Errorf("error packing paymaster gas limits: %w", err)
	}
	result := make([]byte, 0, PaymasterDataOffset+len(data))
	result = append(result, paymaster[:]...) // 20 bytes
	result = append(result, gasLimits[:]...) // 16 + 16 bytes
	result = append(result, data...)         // variable length
	return result, nil
}

var validityArgs = abi.Arguments{{Type: uint48Ty}, {Type: uint48Ty}}

// EncodePaymasterData encodes validUntil, validAfter, and signature into a byte array
func EncodePaymasterData(validUntil, validAfter *big.Int, signature []byte) ([]byte, error) {
	data, err := validityArgs.Pack(validUntil, validAfter)
	if err != nil {
		return nil, err
	}
	data = append(data, signature...)
	return data, nil
}

// DecodePaymasterData is the inverse of EncodePaymasterData.
func DecodePaymasterData(data []byte) (validUntil, validAfter *big.Int, signature []byte, err error) {
	if len(data) < 64 {
		return nil, nil, nil, fmt.Errorf("%w: verifying paymaster data is %d bytes", ErrInvalidPaymasterAndData, len(data))
	}
	values, err := validityArgs.Unpack(data[:64])
	if err != nil {
		return nil, nil, nil, err
	}
	return values[0].(*big.Int), values[1].(*big.Int), data[64:], nil
}
