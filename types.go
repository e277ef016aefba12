package permissionless

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lifenetwork-ai/permissionless-go/bindings/entrypoint"
)

// EntryPointVersion tags which EntryPoint layout a user operation follows.
type EntryPointVersion string

const (
	EntryPointV06 EntryPointVersion = "0.6"
	EntryPointV07 EntryPointVersion = "0.7"
	EntryPointV08 EntryPointVersion = "0.8"
)

// Canonical EntryPoint deployments.
var (
	EntryPointV06Address = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	EntryPointV07Address = common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032")
	EntryPointV08Address = common.HexToAddress("0x4337084D9E255Ff0702461CF8895CE9E3b5Ff108")
)

var (
	DefaultCallGasLimit                  = int64(2000000)
	DefaultVerificationGasLimit          = int64(200000)
	DefaultPreVerificationGas            = int64(20000)
	DefaultMaxFeePerGas                  = int64(25e9)
	DefaultMaxPriorityFeePerGas          = int64(1000000)
	DefaultPaymasterVerificationGasLimit = int64(3e5)
	DefaultPaymasterPostOpGasLimit       = int64(100)
)

var (
	ErrUnsupportedEntryPoint = errors.New("unsupported entry point version")
	ErrInitCodeConflict      = errors.New("initCode and factory are mutually exclusive for the entry point version")
	ErrPaymasterConflict     = errors.New("paymasterAndData and paymaster fields are mutually exclusive for the entry point version")
)

type Config struct {
	// The url of node.
	NodeUrl string
	// The url of bundler.
	BundlerUrl string
	// The url of the paymaster service. Optional.
	PaymasterUrl string
	// The interval to query the receipt.
	WaitReceiptInterval time.Duration
	// The timeout for WaitForUserOperation. Defaults to 30s.
	WaitReceiptTimeout time.Duration
	// The entrypoint address.
	Entrypoint common.Address
	// The entrypoint version, selects the user operation layout.
	EntrypointVersion EntryPointVersion
	// The verifying paymaster address. Used when PaymasterUrl is empty.
	PaymasterAddress *common.Address
	// The account verifying Paymaster requests.
	VerifyingSigner *ecdsa.PrivateKey
	// The accounts submitting handleOps when calling the Entrypoint contract directly.
	Executors Rotator[*ecdsa.PrivateKey]
	// Logger for client activity. Defaults to slog.Default().
	Logger *slog.Logger
}

// Version returns the configured entrypoint version, defaulting to v0.7.
func (c *Config) Version() EntryPointVersion {
	if c.EntrypointVersion == "" {
		return EntryPointV07
	}
	return c.EntrypointVersion
}

func (c *Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func NewUserOpWithDefault(version EntryPointVersion, sender common.Address, calldata []byte) *UserOperation {
	op := &UserOperation{
		Version:              version,
		Sender:               sender,
		CallData:             calldata,
		CallGasLimit:         big.NewInt(DefaultCallGasLimit),
		VerificationGasLimit: big.NewInt(DefaultVerificationGasLimit),
		PreVerificationGas:   big.NewInt(DefaultPreVerificationGas),
		MaxFeePerGas:         big.NewInt(DefaultMaxFeePerGas),
		MaxPriorityFeePerGas: big.NewInt(DefaultMaxPriorityFeePerGas),
	}
	if version != EntryPointV06 {
		op.PaymasterVerificationGasLimit = big.NewInt(DefaultPaymasterVerificationGasLimit)
		op.PaymasterPostOpGasLimit = big.NewInt(DefaultPaymasterPostOpGasLimit)
	}
	return op
}

// UserOperation represents an ERC-4337 user operation for any supported EntryPoint.
//
// Version selects which fields are meaningful:
//   - v0.6 uses InitCode and PaymasterAndData.
//   - v0.7 and v0.8 use Factory/FactoryData and the split paymaster fields.
type UserOperation struct {
	Version              EntryPointVersion `json:"-"`
	Sender               common.Address    `json:"sender"`
	Nonce                *big.Int          `json:"nonce"`
	CallData             []byte            `json:"callData"`
	CallGasLimit         *big.Int          `json:"callGasLimit"`
	VerificationGasLimit *big.Int          `json:"verificationGasLimit"`
	PreVerificationGas   *big.Int          `json:"preVerificationGas"`
	MaxFeePerGas         *big.Int          `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *big.Int          `json:"maxPriorityFeePerGas"`
	Signature            []byte            `json:"signature"`

	// v0.6
	InitCode         []byte `json:"initCode"`
	PaymasterAndData []byte `json:"paymasterAndData"`

	// v0.7, v0.8
	Factory                       common.Address `json:"factory"`
	FactoryData                   []byte         `json:"factoryData"`
	Paymaster                     common.Address `json:"paymaster"`
	PaymasterData                 []byte         `json:"paymasterData"`
	PaymasterVerificationGasLimit *big.Int       `json:"paymasterVerificationGasLimit"`
	PaymasterPostOpGasLimit       *big.Int       `json:"paymasterPostOpGasLimit"`
}

// Validate checks the version tag and that deployment and paymaster
// fields are populated in the shape of that version only.
func (u *UserOperation) Validate() error {
	switch u.Version {
	case EntryPointV06:
		if u.Factory != (common.Address{}) || len(u.FactoryData) > 0 {
			return ErrInitCodeConflict
		}
		if u.Paymaster != (common.Address{}) || len(u.PaymasterData) > 0 ||
			u.PaymasterVerificationGasLimit != nil || u.PaymasterPostOpGasLimit != nil {
			return ErrPaymasterConflict
		}
	case EntryPointV07, EntryPointV08:
		if len(u.InitCode) > 0 {
			return ErrInitCodeConflict
		}
		if len(u.PaymasterAndData) > 0 {
			return ErrPaymasterConflict
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedEntryPoint, u.Version)
	}
	return nil
}

// WithDefaults returns a copy of the operation with every absent integer set
// to zero and every absent byte string set to empty. The receiver is not modified.
func (u *UserOperation) WithDefaults() *UserOperation {
	out := *u
	for _, v := range []**big.Int{
		&out.Nonce, &out.CallGasLimit, &out.VerificationGasLimit, &out.PreVerificationGas,
		&out.MaxFeePerGas, &out.MaxPriorityFeePerGas,
	} {
		*v = cloneOrZero(*v)
	}
	for _, b := range []*[]byte{&out.CallData, &out.Signature} {
		*b = bytes.Clone(bytesOrEmpty(*b))
	}
	switch out.Version {
	case EntryPointV06:
		out.InitCode = bytes.Clone(bytesOrEmpty(out.InitCode))
		out.PaymasterAndData = bytes.Clone(bytesOrEmpty(out.PaymasterAndData))
	case EntryPointV07, EntryPointV08:
		out.FactoryData = bytes.Clone(bytesOrEmpty(out.FactoryData))
		out.PaymasterData = bytes.Clone(bytesOrEmpty(out.PaymasterData))
		out.PaymasterVerificationGasLimit = cloneOrZero(out.PaymasterVerificationGasLimit)
		out.PaymasterPostOpGasLimit = cloneOrZero(out.PaymasterPostOpGasLimit)
	}
	return &out
}

// HasFactory reports whether the operation deploys its sender.
func (u *UserOperation) HasFactory() bool {
	switch u.Version {
	case EntryPointV06:
		return len(u.InitCode) > 0
	default:
		return u.Factory != (common.Address{})
	}
}

// HasPaymaster reports whether a paymaster sponsors the operation.
func (u *UserOperation) HasPaymaster() bool {
	switch u.Version {
	case EntryPointV06:
		return len(u.PaymasterAndData) >= common.AddressLength
	default:
		return u.Paymaster != (common.Address{})
	}
}

// ToBody converts the UserOperation to a map of strings.
// It helps to perform json request.
func (u *UserOperation) ToBody() map[string]string {
	body := make(map[string]string)
	body["sender"] = u.Sender.Hex()
	body["nonce"] = hexBig(u.Nonce)
	body["callData"] = hexutil.Encode(bytesOrEmpty(u.CallData))
	body["callGasLimit"] = hexBig(u.CallGasLimit)
	body["verificationGasLimit"] = hexBig(u.VerificationGasLimit)
	body["preVerificationGas"] = hexBig(u.PreVerificationGas)
	body["maxFeePerGas"] = hexBig(u.MaxFeePerGas)
	body["maxPriorityFeePerGas"] = hexBig(u.MaxPriorityFeePerGas)
	body["signature"] = hexutil.Encode(bytesOrEmpty(u.Signature))

	switch u.Version {
	case EntryPointV06:
		body["initCode"] = hexutil.Encode(bytesOrEmpty(u.InitCode))
		body["paymasterAndData"] = hexutil.Encode(bytesOrEmpty(u.PaymasterAndData))
	default:
		if u.Factory != (common.Address{}) {
			body["factory"] = u.Factory.Hex()
			body["factoryData"] = hexutil.Encode(bytesOrEmpty(u.FactoryData))
		}
		if u.Paymaster != (common.Address{}) {
			body["paymaster"] = u.Paymaster.Hex()
			body["paymasterData"] = hexutil.Encode(bytesOrEmpty(u.PaymasterData))
			body["paymasterVerificationGasLimit"] = hexBig(u.PaymasterVerificationGasLimit)
			body["paymasterPostOpGasLimit"] = hexBig(u.PaymasterPostOpGasLimit)
		}
	}
	return body
}

// UserOpFromBody parses a JSON-RPC user operation object, the inverse of ToBody.
func UserOpFromBody(version EntryPointVersion, body map[string]string) (*UserOperation, error) {
	op := &UserOperation{Version: version}
	var err error
	ints := []struct {
		key string
		dst **big.Int
	}{
		{"nonce", &op.Nonce},
		{"callGasLimit", &op.CallGasLimit},
		{"verificationGasLimit", &op.VerificationGasLimit},
		{"preVerificationGas", &op.PreVerificationGas},
		{"maxFeePerGas", &op.MaxFeePerGas},
		{"maxPriorityFeePerGas", &op.MaxPriorityFeePerGas},
		{"paymasterVerificationGasLimit", &op.PaymasterVerificationGasLimit},
		{"paymasterPostOpGasLimit", &op.PaymasterPostOpGasLimit},
	}
	for _, f := range ints {
		v, ok := body[f.key]
		if !ok || v == "" {
			continue
		}
		if *f.dst, err = hexutil.DecodeBig(v); err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", f.key, v, err)
		}
	}
	blobs := []struct {
		key string
		dst *[]byte
	}{
		{"callData", &op.CallData},
		{"signature", &op.Signature},
		{"initCode", &op.InitCode},
		{"paymasterAndData", &op.PaymasterAndData},
		{"factoryData", &op.FactoryData},
		{"paymasterData", &op.PaymasterData},
	}
	for _, f := range blobs {
		v, ok := body[f.key]
		if !ok || v == "" {
			continue
		}
		if *f.dst, err = hexutil.Decode(v); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", f.key, err)
		}
	}
	for key, dst := range map[string]*common.Address{"sender": &op.Sender, "factory": &op.Factory, "paymaster": &op.Paymaster} {
		v, ok := body[key]
		if !ok || v == "" {
			continue
		}
		if !common.IsHexAddress(v) {
			return nil, fmt.Errorf("invalid %s %q", key, v)
		}
		*dst = common.HexToAddress(v)
	}
	if err := op.Validate(); err != nil {
		return nil, err
	}
	return op, nil
}

// PackedUserOperation is the on-chain representation consumed by EntryPoint v0.7 and v0.8.
type PackedUserOperation = entrypoint.PackedUserOperation

type receipt struct {
	BlockHash         common.Hash    `json:"blockHash"`
	BlockNumber       string         `json:"blockNumber"`
	From              common.Address `json:"from"`
	CumulativeGasUsed string         `json:"cumulativeGasUsed"`
	GasUsed           string         `json:"gasUsed"`
	Logs              []*types.Log   `json:"logs"`
	LogsBloom         types.Bloom    `json:"logsBloom"`
	TransactionHash   common.Hash    `json:"transactionHash"`
	TransactionIndex  string         `json:"transactionIndex"`
	EffectiveGasPrice string         `json:"effectiveGasPrice"`
}

type UserOpReceipt struct {
	UserOpHash    common.Hash    `json:"userOpHash"`
	Sender        common.Address `json:"sender"`
	Paymaster     common.Address `json:"paymaster"`
	Nonce         string         `json:"nonce"`
	Success       bool           `json:"success"`
	ActualGasCost string         `json:"actualGasCost"`
	ActualGasUsed string         `json:"actualGasUsed"`
	From          common.Address `json:"from"`
	Receipt       *receipt       `json:"receipt"`
	Logs          []*types.Log   `json:"logs"`
	ReturnData    hexutil.Bytes  `json:"returnData"`
}

// UserOpByHash is the result of eth_getUserOperationByHash.
type UserOpByHash struct {
	UserOperation   map[string]any `json:"userOperation"`
	EntryPoint      common.Address `json:"entryPoint"`
	BlockNumber     *hexutil.Big   `json:"blockNumber"`
	BlockHash       common.Hash    `json:"blockHash"`
	TransactionHash common.Hash    `json:"transactionHash"`
}

// GasEstimates provides estimate values for all gas fields in a UserOperation.
type GasEstimates struct {
	PreVerificationGas            *big.Int `json:"preVerificationGas"`
	VerificationGasLimit          *big.Int `json:"verificationGasLimit"`
	CallGasLimit                  *big.Int `json:"callGasLimit"`
	PaymasterVerificationGasLimit *big.Int `json:"paymasterVerificationGasLimit"`
	PaymasterPostOpGasLimit       *big.Int `json:"paymasterPostOpGasLimit"`
}

type Bundler interface {
	// SendUserOp sends the user operation to the bundler.
	SendUserOp(ctx context.Context, userOp *UserOperation, signer *ecdsa.PrivateKey) (common.Hash, error)

	// EstimateUserOpGas estimates the gas needed for the user operation.
	EstimateUserOpGas(ctx context.Context, userOp *UserOperation) (*GasEstimates, error)

	// GetUserOpReceipt returns the receipt of the user operation.
	GetUserOpReceipt(ctx context.Context, userOpHash common.Hash) (*UserOpReceipt, error)

	// SupportedEntryPoints returns the supported entry points for the bundler.
	SupportedEntryPoints(ctx context.Context) ([]common.Address, error)
}

func hexBig(v *big.Int) string {
	if v == nil {
		return "0x0"
	}
	return hexutil.EncodeBig(v)
}

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
