package permissionless

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/lifenetwork-ai/permissionless-go/bindings/account"
)

// StubSignature is a well-formed ECDSA signature used for gas estimation
// before the real signature exists.
var StubSignature = hexutil.MustDecode("0xfffffffffffffffffffffffffffffff0000000000000000000000000000000007aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1c")

var ErrUnknownAccountCall = errors.New("call data does not match an account execution function")

// SmartAccount describes an on-chain account implementation: where it lives,
// how it is deployed and how it encodes the calls it executes.
type SmartAccount interface {
	// Address returns the (possibly counterfactual) account address.
	Address(ctx context.Context) (common.Address, error)

	// FactoryArgs returns the factory and the calldata deploying the account.
	FactoryArgs(ctx context.Context) (common.Address, []byte, error)

	// EncodeCalls encodes calls into the account's execution call data.
	EncodeCalls(calls []Call) ([]byte, error)

	// DecodeCalls is the inverse of EncodeCalls.
	DecodeCalls(callData []byte) ([]Call, error)

	// NonceKey returns the 2D nonce key the account uses.
	NonceKey() *big.Int

	// StubSignature returns a signature placeholder for gas estimation.
	StubSignature() []byte
}

// AddressResolver resolves counterfactual account addresses from a factory.
type AddressResolver interface {
	GetAddress(opts *bind.CallOpts, owner common.Address, salt *big.Int) (common.Address, error)
}

// SimpleAccount is the eth-infinitism SimpleAccount (execute / executeBatch).
type SimpleAccount struct {
	owner      common.Address
	salt       *big.Int
	factory    common.Address
	resolver   AddressResolver
	cache      AddressCache
	accountABI *abi.ABI
	factoryABI *abi.ABI
}

var _ SmartAccount = (*SimpleAccount)(nil)

// NewSimpleAccount creates a SimpleAccount owned by owner. cache may be nil.
func NewSimpleAccount(owner common.Address, salt *big.Int, factory common.Address, resolver AddressResolver, cache AddressCache) (*SimpleAccount, error) {
	accountABI, err := account.SimpleAccountMetaData.GetAbi()
	if err != nil {
		return nil, fmt.Errorf("error getting simple account ABI: %w", err)
	}
	factoryABI, err := account.SimpleAccountFactoryMetaData.GetAbi()
	if err != nil {
		return nil, fmt.Errorf("error getting account factory ABI: %w", err)
	}
	if salt == nil {
		salt = new(big.Int)
	}
	return &SimpleAccount{
		owner:      owner,
		salt:       salt,
		factory:    factory,
		resolver:   resolver,
		cache:      cache,
		accountABI: accountABI,
		factoryABI: factoryABI,
	}, nil
}

// Address returns the smart account address for the owner and salt.
func (a *SimpleAccount) Address(ctx context.Context) (common.Address, error) {
	opts := &bind.CallOpts{Context: ctx}
	if a.cache == nil {
		return a.resolver.GetAddress(opts, a.owner, a.salt)
	}
	key := fmt.Sprintf("%s-%s-%s", a.factory.Hex(), a.owner.Hex(), a.salt.String())
	if addr, ok := a.cache.Get(key); ok {
		return addr, nil
	}
	addr, err := a.resolver.GetAddress(opts, a.owner, a.salt)
	if err != nil {
		return common.Address{}, fmt.Errorf("error getting account address: %w", err)
	}
	a.cache.Set(key, addr)
	return addr, nil
}

func (a *SimpleAccount) FactoryArgs(ctx context.Context) (common.Address, []byte, error) {
	data, err := a.factoryABI.Pack("createAccount", a.owner, a.salt)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("error packing account init code: %w", err)
	}
	return a.factory, data, nil
}

// EncodeCalls packs a single call as execute and several as executeBatch.
func (a *SimpleAccount) EncodeCalls(calls []Call) ([]byte, error) {
	if len(calls) == 0 {
		return nil, ErrNoCalls
	}
	if err := validateCallValues(calls); err != nil {
		return nil, err
	}
	if len(calls) == 1 {
		return a.accountABI.Pack("execute", calls[0].To, valueOrZero(calls[0].Value), bytesOrEmpty(calls[0].Data))
	}
	dest := make([]common.Address, len(calls))
	values := make([]*big.Int, len(calls))
	data := make([][]byte, len(calls))
	for i, call := range calls {
		dest[i] = call.To
		values[i] = valueOrZero(call.Value)
		data[i] = bytesOrEmpty(call.Data)
	}
	return a.accountABI.Pack("executeBatch", dest, values, data)
}

func (a *SimpleAccount) DecodeCalls(callData []byte) ([]Call, error) {
	if len(callData) < 4 {
		return nil, ErrUnknownAccountCall
	}
	method, err := a.accountABI.MethodById(callData[:4])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownAccountCall, err)
	}
	args, err := method.Inputs.Unpack(callData[4:])
	if err != nil {
		return nil, fmt.Errorf("error unpacking %s: %w", method.Name, err)
	}
	switch method.Name {
	case "execute":
		return []Call{{To: args[0].(common.Address), Value: args[1].(*big.Int), Data: args[2].([]byte)}}, nil
	case "executeBatch":
		dest, values, data := args[0].([]common.Address), args[1].([]*big.Int), args[2].([][]byte)
		if len(dest) != len(values) || len(dest) != len(data) {
			return nil, fmt.Errorf("dest, value and data length mismatch: %d, %d, %d", len(dest), len(values), len(data))
		}
		calls := make([]Call, len(dest))
		for i := range dest {
			calls[i] = Call{To: dest[i], Value: values[i], Data: data[i]}
		}
		return calls, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccountCall, method.Name)
	}
}

func (a *SimpleAccount) NonceKey() *big.Int {
	return new(big.Int)
}

func (a *SimpleAccount) StubSignature() []byte {
	return StubSignature
}

// ERC7579Account is any account exposing the ERC-7579 execute(bytes32,bytes)
// entry point, such as Kernel v3, Safe7579, Nexus or Etherspot.
//
// Address and deployment data are account specific and supplied by the caller.
type ERC7579Account struct {
	address       common.Address
	factory       common.Address
	factoryData   []byte
	nonceKey      *big.Int
	revertOnError bool
}

var _ SmartAccount = (*ERC7579Account)(nil)

// ERC7579AccountOption configures an ERC7579Account.
type ERC7579AccountOption func(*ERC7579Account)

// WithFactory sets the deployment data of a not yet deployed account.
func WithFactory(factory common.Address, factoryData []byte) ERC7579AccountOption {
	return func(a *ERC7579Account) {
		a.factory = factory
		a.factoryData = factoryData
	}
}

// WithNonceKey selects the nonce key, e.g. a validator module address for Kernel.
func WithNonceKey(key *big.Int) ERC7579AccountOption {
	return func(a *ERC7579Account) {
		a.nonceKey = key
	}
}

// WithRevertOnError makes encoded modes use the try execution type.
func WithRevertOnError(revert bool) ERC7579AccountOption {
	return func(a *ERC7579Account) {
		a.revertOnError = revert
	}
}

func NewERC7579Account(address common.Address, opts ...ERC7579AccountOption) *ERC7579Account {
	a := &ERC7579Account{address: address, nonceKey: new(big.Int)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *ERC7579Account) Address(ctx context.Context) (common.Address, error) {
	return a.address, nil
}

func (a *ERC7579Account) FactoryArgs(ctx context.Context) (common.Address, []byte, error) {
	return a.factory, a.factoryData, nil
}

// EncodeCalls uses a call mode for one call and a batchcall mode otherwise.
func (a *ERC7579Account) EncodeCalls(calls []Call) ([]byte, error) {
	mode := ExecutionMode{Type: CallTypeCall, RevertOnError: a.revertOnError}
	if len(calls) > 1 {
		mode.Type = CallTypeBatchCall
	}
	return Encode7579Calls(mode, calls)
}

func (a *ERC7579Account) DecodeCalls(callData []byte) ([]Call, error) {
	_, calls, err := Decode7579Calls(callData)
	return calls, err
}

func (a *ERC7579Account) NonceKey() *big.Int {
	return a.nonceKey
}

func (a *ERC7579Account) StubSignature() []byte {
	return StubSignature
}
