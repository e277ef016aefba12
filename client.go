package permissionless

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/lifenetwork-ai/permissionless-go/bindings/account"
	"github.com/lifenetwork-ai/permissionless-go/bindings/entrypoint"
)

var (
	ErrEmptySender       = errors.New("sender address is empty")
	ErrNoExecutor        = errors.New("no executor signer available")
	ErrNoVerifyingSigner = errors.New("verifying signer is not configured")
	ErrNoUserOperations  = errors.New("no user operations to handle")
)

var defaultPaymasterExpiry = big.NewInt(math.MaxInt32)

var _ Bundler = &Client{}

type Client struct {
	id         atomic.Uint64 // unique id for the client
	chainId    *big.Int
	config     *Config
	eth        *ethclient.Client
	http       *http.Client
	entrypoint *entrypoint.EntryPoint
}

// NewClient creates a new Client instance with given config.
func NewClient(config *Config) (*Client, error) {
	eth, err := ethclient.Dial(config.NodeUrl)
	if err != nil {
		return nil, fmt.Errorf("error creating eth client: %w", err)
	}
	chainId, err := eth.ChainID(context.Background())
	if err != nil {
		return nil, fmt.Errorf("error getting chain id: %w", err)
	}
	entrypoint, err := entrypoint.NewEntryPoint(config.Entrypoint, eth)
	if err != nil {
		return nil, fmt.Errorf("error creating entrypoint client: %w", err)
	}
	c := &Client{
		chainId:    chainId,
		eth:        eth,
		http:       http.DefaultClient,
		config:     config,
		entrypoint: entrypoint,
	}
	config.logger().Info("client initialized",
		"chainId", chainId,
		"entrypoint", config.Entrypoint,
		"version", config.Version(),
	)
	return c, nil
}

// NewSimpleAccount returns a SimpleAccount whose address is resolved by the
// factory on the client's chain.
func (c *Client) NewSimpleAccount(owner common.Address, salt *big.Int, factory common.Address, cache AddressCache) (*SimpleAccount, error) {
	resolver, err := account.NewSimpleAccountFactory(factory, c.eth)
	if err != nil {
		return nil, fmt.Errorf("error creating account factory client: %w", err)
	}
	return NewSimpleAccount(owner, salt, factory, resolver, cache)
}

// GetAccountBalance returns the balance of the given account.
func (c *Client) GetAccountBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := c.eth.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("error getting account balance: %w", err)
	}
	return balance, nil
}

// GetNonce reads the sender's next nonce for key from the EntryPoint.
func (c *Client) GetNonce(ctx context.Context, sender common.Address, key *big.Int) (Nonce, error) {
	raw, err := c.entrypoint.GetNonce(&bind.CallOpts{Context: ctx}, sender, valueOrZero(key))
	if err != nil {
		return Nonce{}, fmt.Errorf("error getting nonce: %w", err)
	}
	return DecodeNonce(raw), nil
}

// BuildUserOp prepares an unsigned user operation executing calls from
// smartAccount, adding deployment data when the account has no code yet.
func (c *Client) BuildUserOp(ctx context.Context, smartAccount SmartAccount, calls []Call) (*UserOperation, error) {
	sender, err := smartAccount.Address(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting account address: %w", err)
	}
	callData, err := smartAccount.EncodeCalls(calls)
	if err != nil {
		return nil, fmt.Errorf("error encoding calls: %w", err)
	}
	nonce, err := c.GetNonce(ctx, sender, smartAccount.NonceKey())
	if err != nil {
		return nil, err
	}

	userOp := NewUserOpWithDefault(c.config.Version(), sender, callData)
	userOp.Nonce = EncodeNonce(nonce)
	userOp.Signature = smartAccount.StubSignature()

	isDeployed, err := IsAccountDeployed(ctx, c.eth, sender)
	if err != nil {
		return nil, fmt.Errorf("error checking if account is deployed: %w", err)
	}
	if !isDeployed {
		factory, factoryData, err := smartAccount.FactoryArgs(ctx)
		if err != nil {
			return nil, fmt.Errorf("error getting account init code: %w", err)
		}
		if userOp.Version == EntryPointV06 {
			userOp.InitCode = PackInitCode(factory, factoryData)
		} else {
			userOp.Factory = factory
			userOp.FactoryData = factoryData
		}
	}
	return userOp, nil
}

// FillAndSign fills the missing nonce and paymaster fields and signs the
// result. The input operation is not modified.
func (c *Client) FillAndSign(ctx context.Context, userOp *UserOperation, signer *ecdsa.PrivateKey) (*UserOperation, common.Hash, error) {
	if userOp.Sender == (common.Address{}) {
		return nil, common.Hash{}, ErrEmptySender
	}
	filled := *userOp
	if filled.Version == "" {
		filled.Version = c.config.Version()
	}
	if err := filled.Validate(); err != nil {
		return nil, common.Hash{}, err
	}
	if filled.Nonce == nil {
		nonce, err := c.GetNonce(ctx, filled.Sender, nil)
		if err != nil {
			return nil, common.Hash{}, err
		}
		filled.Nonce = EncodeNonce(nonce)
	}

	if err := c.sponsor(ctx, &filled); err != nil {
		return nil, common.Hash{}, fmt.Errorf("error getting paymaster data: %w", err)
	}

	sig, hash, err := c.SignUserOp(&filled, signer)
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("error signing user operation: %w", err)
	}
	filled.Signature = sig

	return &filled, hash, nil
}

// sponsor attaches paymaster data from the paymaster service, or from the
// local verifying signer when only a paymaster address is configured.
func (c *Client) sponsor(ctx context.Context, userOp *UserOperation) error {
	switch {
	case c.config.PaymasterUrl != "":
		if userOp.HasPaymaster() {
			return nil
		}
		stub, err := c.GetPaymasterStubData(ctx, userOp, nil)
		if err != nil {
			return err
		}
		stub.Apply(userOp)
		if stub.IsFinal {
			return nil
		}
		data, err := c.GetPaymasterData(ctx, userOp, nil)
		if err != nil {
			return err
		}
		data.Apply(userOp)
		return nil
	case c.config.PaymasterAddress != nil:
		return c.signVerifyingPaymaster(userOp)
	default:
		return nil
	}
}

func (c *Client) signVerifyingPaymaster(userOp *UserOperation) error {
	if c.config.VerifyingSigner == nil {
		return ErrNoVerifyingSigner
	}
	if userOp.Version == EntryPointV06 {
		return fmt.Errorf("%w: verifying paymaster signing needs v0.7 or later", ErrUnsupportedEntryPoint)
	}
	// Using paymaster default validation time
	validAfter := big.NewInt(0)
	validUntil := defaultPaymasterExpiry

	userOp.Paymaster = *c.config.PaymasterAddress
	if userOp.PaymasterVerificationGasLimit == nil {
		userOp.PaymasterVerificationGasLimit = big.NewInt(DefaultPaymasterVerificationGasLimit)
	}
	if userOp.PaymasterPostOpGasLimit == nil {
		userOp.PaymasterPostOpGasLimit = big.NewInt(DefaultPaymasterPostOpGasLimit)
	}
	paymasterData, err := SignVerifyingPaymasterData(userOp, c.chainId, validUntil, validAfter, c.config.VerifyingSigner)
	if err != nil {
		return err
	}
	userOp.PaymasterData = paymasterData
	return nil
}

// SignVerifyingPaymasterData produces VerifyingPaymaster data for a v0.7 or
// v0.8 operation whose paymaster and paymaster gas limits are already set.
func SignVerifyingPaymasterData(userOp *UserOperation, chainId, validUntil, validAfter *big.Int, signer *ecdsa.PrivateKey) ([]byte, error) {
	placeholder, err := EncodePaymasterData(validUntil, validAfter, EmptySignature)
	if err != nil {
		return nil, fmt.Errorf("error encoding paymaster data: %w", err)
	}
	unsigned := *userOp
	unsigned.PaymasterData = placeholder
	packed, err := PackUserOperation(&unsigned)
	if err != nil {
		return nil, err
	}
	paymasterHash, err := GetPaymasterHash(packed, chainId, validUntil, validAfter)
	if err != nil {
		return nil, err
	}
	paymasterSig, err := SignMessage(signer, paymasterHash.Bytes())
	if err != nil {
		return nil, fmt.Errorf("error signing paymaster data: %w", err)
	}
	return EncodePaymasterData(validUntil, validAfter, paymasterSig)
}

// SignUserOp signs a user operation for the client's EntryPoint and chain.
func (c *Client) SignUserOp(userOp *UserOperation, privateKey *ecdsa.PrivateKey) ([]byte, common.Hash, error) {
	return SignUserOp(userOp, c.config.Entrypoint, c.chainId, privateKey)
}

// HandleOps submits the user operations by calling the entrypoint contract
// directly, from the next executor in rotation.
func (c *Client) HandleOps(ctx context.Context, ops []*UserOperation) ([]common.Hash, common.Hash, error) {
	if len(ops) == 0 {
		return nil, common.Hash{}, ErrNoUserOperations
	}
	if c.config.Executors == nil {
		return nil, common.Hash{}, ErrNoExecutor
	}
	executor := c.config.Executors.Next()
	if executor == nil {
		return nil, common.Hash{}, ErrNoExecutor
	}

	packed := make([]entrypoint.PackedUserOperation, 0, len(ops))
	opHashes := make([]common.Hash, 0, len(ops))
	for _, op := range ops {
		p, err := PackUserOperation(op)
		if err != nil {
			return nil, common.Hash{}, fmt.Errorf("error packing user operation: %w", err)
		}
		hash, err := GetUserOpHash(op, c.config.Entrypoint, c.chainId)
		if err != nil {
			return nil, common.Hash{}, fmt.Errorf("error hashing user operation: %w", err)
		}
		packed = append(packed, *p)
		opHashes = append(opHashes, hash)
	}

	txOpts, err := bind.NewKeyedTransactorWithChainID(executor, c.chainId)
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("error creating transaction options: %w", err)
	}
	txOpts.Context = ctx
	beneficiary := crypto.PubkeyToAddress(executor.PublicKey)
	tx, err := c.entrypoint.HandleOps(txOpts, packed, beneficiary)
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("error handling ops: %w", err)
	}
	c.config.logger().Info("handleOps submitted", "tx", tx.Hash(), "ops", len(ops), "executor", beneficiary)
	return opHashes, tx.Hash(), nil
}

// Prefund deposits to entrypoint and waits for the transaction to be mined.
func (c *Client) Prefund(ctx context.Context, funder *ecdsa.PrivateKey, to common.Address, amount *big.Int) (*types.Receipt, error) {
	txOpts, err := bind.NewKeyedTransactorWithChainID(funder, c.chainId)
	if err != nil {
		return nil, fmt.Errorf("error creating transactor: %w", err)
	}
	txOpts.Context = ctx
	txOpts.Value = amount
	tx, err := c.entrypoint.DepositTo(txOpts, to)
	if err != nil {
		return nil, fmt.Errorf("error depositing fund: %w", err)
	}
	return bind.WaitMined(ctx, c.eth, tx)
}

// DepositOf returns the account's deposit held by the entrypoint.
func (c *Client) DepositOf(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := c.entrypoint.BalanceOf(&bind.CallOpts{Context: ctx}, account)
	if err != nil {
		return nil, fmt.Errorf("error getting entrypoint deposit: %w", err)
	}
	return balance, nil
}

// DeployAccount deploys a SimpleAccount through factory and waits for the transaction to be mined.
func (c *Client) DeployAccount(ctx context.Context, signer *ecdsa.PrivateKey, factory common.Address, owner common.Address, salt *big.Int) (*types.Receipt, error) {
	simpleFactory, err := account.NewSimpleAccountFactory(factory, c.eth)
	if err != nil {
		return nil, fmt.Errorf("error creating account factory client: %w", err)
	}
	txOpts, err := bind.NewKeyedTransactorWithChainID(signer, c.chainId)
	if err != nil {
		return nil, fmt.Errorf("error creating transactor: %w", err)
	}
	txOpts.Context = ctx
	tx, err := simpleFactory.CreateAccount(txOpts, owner, salt)
	if err != nil {
		return nil, fmt.Errorf("error creating account: %w", err)
	}
	return bind.WaitMined(ctx, c.eth, tx)
}

// ChainId returns the chain ID of the node.
func (c *Client) ChainId() *big.Int {
	return c.chainId
}
