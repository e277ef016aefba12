package permissionless

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	ErrPaymasterNotConfigured = errors.New("paymaster url is not configured")
	ErrTokenQuoteNotFound     = errors.New("no quote for paymaster token")
)

// PaymasterSponsor identifies who sponsors an operation, as returned by ERC-7677 stubs.
type PaymasterSponsor struct {
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

// PaymasterStubData is the ERC-7677 pm_getPaymasterStubData result. v0.6
// paymasters return PaymasterAndData, v0.7+ paymasters the split fields.
type PaymasterStubData struct {
	Paymaster                     *common.Address   `json:"paymaster,omitempty"`
	PaymasterData                 hexutil.Bytes     `json:"paymasterData,omitempty"`
	PaymasterVerificationGasLimit *hexutil.Big      `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big      `json:"paymasterPostOpGasLimit,omitempty"`
	PaymasterAndData              hexutil.Bytes     `json:"paymasterAndData,omitempty"`
	Sponsor                       *PaymasterSponsor `json:"sponsor,omitempty"`
	IsFinal                       bool              `json:"isFinal,omitempty"`
}

// PaymasterData is the ERC-7677 pm_getPaymasterData result.
type PaymasterData struct {
	Paymaster        *common.Address `json:"paymaster,omitempty"`
	PaymasterData    hexutil.Bytes   `json:"paymasterData,omitempty"`
	PaymasterAndData hexutil.Bytes   `json:"paymasterAndData,omitempty"`
}

type tokenQuotesResult struct {
	Quotes []struct {
		Paymaster               common.Address `json:"paymaster"`
		Token                   common.Address `json:"token"`
		PostOpGas               *hexutil.Big   `json:"postOpGas"`
		ExchangeRate            *hexutil.Big   `json:"exchangeRate"`
		ExchangeRateNativeToUsd *hexutil.Big   `json:"exchangeRateNativeToUsd"`
		BalanceSlot             *hexutil.Big   `json:"balanceSlot"`
		AllowanceSlot           *hexutil.Big   `json:"allowanceSlot"`
	} `json:"quotes"`
}

// GetPaymasterStubData asks the paymaster for gas-estimation data.
func (c *Client) GetPaymasterStubData(ctx context.Context, userOp *UserOperation, pmContext map[string]any) (*PaymasterStubData, error) {
	if c.config.PaymasterUrl == "" {
		return nil, ErrPaymasterNotConfigured
	}
	stub, err := rpcCall[*PaymasterStubData](ctx, c, c.config.PaymasterUrl, "pm_getPaymasterStubData", c.paymasterParams(userOp, pmContext))
	if err != nil {
		return nil, fmt.Errorf("error getting paymaster stub data: %w", err)
	}
	if stub == nil {
		return nil, ErrEmptyResult
	}
	return stub, nil
}

// GetPaymasterData asks the paymaster for the final, signed paymaster data.
func (c *Client) GetPaymasterData(ctx context.Context, userOp *UserOperation, pmContext map[string]any) (*PaymasterData, error) {
	if c.config.PaymasterUrl == "" {
		return nil, ErrPaymasterNotConfigured
	}
	data, err := rpcCall[*PaymasterData](ctx, c, c.config.PaymasterUrl, "pm_getPaymasterData", c.paymasterParams(userOp, pmContext))
	if err != nil {
		return nil, fmt.Errorf("error getting paymaster data: %w", err)
	}
	if data == nil {
		return nil, ErrEmptyResult
	}
	return data, nil
}

// GetTokenQuotes returns the paymaster's exchange rates for the given tokens.
func (c *Client) GetTokenQuotes(ctx context.Context, tokens []common.Address) ([]TokenQuote, error) {
	if c.config.PaymasterUrl == "" {
		return nil, ErrPaymasterNotConfigured
	}
	params := []any{
		map[string]any{"tokens": tokens},
		c.config.Entrypoint,
		hexBig(c.chainId),
	}
	result, err := rpcCall[*tokenQuotesResult](ctx, c, c.config.PaymasterUrl, "pimlico_getTokenQuotes", params)
	if err != nil {
		return nil, fmt.Errorf("error getting token quotes: %w", err)
	}
	if result == nil {
		return nil, ErrEmptyResult
	}
	quotes := make([]TokenQuote, 0, len(result.Quotes))
	for _, q := range result.Quotes {
		quotes = append(quotes, TokenQuote{
			Paymaster:               q.Paymaster,
			Token:                   q.Token,
			PostOpGas:               (*big.Int)(q.PostOpGas),
			ExchangeRate:            (*big.Int)(q.ExchangeRate),
			ExchangeRateNativeToUsd: (*big.Int)(q.ExchangeRateNativeToUsd),
			BalanceSlot:             (*big.Int)(q.BalanceSlot),
			AllowanceSlot:           (*big.Int)(q.AllowanceSlot),
		})
	}
	return quotes, nil
}

// EstimateERC20PaymasterCost prices the operation in the token named by its
// paymaster data, using the paymaster's current quote for that token.
func (c *Client) EstimateERC20PaymasterCost(ctx context.Context, userOp *UserOperation) (*ERC20PaymasterCost, error) {
	token, err := PaymasterTokenAddress(userOp)
	if err != nil {
		return nil, err
	}
	quotes, err := c.GetTokenQuotes(ctx, []common.Address{token})
	if err != nil {
		return nil, err
	}
	for i := range quotes {
		if quotes[i].Token == token {
			return EstimateERC20PaymasterCost(userOp, &quotes[i])
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTokenQuoteNotFound, token.Hex())
}

func (c *Client) paymasterParams(userOp *UserOperation, pmContext map[string]any) []any {
	if pmContext == nil {
		pmContext = map[string]any{}
	}
	return []any{userOp.ToBody(), c.config.Entrypoint, hexBig(c.chainId), pmContext}
}

// Apply copies stub paymaster fields onto the operation for its version.
func (s *PaymasterStubData) Apply(userOp *UserOperation) {
	if userOp.Version == EntryPointV06 {
		userOp.PaymasterAndData = s.PaymasterAndData
		return
	}
	if s.Paymaster != nil {
		userOp.Paymaster = *s.Paymaster
	}
	userOp.PaymasterData = s.PaymasterData
	if s.PaymasterVerificationGasLimit != nil {
		userOp.PaymasterVerificationGasLimit = s.PaymasterVerificationGasLimit.ToInt()
	}
	if s.PaymasterPostOpGasLimit != nil {
		userOp.PaymasterPostOpGasLimit = s.PaymasterPostOpGasLimit.ToInt()
	}
}

// Apply copies the final paymaster fields onto the operation for its version.
func (d *PaymasterData) Apply(userOp *UserOperation) {
	if userOp.Version == EntryPointV06 {
		userOp.PaymasterAndData = d.PaymasterAndData
		return
	}
	if d.Paymaster != nil {
		userOp.Paymaster = *d.Paymaster
	}
	userOp.PaymasterData = d.PaymasterData
}
