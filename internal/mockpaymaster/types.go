package mockpaymaster

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/goccy/go-json"
)

const jsonrpcVersion = "2.0"

const (
	errInvalidRequest = -32600
	errMethodNotFound = -32601
	errInvalidParams  = -32602
	errInternal       = -32603
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      any         `json:"id"`
	Result  any         `json:"result,omitempty"`
	Error   *rpcErrBody `json:"error,omitempty"`
}

type rpcErrBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func rpcOK(id any, result any) rpcResponse {
	return rpcResponse{JSONRPC: jsonrpcVersion, ID: id, Result: result}
}

func rpcErr(id any, code int, msg string) rpcResponse {
	return rpcResponse{JSONRPC: jsonrpcVersion, ID: id, Error: &rpcErrBody{Code: code, Message: msg}}
}

type Sponsor struct {
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

type PaymasterStubResult struct {
	Sponsor                       *Sponsor       `json:"sponsor,omitempty"`
	Paymaster                     common.Address `json:"paymaster"`
	PaymasterData                 hexutil.Bytes  `json:"paymasterData"`
	PaymasterVerificationGasLimit *hexutil.Big   `json:"paymasterVerificationGasLimit"`
	PaymasterPostOpGasLimit       *hexutil.Big   `json:"paymasterPostOpGasLimit"`
	IsFinal                       bool           `json:"isFinal"`
}

type PaymasterDataResult struct {
	Sponsor       *Sponsor       `json:"sponsor,omitempty"`
	Paymaster     common.Address `json:"paymaster"`
	PaymasterData hexutil.Bytes  `json:"paymasterData"`
}

type tokenQuote struct {
	Paymaster               common.Address `json:"paymaster"`
	Token                   common.Address `json:"token"`
	PostOpGas               *hexutil.Big   `json:"postOpGas"`
	ExchangeRate            *hexutil.Big   `json:"exchangeRate"`
	ExchangeRateNativeToUsd *hexutil.Big   `json:"exchangeRateNativeToUsd"`
	BalanceSlot             *hexutil.Big   `json:"balanceSlot"`
	AllowanceSlot           *hexutil.Big   `json:"allowanceSlot"`
}

type TokenQuotesResult struct {
	Quotes []tokenQuote `json:"quotes"`
}

// SponsorshipPolicy describes a policy accepted by pm_validateSponsorshipPolicies.
type SponsorshipPolicy struct {
	Name        string `json:"name"`
	Author      string `json:"author"`
	Icon        string `json:"icon,omitempty"`
	Description string `json:"description"`
}

type validatedPolicy struct {
	SponsorshipPolicyID string            `json:"sponsorshipPolicyId"`
	Data                SponsorshipPolicy `json:"data"`
}
