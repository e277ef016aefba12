package permissionless

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/goccy/go-json"
)

const (
	jsonrpcVersion      = "2.0"
	defaultWaitTimeout  = 30 * time.Second
	defaultWaitInterval = 2 * time.Second
)

var (
	ErrRPC             = errors.New("json-rpc error")
	ErrEmptyResult     = errors.New("empty json-rpc result")
	ErrReceiptTimedOut = errors.New("no receipt found for user operation")
)

func (c *Client) GetUserOpReceipt(ctx context.Context, hash common.Hash) (*UserOpReceipt, error) {
	receipt, err := rpcCall[*UserOpReceipt](ctx, c, c.config.BundlerUrl, "eth_getUserOperationReceipt", []any{hash})
	if err != nil {
		return nil, fmt.Errorf("error getting user op receipt: %w", err)
	}
	return receipt, nil
}

// GetUserOperationByHash returns the operation and where it was included, or nil if unknown.
func (c *Client) GetUserOperationByHash(ctx context.Context, hash common.Hash) (*UserOpByHash, error) {
	result, err := rpcCall[*UserOpByHash](ctx, c, c.config.BundlerUrl, "eth_getUserOperationByHash", []any{hash})
	if err != nil {
		return nil, fmt.Errorf("error getting user op by hash: %w", err)
	}
	return result, nil
}

func (c *Client) EstimateUserOpGas(ctx context.Context, userOp *UserOperation) (*GasEstimates, error) {
	type gasEstimates struct {
		PreVerificationGas            *string `json:"preVerificationGas"`
		VerificationGasLimit          *string `json:"verificationGasLimit"`
		CallGasLimit                  *string `json:"callGasLimit"`
		PaymasterVerificationGasLimit *string `json:"paymasterVerificationGasLimit"`
		PaymasterPostOpGasLimit       *string `json:"paymasterPostOpGasLimit"`
	}
	estimates, err := rpcCall[*gasEstimates](ctx, c, c.config.BundlerUrl, "eth_estimateUserOperationGas", []any{userOp.ToBody(), c.config.Entrypoint})
	if err != nil {
		return nil, fmt.Errorf("error estimating user op gas: %w", err)
	}
	if estimates == nil {
		return nil, fmt.Errorf("no gas estimates response: %w", ErrEmptyResult)
	}

	result := &GasEstimates{}
	for _, f := range []struct {
		src *string
		dst **big.Int
	}{
		{estimates.PreVerificationGas, &result.PreVerificationGas},
		{estimates.VerificationGasLimit, &result.VerificationGasLimit},
		{estimates.CallGasLimit, &result.CallGasLimit},
		{estimates.PaymasterVerificationGasLimit, &result.PaymasterVerificationGasLimit},
		{estimates.PaymasterPostOpGasLimit, &result.PaymasterPostOpGasLimit},
	} {
		if f.src != nil {
			*f.dst = HexToBigInt(*f.src)
		}
	}
	return result, nil
}

func (c *Client) SupportedEntryPoints(ctx context.Context) ([]common.Address, error) {
	entrypoints, err := rpcCall[[]common.Address](ctx, c, c.config.BundlerUrl, "eth_supportedEntryPoints", nil)
	if err != nil {
		return nil, fmt.Errorf("error getting supported entry points: %w", err)
	}
	return entrypoints, nil
}

// BundlerChainId returns the chain id reported by the bundler.
func (c *Client) BundlerChainId(ctx context.Context) (*big.Int, error) {
	chainId, err := rpcCall[*hexutil.Big](ctx, c, c.config.BundlerUrl, "eth_chainId", nil)
	if err != nil {
		return nil, fmt.Errorf("error getting bundler chain id: %w", err)
	}
	if chainId == nil {
		return nil, ErrEmptyResult
	}
	return chainId.ToInt(), nil
}

// SendUserOp fills, signs and submits the user operation, returning its hash.
func (c *Client) SendUserOp(ctx context.Context, userOp *UserOperation, signer *ecdsa.PrivateKey) (common.Hash, error) {
	signed, hash, err := c.FillAndSign(ctx, userOp, signer)
	if err != nil {
		return hash, fmt.Errorf("error fill and sign userop: %w", err)
	}
	return c.SendSignedUserOp(ctx, signed)
}

// SendSignedUserOp submits an already signed user operation as is.
func (c *Client) SendSignedUserOp(ctx context.Context, userOp *UserOperation) (common.Hash, error) {
	hash, err := rpcCall[common.Hash](ctx, c, c.config.BundlerUrl, "eth_sendUserOperation", []any{userOp.ToBody(), c.config.Entrypoint})
	if err != nil {
		return common.Hash{}, fmt.Errorf("error sending user operation: %w", err)
	}
	c.config.logger().Debug("user operation sent", "hash", hash, "sender", userOp.Sender)
	return hash, nil
}

func (c *Client) GetUserOpHash(ctx context.Context, userOp *UserOperation, signer *ecdsa.PrivateKey) (common.Hash, error) {
	_, hash, err := c.FillAndSign(ctx, userOp, signer)
	if err != nil {
		return common.Hash{}, fmt.Errorf("error fill and sign userop: %w", err)
	}
	return hash, nil
}

// WaitForUserOperation polls the bundler until the operation has a receipt
// or Config.WaitReceiptTimeout elapses.
func (c *Client) WaitForUserOperation(ctx context.Context, hash common.Hash) (*UserOpReceipt, error) {
	interval := c.config.WaitReceiptInterval
	if interval <= 0 {
		interval = defaultWaitInterval
	}
	timeout := c.config.WaitReceiptTimeout
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		select {
		case <-ticker.C:
			receipt, err := c.GetUserOpReceipt(ctx, hash)
			if err != nil {
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return nil, fmt.Errorf("%w: %s", ErrReceiptTimedOut, hash.Hex())
				}
				return nil, fmt.Errorf("error getting user operation receipt: %w", err)
			}
			if receipt != nil {
				return receipt, nil
			}
			c.config.logger().Debug("user operation pending", "hash", hash)
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrReceiptTimedOut, hash.Hex())
		}
	}
}

// rpcCall performs a JSON-RPC call and decodes its result into T.
func rpcCall[T any](ctx context.Context, c *Client, url string, method string, params []any) (T, error) {
	var zero T
	body, err := c.call(ctx, url, method, params)
	if err != nil {
		return zero, fmt.Errorf("error calling %s: %w", method, err)
	}
	var response jsonRpcResponse[T]
	if err = json.Unmarshal(body, &response); err != nil {
		return zero, fmt.Errorf("error unmarshalling %s response: %w", method, err)
	}
	if response.Error != nil {
		return zero, fmt.Errorf("%w from %s: %s", ErrRPC, method, response.Error.String())
	}
	return response.Result, nil
}

// call makes a JSON-RPC call to the given endpoint.
func (c *Client) call(ctx context.Context, url string, method string, params []any) ([]byte, error) {
	if params == nil {
		params = []any{}
	}

	request := map[string]any{
		"jsonrpc": jsonrpcVersion,
		"id":      c.id.Add(1),
		"method":  method,
		"params":  params,
	}
	payloadBytes, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("error marshalling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Add("Content-Type", "application/json")
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}
	return body, nil
}

type jsonRpcResponse[T any] struct {
	JsonRpc *string        `json:"jsonrpc"`
	Id      *int           `json:"id"`
	Result  T              `json:"result"`
	Error   *errorResponse `json:"error"`
}

type errorResponse struct {
	Code    *int    `json:"code"`
	Message *string `json:"message"`
}

// UnmarshalJSON accepts both a bare string and a {code, message} object.
func (e *errorResponse) UnmarshalJSON(b []byte) error {
	var errStr string
	if err := json.Unmarshal(b, &errStr); err == nil && errStr != "" {
		e.Message = &errStr
		e.Code = nil
		return nil
	}

	type Alias struct {
		Code    *int    `json:"code"`
		Message *string `json:"message"`
	}
	var alias Alias
	if err := json.Unmarshal(b, &alias); err != nil {
		return err
	}

	e.Code = alias.Code
	e.Message = alias.Message
	return nil
}

func (e *errorResponse) String() string {
	result := ""
	if e.Code != nil {
		result += fmt.Sprintf("code: %d", *e.Code)
	}
	if e.Message != nil {
		if result != "" {
			result += ", "
		}
		result += fmt.Sprintf("message: %s", *e.Message)
	}
	return result
}
