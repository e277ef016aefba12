package permissionless

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rpcHandler answers one JSON-RPC method call. A non-nil rpcError is sent as the error member.
type rpcHandler func(method string, params []json.RawMessage) (result any, rpcError any)

func newRPCServer(t *testing.T, handle rpcHandler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		result, rpcError := handle(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcError != nil {
			resp["error"] = rpcError
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(cfg *Config) *Client {
	if cfg.Entrypoint == (common.Address{}) {
		cfg.Entrypoint = EntryPointV07Address
	}
	return &Client{chainId: testChainId, config: cfg, http: http.DefaultClient}
}

var testUserOpHash = common.HexToHash("0x5d3a2c1f0b0e0d0c0b0a09080706050403020100ffeeddccbbaa998877665544")

func TestGetUserOpReceipt(t *testing.T) {
	srv := newRPCServer(t, func(method string, params []json.RawMessage) (any, any) {
		assert.Equal(t, "eth_getUserOperationReceipt", method)
		var hash common.Hash
		if len(params) != 1 || json.Unmarshal(params[0], &hash) != nil || hash != testUserOpHash {
			return nil, nil
		}
		return map[string]any{
			"userOpHash":    testUserOpHash,
			"sender":        callTarget1,
			"nonce":         "0x1",
			"success":       true,
			"actualGasCost": "0x5208",
		}, nil
	})
	client := newTestClient(&Config{BundlerUrl: srv.URL})

	receipt, err := client.GetUserOpReceipt(context.Background(), testUserOpHash)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.True(t, receipt.Success)
	assert.Equal(t, callTarget1, receipt.Sender)
	assert.Equal(t, "0x5208", receipt.ActualGasCost)

	receipt, err = client.GetUserOpReceipt(context.Background(), common.Hash{0x01})
	require.NoError(t, err)
	assert.Nil(t, receipt)
}

func TestRPCErrors(t *testing.T) {
	tests := []struct {
		name     string
		rpcError any
		want     string
	}{
		{name: "object", rpcError: map[string]any{"code": -32602, "message": "invalid params"}, want: "code: -32602, message: invalid params"},
		{name: "string", rpcError: "AA21 didn't pay prefund", want: "message: AA21 didn't pay prefund"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newRPCServer(t, func(string, []json.RawMessage) (any, any) {
				return nil, tt.rpcError
			})
			client := newTestClient(&Config{BundlerUrl: srv.URL})

			_, err := client.SupportedEntryPoints(context.Background())
			require.ErrorIs(t, err, ErrRPC)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEstimateUserOpGas(t *testing.T) {
	srv := newRPCServer(t, func(method string, params []json.RawMessage) (any, any) {
		assert.Equal(t, "eth_estimateUserOperationGas", method)
		if !assert.Len(t, params, 2) {
			return nil, nil
		}
		var body map[string]string
		assert.NoError(t, json.Unmarshal(params[0], &body))
		assert.Equal(t, callTarget1.Hex(), body["sender"])
		var entryPoint common.Address
		assert.NoError(t, json.Unmarshal(params[1], &entryPoint))
		assert.Equal(t, EntryPointV07Address, entryPoint)
		return map[string]any{
			"preVerificationGas":            "0xc350",
			"verificationGasLimit":          "0x186a0",
			"callGasLimit":                  "0x30d40",
			"paymasterVerificationGasLimit": "0x7530",
		}, nil
	})
	client := newTestClient(&Config{BundlerUrl: srv.URL})

	estimates, err := client.EstimateUserOpGas(context.Background(), sampleUserOp(EntryPointV07))
	require.NoError(t, err)
	assert.Equal(t, int64(50000), estimates.PreVerificationGas.Int64())
	assert.Equal(t, int64(100000), estimates.VerificationGasLimit.Int64())
	assert.Equal(t, int64(200000), estimates.CallGasLimit.Int64())
	assert.Equal(t, int64(30000), estimates.PaymasterVerificationGasLimit.Int64())
	assert.Nil(t, estimates.PaymasterPostOpGasLimit)
}

func TestEstimateUserOpGasEmptyResult(t *testing.T) {
	srv := newRPCServer(t, func(string, []json.RawMessage) (any, any) {
		return nil, nil
	})
	client := newTestClient(&Config{BundlerUrl: srv.URL})

	_, err := client.EstimateUserOpGas(context.Background(), sampleUserOp(EntryPointV07))
	require.ErrorIs(t, err, ErrEmptyResult)
}

func TestSupportedEntryPointsAndChainId(t *testing.T) {
	srv := newRPCServer(t, func(method string, params []json.RawMessage) (any, any) {
		assert.Empty(t, params)
		switch method {
		case "eth_supportedEntryPoints":
			return []common.Address{EntryPointV07Address, EntryPointV08Address}, nil
		case "eth_chainId":
			return "0x7a69", nil
		}
		return nil, map[string]any{"code": -32601, "message": "method not found"}
	})
	client := newTestClient(&Config{BundlerUrl: srv.URL})

	entryPoints, err := client.SupportedEntryPoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []common.Address{EntryPointV07Address, EntryPointV08Address}, entryPoints)

	chainId, err := client.BundlerChainId(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(31337), chainId.Int64())
}

func TestGetUserOperationByHash(t *testing.T) {
	srv := newRPCServer(t, func(method string, params []json.RawMessage) (any, any) {
		assert.Equal(t, "eth_getUserOperationByHash", method)
		return map[string]any{
			"userOperation": map[string]any{"sender": callTarget1.Hex()},
			"entryPoint":    EntryPointV07Address,
			"blockNumber":   "0x10",
		}, nil
	})
	client := newTestClient(&Config{BundlerUrl: srv.URL})

	result, err := client.GetUserOperationByHash(context.Background(), testUserOpHash)
	require.NoError(t, err)
	assert.Equal(t, EntryPointV07Address, result.EntryPoint)
	assert.Equal(t, int64(16), result.BlockNumber.ToInt().Int64())
	assert.Equal(t, callTarget1.Hex(), result.UserOperation["sender"])
}

func TestWaitForUserOperation(t *testing.T) {
	var polls atomic.Int32
	srv := newRPCServer(t, func(string, []json.RawMessage) (any, any) {
		if polls.Add(1) < 3 {
			return nil, nil
		}
		return map[string]any{"userOpHash": testUserOpHash, "success": true}, nil
	})
	client := newTestClient(&Config{
		BundlerUrl:          srv.URL,
		WaitReceiptInterval: 10 * time.Millisecond,
		WaitReceiptTimeout:  5 * time.Second,
	})

	receipt, err := client.WaitForUserOperation(context.Background(), testUserOpHash)
	require.NoError(t, err)
	assert.Equal(t, testUserOpHash, receipt.UserOpHash)
	assert.Equal(t, int32(3), polls.Load())
}

func TestWaitForUserOperationTimeout(t *testing.T) {
	srv := newRPCServer(t, func(string, []json.RawMessage) (any, any) {
		return nil, nil
	})
	client := newTestClient(&Config{
		BundlerUrl:          srv.URL,
		WaitReceiptInterval: 10 * time.Millisecond,
		WaitReceiptTimeout:  50 * time.Millisecond,
	})

	_, err := client.WaitForUserOperation(context.Background(), testUserOpHash)
	require.ErrorIs(t, err, ErrReceiptTimedOut)
}

func TestSendSignedUserOp(t *testing.T) {
	srv := newRPCServer(t, func(method string, params []json.RawMessage) (any, any) {
		assert.Equal(t, "eth_sendUserOperation", method)
		return testUserOpHash, nil
	})
	client := newTestClient(&Config{BundlerUrl: srv.URL})

	hash, err := client.SendSignedUserOp(context.Background(), sampleUserOp(EntryPointV07))
	require.NoError(t, err)
	assert.Equal(t, testUserOpHash, hash)
}
