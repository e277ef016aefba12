// Package mockpaymaster serves a JSON-RPC paymaster for local development and
// end-to-end tests: ERC-7677 sponsorship backed by a VerifyingPaymaster signer,
// Pimlico-style ERC-20 token quotes and sponsorship policy validation.
package mockpaymaster

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	permissionless "github.com/lifenetwork-ai/permissionless-go"
)

const rpcMethodKey = "rpcMethod"

var entryPointVersions = map[common.Address]permissionless.EntryPointVersion{
	permissionless.EntryPointV06Address: permissionless.EntryPointV06,
	permissionless.EntryPointV07Address: permissionless.EntryPointV07,
	permissionless.EntryPointV08Address: permissionless.EntryPointV08,
}

type Handler struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewHandler(cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{cfg: cfg, logger: logger, now: time.Now}
}

// NewRouter returns a gin engine serving the handler on POST / and POST /rpc.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.logRequests)
	r.POST("/", h.HandleJSONRPC)
	r.POST("/rpc", h.HandleJSONRPC)
	return r
}

func (h *Handler) logRequests(c *gin.Context) {
	start := h.now()
	c.Next()
	h.logger.Info("paymaster request",
		"method", c.GetString(rpcMethodKey),
		"status", c.Writer.Status(),
		"latency", time.Since(start),
	)
}

func (h *Handler) HandleJSONRPC(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		writeJSON(c, rpcErr(nil, errInvalidRequest, "invalid request"))
		return
	}
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(c, rpcErr(nil, errInvalidRequest, "invalid json"))
		return
	}
	c.Set(rpcMethodKey, req.Method)
	switch req.Method {
	case "pm_getPaymasterStubData":
		h.stub(c, req)
	case "pm_getPaymasterData":
		h.data(c, req)
	case "pimlico_getTokenQuotes":
		h.tokenQuotes(c, req)
	case "pm_validateSponsorshipPolicies":
		h.validatePolicies(c, req)
	default:
		writeJSON(c, rpcErr(req.ID, errMethodNotFound, "method not found"))
	}
}

// sponsorRequest is the parsed [userOp, entryPoint, chainId, context] tuple of ERC-7677.
type sponsorRequest struct {
	userOp  *permissionless.UserOperation
	context map[string]any
}

func (h *Handler) parseSponsorParams(raw json.RawMessage, withContext bool) (*sponsorRequest, error) {
	var in []json.RawMessage
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, errors.New("invalid params")
	}
	if len(in) < 3 || (withContext && len(in) != 4) {
		return nil, fmt.Errorf("invalid params length %d", len(in))
	}

	var entryPoint common.Address
	if err := json.Unmarshal(in[1], &entryPoint); err != nil {
		return nil, errors.New("invalid entry point")
	}
	version, ok := entryPointVersions[entryPoint]
	if !ok {
		return nil, fmt.Errorf("unsupported entry point %s", entryPoint.Hex())
	}
	if version == permissionless.EntryPointV06 {
		return nil, errors.New("entry point v0.6 is not sponsored")
	}
	var chainId hexutil.Big
	if err := json.Unmarshal(in[2], &chainId); err != nil {
		return nil, errors.New("invalid chain id")
	}
	if chainId.ToInt().Cmp(h.cfg.ChainId) != 0 {
		return nil, fmt.Errorf("unsupported chain id %s", chainId.ToInt())
	}

	var body map[string]string
	if err := json.Unmarshal(in[0], &body); err != nil {
		return nil, errors.New("invalid user operation")
	}
	userOp, err := permissionless.UserOpFromBody(version, body)
	if err != nil {
		return nil, fmt.Errorf("invalid user operation: %v", err)
	}

	req := &sponsorRequest{userOp: userOp, context: map[string]any{}}
	if withContext && string(in[3]) != "null" {
		if err := json.Unmarshal(in[3], &req.context); err != nil {
			return nil, errors.New("invalid context")
		}
	}
	return req, nil
}

func (h *Handler) validity(pmContext map[string]any) (validUntil, validAfter *big.Int) {
	validFor := h.cfg.ValidFor
	if s, ok := pmContext["validForSec"].(float64); ok && s > 0 {
		validFor = time.Duration(s) * time.Second
	}
	now := h.now().Unix()
	return big.NewInt(now + int64(validFor/time.Second)), big.NewInt(now)
}

func (h *Handler) sponsor() *Sponsor {
	if h.cfg.SponsorName == "" {
		return nil
	}
	return &Sponsor{Name: h.cfg.SponsorName}
}

func (h *Handler) stub(c *gin.Context, req rpcRequest) {
	in, err := h.parseSponsorParams(req.Params, true)
	if err != nil {
		writeJSON(c, rpcErr(req.ID, errInvalidParams, err.Error()))
		return
	}
	validUntil, validAfter := h.validity(in.context)
	data, err := permissionless.EncodePaymasterData(validUntil, validAfter, permissionless.EmptySignature)
	if err != nil {
		writeJSON(c, rpcErr(req.ID, errInternal, "encoding failed"))
		return
	}
	writeJSON(c, rpcOK(req.ID, PaymasterStubResult{
		Sponsor:                       h.sponsor(),
		Paymaster:                     h.cfg.Paymaster,
		PaymasterData:                 data,
		PaymasterVerificationGasLimit: (*hexutil.Big)(h.cfg.VerificationGasLimit),
		PaymasterPostOpGasLimit:       (*hexutil.Big)(h.cfg.PostOpGasLimit),
		IsFinal:                       false,
	}))
}

func (h *Handler) data(c *gin.Context, req rpcRequest) {
	in, err := h.parseSponsorParams(req.Params, true)
	if err != nil {
		writeJSON(c, rpcErr(req.ID, errInvalidParams, err.Error()))
		return
	}
	userOp := in.userOp
	userOp.Paymaster = h.cfg.Paymaster
	if userOp.PaymasterVerificationGasLimit == nil {
		userOp.PaymasterVerificationGasLimit = h.cfg.VerificationGasLimit
	}
	if userOp.PaymasterPostOpGasLimit == nil {
		userOp.PaymasterPostOpGasLimit = h.cfg.PostOpGasLimit
	}

	validUntil, validAfter := h.validity(in.context)
	data, err := permissionless.SignVerifyingPaymasterData(userOp, h.cfg.ChainId, validUntil, validAfter, h.cfg.Signer)
	if err != nil {
		h.logger.Error("signing paymaster data failed", "sender", userOp.Sender, "err", err)
		writeJSON(c, rpcErr(req.ID, errInternal, "signing failed"))
		return
	}
	writeJSON(c, rpcOK(req.ID, PaymasterDataResult{
		Sponsor:       h.sponsor(),
		Paymaster:     h.cfg.Paymaster,
		PaymasterData: data,
	}))
}

func (h *Handler) tokenQuotes(c *gin.Context, req rpcRequest) {
	var in []json.RawMessage
	if err := json.Unmarshal(req.Params, &in); err != nil || len(in) < 1 {
		writeJSON(c, rpcErr(req.ID, errInvalidParams, "invalid params"))
		return
	}
	var query struct {
		Tokens []common.Address `json:"tokens"`
	}
	if err := json.Unmarshal(in[0], &query); err != nil {
		writeJSON(c, rpcErr(req.ID, errInvalidParams, "invalid tokens"))
		return
	}

	result := TokenQuotesResult{Quotes: []tokenQuote{}}
	for _, token := range query.Tokens {
		for _, q := range h.cfg.TokenQuotes {
			if q.Token != token {
				continue
			}
			result.Quotes = append(result.Quotes, tokenQuote{
				Paymaster:               q.Paymaster,
				Token:                   q.Token,
				PostOpGas:               (*hexutil.Big)(q.PostOpGas),
				ExchangeRate:            (*hexutil.Big)(q.ExchangeRate),
				ExchangeRateNativeToUsd: (*hexutil.Big)(q.ExchangeRateNativeToUsd),
				BalanceSlot:             (*hexutil.Big)(q.BalanceSlot),
				AllowanceSlot:           (*hexutil.Big)(q.AllowanceSlot),
			})
		}
	}
	writeJSON(c, rpcOK(req.ID, result))
}

func (h *Handler) validatePolicies(c *gin.Context, req rpcRequest) {
	var in []json.RawMessage
	if err := json.Unmarshal(req.Params, &in); err != nil || len(in) != 3 {
		writeJSON(c, rpcErr(req.ID, errInvalidParams, "invalid params"))
		return
	}
	var ids []string
	if err := json.Unmarshal(in[2], &ids); err != nil {
		writeJSON(c, rpcErr(req.ID, errInvalidParams, "invalid sponsorship policy ids"))
		return
	}
	validated := []validatedPolicy{}
	for _, id := range ids {
		if policy, ok := h.cfg.Policies[id]; ok {
			validated = append(validated, validatedPolicy{SponsorshipPolicyID: id, Data: policy})
		}
	}
	writeJSON(c, rpcOK(req.ID, validated))
}

// writeJSON always answers 200: JSON-RPC errors travel in the body.
func writeJSON(c *gin.Context, resp rpcResponse) {
	body, err := json.Marshal(resp)
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "application/json", body)
}
