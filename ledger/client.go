// Package ledger is the read-only boundary to the blockchain: balance queries
// over JSON-RPC and a single multiplexed transfer event stream shared by all
// subscriptions.
package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/aegis-relief/relay-go/models"
)

// balanceOf(address,uint256) selector of the relief token contract.
const balanceOfSelector = "00fdd58e"

const defaultRPCTimeout = 5 * time.Second

// BalanceReader reads token balances from the ledger.
type BalanceReader interface {
	Balance(ctx context.Context, address string, tokenID int64) (*big.Int, error)
}

// RPCClient queries an EVM JSON-RPC endpoint with eth_call.
type RPCClient struct {
	endpoint string
	token    string
	client   *fasthttp.Client
}

// NewRPCClient creates a client for the given RPC endpoint and relief token
// contract address.
func NewRPCClient(endpoint, tokenContract string) *RPCClient {
	return &RPCClient{
		endpoint: endpoint,
		token:    models.NormalizeAddress(tokenContract),
		client:   &fasthttp.Client{},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Balance returns the base-unit balance of address for one token id.
func (c *RPCClient) Balance(ctx context.Context, address string, tokenID int64) (*big.Int, error) {
	data, err := encodeBalanceOf(address, tokenID)
	if err != nil {
		return nil, err
	}

	call := map[string]string{"to": c.token, "data": data}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_call",
		Params:  []any{call, "latest"},
	})
	if err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	timeout := defaultRPCTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := c.client.DoTimeout(req, resp, timeout); err != nil {
		return nil, fmt.Errorf("ledger rpc: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("ledger rpc: status %d", resp.StatusCode())
	}

	var out rpcResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("ledger rpc: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("ledger rpc: %s (code %d)", out.Error.Message, out.Error.Code)
	}
	return parseQuantity(out.Result)
}

// encodeBalanceOf ABI-encodes the balanceOf(address,uint256) calldata.
func encodeBalanceOf(address string, tokenID int64) (string, error) {
	addr := models.NormalizeAddress(address)
	if !models.IsValidAddress(addr) {
		return "", fmt.Errorf("invalid address: %s", address)
	}
	raw, err := hex.DecodeString(addr[2:])
	if err != nil {
		return "", fmt.Errorf("invalid address: %s", address)
	}

	var buf strings.Builder
	buf.WriteString("0x")
	buf.WriteString(balanceOfSelector)
	// address is left-padded to a full 32-byte word
	buf.WriteString(strings.Repeat("0", 24))
	buf.WriteString(hex.EncodeToString(raw))
	buf.WriteString(fmt.Sprintf("%064x", tokenID))
	return buf.String(), nil
}

// parseQuantity decodes a 0x-prefixed hex quantity into a big integer.
func parseQuantity(s string) (*big.Int, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("invalid quantity: %s", s)
	}
	return v, nil
}
