package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.vocdoni.io/dvote/log"
)

// DefaultRPCTimeout is the per-call timeout of the RPC client when the
// caller's context carries no deadline.
const DefaultRPCTimeout = 15 * time.Second

// Client is a minimal JSON-RPC client for the host ledger. It only
// implements the three calls the engine needs: account reads, the current
// slot and transaction submission.
type Client struct {
	endpoint string
	c        *http.Client
	reqID    uint64
}

// NewClient creates an RPC client for the given endpoint URL.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		c:        &http.Client{Timeout: DefaultRPCTimeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call performs one JSON-RPC request and decodes the result into out.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	c.reqID++
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.reqID,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.c.Do(req)
	if err != nil {
		return fmt.Errorf("rpc transport error: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warnw("cannot close rpc response body", "error", err.Error())
		}
	}()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc http status %d: %s", resp.StatusCode, data)
	}
	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("cannot decode rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("cannot decode rpc result: %w", err)
		}
	}
	return nil
}

// AccountInfo fetches the raw bytes of an account. The second return is
// false when the account does not exist.
func (c *Client) AccountInfo(ctx context.Context, addr Address) ([]byte, bool, error) {
	var result struct {
		Value *struct {
			Data []string `json:"data"`
		} `json:"value"`
	}
	params := []any{addr.String(), map[string]string{"encoding": "base64"}}
	if err := c.call(ctx, "getAccountInfo", params, &result); err != nil {
		return nil, false, err
	}
	if result.Value == nil {
		return nil, false, nil
	}
	if len(result.Value.Data) < 1 {
		return nil, false, fmt.Errorf("malformed account data for %s", addr)
	}
	raw, err := base64.StdEncoding.DecodeString(result.Value.Data[0])
	if err != nil {
		return nil, false, fmt.Errorf("cannot decode account data: %w", err)
	}
	return raw, true, nil
}

// Slot returns the current ledger slot.
func (c *Client) Slot(ctx context.Context) (uint64, error) {
	var slot uint64
	if err := c.call(ctx, "getSlot", nil, &slot); err != nil {
		return 0, err
	}
	return slot, nil
}

// LatestBlockhash returns the recent blockhash new transactions must
// reference.
func (c *Client) LatestBlockhash(ctx context.Context) ([32]byte, error) {
	var result struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getLatestBlockhash", nil, &result); err != nil {
		return [32]byte{}, err
	}
	addr, err := ParseAddress(result.Value.Blockhash)
	if err != nil {
		return [32]byte{}, fmt.Errorf("invalid blockhash: %w", err)
	}
	return addr, nil
}

// SendTransaction submits a fully signed transaction and returns its
// signature. Errors are surfaced verbatim; the client never retries, since
// a nullifier-bearing transaction must not be presented twice.
func (c *Client) SendTransaction(ctx context.Context, tx []byte) (string, error) {
	var sig string
	params := []any{
		base64.StdEncoding.EncodeToString(tx),
		map[string]string{"encoding": "base64"},
	}
	if err := c.call(ctx, "sendTransaction", params, &sig); err != nil {
		return "", err
	}
	return sig, nil
}
