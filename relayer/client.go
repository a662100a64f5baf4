package relayer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.vocdoni.io/dvote/log"
)

const (
	// ExecuteEndpoint receives fully signed transactions.
	ExecuteEndpoint = "/execute"
	// ExecuteRelayedEndpoint receives transactions the relayer co-signs
	// and pays fees for.
	ExecuteRelayedEndpoint = "/execute-relayed"
	// IntentEndpoint receives authorization intents.
	IntentEndpoint = "/intent"

	// DefaultTimeout bounds every relayer HTTP call. Submissions fail
	// fast rather than hang: a hung call leaves settlement ambiguous and
	// the flow must not retry a nullifier-bearing transaction.
	DefaultTimeout = 30 * time.Second

	// intentMessagePrefix is the domain separator of relayed-intent
	// signatures.
	intentMessagePrefix = "veilpay relayer intent"
)

// Signer authorizes relayed transactions without exposing the private key.
type Signer interface {
	SignMessage(msg []byte) ([]byte, error)
	Address() string
}

// Client talks to a relayer over HTTP. Calls never retry; ambiguous
// settlement is worse than a clean failure.
type Client struct {
	c    *http.Client
	host *url.URL
}

// New creates a relayer client for the given host URL.
func New(host string) (*Client, error) {
	hostURL, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid relayer host: %w", err)
	}
	tr := &http.Transport{
		IdleConnTimeout:    DefaultTimeout,
		DisableCompression: false,
	}
	return &Client{
		c:    &http.Client{Transport: tr, Timeout: DefaultTimeout},
		host: hostURL,
	}, nil
}

// SetTimeout configures the timeout of relayer HTTP calls.
func (c *Client) SetTimeout(d time.Duration) {
	c.c.Timeout = d
}

// ExecuteRequest is the body of a fully signed submission.
type ExecuteRequest struct {
	Transaction string `json:"transaction"`
}

// ExecuteRelayedRequest is the body of a relayed submission. Message and
// Signature are set only in signed-intent mode; LookupTableAddresses only
// when the transaction should be compressed through lookup tables.
type ExecuteRelayedRequest struct {
	Transaction          string   `json:"transaction"`
	SignerAddress        string   `json:"signerAddress,omitempty"`
	Message              string   `json:"message,omitempty"`
	Signature            string   `json:"signature,omitempty"`
	LookupTableAddresses []string `json:"lookupTableAddresses,omitempty"`
}

// IntentRequest registers an authorization intent with the relayer.
type IntentRequest struct {
	IntentHash       string `json:"intentHash"`
	Asset            string `json:"asset"`
	PayeeTagHash     string `json:"payeeTagHash"`
	AmountCiphertext string `json:"amountCiphertext"`
	ExpirySlot       uint64 `json:"expirySlot"`
	CircuitID        uint32 `json:"circuitId"`
	Signature        string `json:"signature"`
}

// submitResponse is what every endpoint returns on success.
type submitResponse struct {
	Signature string `json:"signature"`
	Error     string `json:"error,omitempty"`
}

// post sends one JSON request and decodes the submission response.
func (c *Client) post(ctx context.Context, endpoint string, body any) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	u := *c.host
	u.Path = path.Join(u.Path, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.c.Do(req)
	if err != nil {
		return "", fmt.Errorf("relayer transport error: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warnw("cannot close relayer response body", "error", err.Error())
		}
	}()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var out submitResponse
	if err := json.Unmarshal(data, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("relayer returned status %d: %s", resp.StatusCode, data)
		}
		return "", fmt.Errorf("cannot decode relayer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || out.Error != "" {
		return "", fmt.Errorf("relayer rejected request (status %d): %s", resp.StatusCode, out.Error)
	}
	return out.Signature, nil
}

// Execute submits a fully signed transaction and returns the chain
// signature the relayer observed.
func (c *Client) Execute(ctx context.Context, tx []byte) (string, error) {
	return c.post(ctx, ExecuteEndpoint, ExecuteRequest{
		Transaction: base64.StdEncoding.EncodeToString(tx),
	})
}

// ExecuteRelayed submits an unsigned transaction for the relayer to sign
// and pay fees for.
func (c *Client) ExecuteRelayed(ctx context.Context, tx []byte, lookupTables []string) (string, error) {
	return c.post(ctx, ExecuteRelayedEndpoint, ExecuteRelayedRequest{
		Transaction:          base64.StdEncoding.EncodeToString(tx),
		LookupTableAddresses: lookupTables,
	})
}

// IntentMessage builds the domain-separated message a signer authorizes a
// relayed transaction with. expiresAt is unix milliseconds.
func IntentMessage(signerAddr string, expiresAt int64, tx []byte, lookupTables []string) string {
	var b strings.Builder
	b.WriteString(intentMessagePrefix)
	fmt.Fprintf(&b, "\nsigner:%s", signerAddr)
	fmt.Fprintf(&b, "\nexpiresAt:%d", expiresAt)
	fmt.Fprintf(&b, "\ntransaction:%s", base64.StdEncoding.EncodeToString(tx))
	if len(lookupTables) > 0 {
		fmt.Fprintf(&b, "\nlookupTableAddresses:%s", strings.Join(lookupTables, ","))
	}
	return b.String()
}

// ExecuteSignedIntent submits a transaction with a signed authorization
// message, letting the relayer co-sign and pay fees while the user's
// intent stays verifiable.
func (c *Client) ExecuteSignedIntent(ctx context.Context, signer Signer, tx []byte, expiresAt int64, lookupTables []string) (string, error) {
	msg := IntentMessage(signer.Address(), expiresAt, tx, lookupTables)
	sig, err := signer.SignMessage([]byte(msg))
	if err != nil {
		return "", fmt.Errorf("cannot sign relayer intent: %w", err)
	}
	return c.post(ctx, ExecuteRelayedEndpoint, ExecuteRelayedRequest{
		Transaction:          base64.StdEncoding.EncodeToString(tx),
		SignerAddress:        signer.Address(),
		Message:              msg,
		Signature:            base64.StdEncoding.EncodeToString(sig),
		LookupTableAddresses: lookupTables,
	})
}

// PostIntent registers an authorization intent. The returned signature is
// the relayer's registration receipt.
func (c *Client) PostIntent(ctx context.Context, intent IntentRequest) (string, error) {
	return c.post(ctx, IntentEndpoint, intent)
}
