// Package rpc provides the JSON-RPC client for the ledger backend and
// the asset directory, with retry logic.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrAssetUnresolved is returned by ResolveAssetAddress while the
// directory has not yet resolved the asset. Callers poll or retry.
var ErrAssetUnresolved = errors.New("asset address not yet resolved")

// Client is the interface for communicating with the ledger backend.
type Client interface {
	// Call makes a raw JSON-RPC call.
	Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error)

	// GetSequenceCount fetches the pending sequence count for an account,
	// including in-flight operations known to the backend.
	GetSequenceCount(ctx context.Context, account string) (uint64, error)

	// GetConfirmedSequenceCount fetches the confirmed sequence count,
	// bypassing any pending view.
	GetConfirmedSequenceCount(ctx context.Context, account string) (uint64, error)

	// GetBalance returns the spendable balance for an address.
	GetBalance(ctx context.Context, address string) (*big.Int, error)

	// GetAssetBalance returns an address's balance of a fungible asset.
	GetAssetBalance(ctx context.Context, address, assetID string) (*big.Int, error)

	// SubmitBatch submits signed artifacts as one atomic unit and
	// returns a confirmation handle.
	SubmitBatch(ctx context.Context, artifacts [][]byte) (string, error)

	// GetSubmission returns the confirmation state for a handle.
	GetSubmission(ctx context.Context, handle string) (*SubmissionStatus, error)

	// RegisterAddresses registers a public key with the backend and
	// returns the address roles assigned to it.
	RegisterAddresses(ctx context.Context, pubKeyHex string) (*AddressSet, error)

	// ResolveAssetAddress resolves an asset ID to its on-ledger address.
	// Returns ErrAssetUnresolved while the directory entry is pending.
	ResolveAssetAddress(ctx context.Context, assetID string) (string, error)
}

// SubmissionStatus describes the state of a submitted batch.
type SubmissionStatus struct {
	Handle        string `json:"handle"`
	Confirmations int    `json:"confirmations"`
	Failed        bool   `json:"failed"`
	Reason        string `json:"reason,omitempty"`
}

// AddressSet holds the address roles the backend assigns to a key.
// Payment is the spendable address; Inscription the ordinal-style one.
type AddressSet struct {
	Payment     string `json:"payment"`
	Inscription string `json:"inscription"`
}

// JSONRPCRequest represents a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// JSONRPCError represents a JSON-RPC error.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ClientConfig holds configuration for the RPC client.
type ClientConfig struct {
	URL            string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *slog.Logger
}

// DefaultClientConfig returns default configuration.
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:            url,
		Timeout:        2 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
	}
}

// HTTPClient implements Client using HTTP.
type HTTPClient struct {
	url        string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger
}

// NewHTTPClient creates a new HTTP-based RPC client.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 500,
		MaxConnsPerHost:     500,
		IdleConnTimeout:     90 * time.Second,
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPClient{
		url: cfg.URL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.InitialBackoff,
		maxBackoff: cfg.MaxBackoff,
		logger:     logger,
	}
}

// Call makes a JSON-RPC call with retry logic.
func (c *HTTPClient) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.maxBackoff)
		}

		result, err := c.doRequest(ctx, body)
		if err == nil {
			return result, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Retryable HTTP errors (429, 502, 503, 504) honor Retry-After.
		if isRetryableHTTPError(err) {
			backoff = getRetryDelay(err, backoff)
			c.logger.Debug("RPC got retryable HTTP error, retrying",
				slog.String("method", method),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)
			continue
		}

		// Application-level RPC errors are not retried here.
		if isRPCError(err) {
			return nil, err
		}

		c.logger.Debug("RPC call failed, retrying",
			slog.String("method", method),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return nil, fmt.Errorf("all retries failed: %w", lastErr)
}

func (c *HTTPClient) doRequest(ctx context.Context, body []byte) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		var retryAfter time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.ParseFloat(ra, 64); err == nil {
				retryAfter = time.Duration(secs * float64(time.Second))
			}
		}
		return nil, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
			Body:       string(errBody),
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, &RPCError{
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
		}
	}

	return rpcResp.Result, nil
}

// RPCError is an RPC-specific error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

func isRPCError(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr)
}

// HTTPStatusError represents an HTTP-level error (non-2xx status).
type HTTPStatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s (body: %s)", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsRetryable returns true if this HTTP error should be retried.
func (e *HTTPStatusError) IsRetryable() bool {
	return e.StatusCode == 429 || e.StatusCode == 502 ||
		e.StatusCode == 503 || e.StatusCode == 504
}

func isRetryableHTTPError(err error) bool {
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.IsRetryable()
	}
	return false
}

func getRetryDelay(err error, defaultBackoff time.Duration) time.Duration {
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}
	return defaultBackoff
}

// GetSequenceCount fetches the pending sequence count for an account.
// Uses "pending" so in-flight operations are counted; critical when
// multiple operations per account are outstanding.
func (c *HTTPClient) GetSequenceCount(ctx context.Context, account string) (uint64, error) {
	return c.sequenceCount(ctx, account, "pending")
}

// GetConfirmedSequenceCount fetches the confirmed sequence count,
// reflecting only settled ledger state.
func (c *HTTPClient) GetConfirmedSequenceCount(ctx context.Context, account string) (uint64, error) {
	return c.sequenceCount(ctx, account, "confirmed")
}

func (c *HTTPClient) sequenceCount(ctx context.Context, account, view string) (uint64, error) {
	result, err := c.Call(ctx, "ledger_getSequenceCount", []interface{}{account, view})
	if err != nil {
		return 0, err
	}

	var seqHex string
	if err := json.Unmarshal(result, &seqHex); err != nil {
		return 0, fmt.Errorf("failed to unmarshal sequence count: %w", err)
	}

	return hexutil.DecodeUint64(seqHex)
}

// GetBalance returns the spendable balance for an address.
func (c *HTTPClient) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	result, err := c.Call(ctx, "ledger_getBalance", []interface{}{address})
	if err != nil {
		return nil, err
	}

	var balanceHex string
	if err := json.Unmarshal(result, &balanceHex); err != nil {
		return nil, fmt.Errorf("failed to unmarshal balance: %w", err)
	}

	return hexutil.DecodeBig(balanceHex)
}

// GetAssetBalance returns an address's balance of a fungible asset.
func (c *HTTPClient) GetAssetBalance(ctx context.Context, address, assetID string) (*big.Int, error) {
	result, err := c.Call(ctx, "ledger_getAssetBalance", []interface{}{address, assetID})
	if err != nil {
		return nil, err
	}

	var balanceHex string
	if err := json.Unmarshal(result, &balanceHex); err != nil {
		return nil, fmt.Errorf("failed to unmarshal asset balance: %w", err)
	}

	return hexutil.DecodeBig(balanceHex)
}

// SubmitBatch submits signed artifacts as one atomic unit.
func (c *HTTPClient) SubmitBatch(ctx context.Context, artifacts [][]byte) (string, error) {
	hexArtifacts := make([]interface{}, len(artifacts))
	for i, a := range artifacts {
		hexArtifacts[i] = hexutil.Encode(a)
	}

	result, err := c.Call(ctx, "ledger_submitBatch", hexArtifacts)
	if err != nil {
		return "", err
	}

	var handle string
	if err := json.Unmarshal(result, &handle); err != nil {
		return "", fmt.Errorf("failed to unmarshal submission handle: %w", err)
	}

	return handle, nil
}

// GetSubmission returns the confirmation state for a handle.
func (c *HTTPClient) GetSubmission(ctx context.Context, handle string) (*SubmissionStatus, error) {
	result, err := c.Call(ctx, "ledger_getSubmission", []interface{}{handle})
	if err != nil {
		return nil, err
	}

	if string(result) == "null" {
		return nil, nil // Not known yet
	}

	var status SubmissionStatus
	if err := json.Unmarshal(result, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal submission status: %w", err)
	}

	return &status, nil
}

// RegisterAddresses registers a public key and returns its address roles.
func (c *HTTPClient) RegisterAddresses(ctx context.Context, pubKeyHex string) (*AddressSet, error) {
	result, err := c.Call(ctx, "ledger_registerAddresses", []interface{}{pubKeyHex})
	if err != nil {
		return nil, err
	}

	var set AddressSet
	if err := json.Unmarshal(result, &set); err != nil {
		return nil, fmt.Errorf("failed to unmarshal address set: %w", err)
	}

	return &set, nil
}

// ResolveAssetAddress resolves an asset ID to its on-ledger address.
// The directory returns an empty string while the entry is pending;
// that is surfaced as ErrAssetUnresolved so callers can poll.
func (c *HTTPClient) ResolveAssetAddress(ctx context.Context, assetID string) (string, error) {
	result, err := c.Call(ctx, "directory_resolveAsset", []interface{}{assetID})
	if err != nil {
		return "", err
	}

	var address string
	if err := json.Unmarshal(result, &address); err != nil {
		return "", fmt.Errorf("failed to unmarshal asset address: %w", err)
	}

	if address == "" {
		return "", ErrAssetUnresolved
	}

	return address, nil
}
