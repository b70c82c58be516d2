package ledger

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mr-tron/base58"
	"go.uber.org/zap"
)

// ErrTxNotFound is returned when the ledger does not know the transaction
// id. Confirmation is asynchronous, so callers are expected to retry.
var ErrTxNotFound = errors.New("ledger: transaction not found")

// Client talks to the token-ledger node over its JSON HTTP API
type Client struct {
	nodeURL    string
	httpClient *http.Client
	signingKey []byte
	log        *zap.SugaredLogger
}

// NewClient creates a ledger client. The signing key is the base58-encoded
// escrow credential; an empty key yields a read-only client.
func NewClient(nodeURL, signingKey string, log *zap.Logger) (*Client, error) {
	c := &Client{
		nodeURL: nodeURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.Sugar(),
	}

	if signingKey != "" {
		key, err := base58.Decode(signingKey)
		if err != nil {
			return nil, fmt.Errorf("invalid ledger signing key: %w", err)
		}
		c.signingKey = key
	}

	return c, nil
}

type getTransactionRequest struct {
	ID string `json:"id"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GetTransaction fetches a transaction's full operation list by id
func (c *Client) GetTransaction(ctx context.Context, txID string) (*Transaction, error) {
	body, status, err := c.post(ctx, "/v1/history/get_transaction", getTransactionRequest{ID: txID})
	if err != nil {
		return nil, err
	}

	if status == http.StatusNotFound {
		return nil, ErrTxNotFound
	}
	if status != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("ledger get_transaction failed: %s (code %d)", apiErr.Message, apiErr.Code)
		}
		return nil, fmt.Errorf("ledger get_transaction failed: status %d", status)
	}

	var tx Transaction
	if err := json.Unmarshal(body, &tx); err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return &tx, nil
}

type pushTransactionRequest struct {
	Operations []TransferOp `json:"operations"`
	Signature  string       `json:"signature"`
}

type pushTransactionResponse struct {
	TransactionID string `json:"transaction_id"`
}

// Broadcast signs and submits the transfer instructions as one transaction
// and returns its id. It returns after submission, not confirmation.
func (c *Client) Broadcast(ctx context.Context, ops []TransferOp) (string, error) {
	if len(ops) == 0 {
		return "", errors.New("ledger: no operations to broadcast")
	}
	if len(c.signingKey) == 0 {
		return "", errors.New("ledger: broadcast requires a signing key")
	}

	payload, err := json.Marshal(ops)
	if err != nil {
		return "", fmt.Errorf("failed to marshal operations: %w", err)
	}

	mac := hmac.New(sha256.New, c.signingKey)
	mac.Write(payload)

	req := pushTransactionRequest{
		Operations: ops,
		Signature:  hex.EncodeToString(mac.Sum(nil)),
	}

	body, status, err := c.post(ctx, "/v1/chain/push_transaction", req)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusAccepted {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return "", fmt.Errorf("ledger broadcast rejected: %s (code %d)", apiErr.Message, apiErr.Code)
		}
		return "", fmt.Errorf("ledger broadcast rejected: status %d", status)
	}

	var resp pushTransactionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode broadcast response: %w", err)
	}
	if resp.TransactionID == "" {
		return "", errors.New("ledger: broadcast response missing transaction id")
	}

	c.log.Infow("broadcast accepted", "tx_id", resp.TransactionID, "ops", len(ops))
	return resp.TransactionID, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) ([]byte, int, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.nodeURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("ledger request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read ledger response: %w", err)
	}

	return body, resp.StatusCode, nil
}
