package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"memledger/core"

	"github.com/go-resty/resty/v2"
)

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

type apiErrorBody struct {
	Error string `json:"error"`
}

// Client talks to a running daemon's HTTP API. The CLI commands use it so a
// single daemon owns the store.
type Client struct {
	http *resty.Client
}

// NewClient creates a client for baseURL. token is sent as X-Api-Token
// when non-empty.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetError(&apiErrorBody{})
	if token != "" {
		c.SetHeader(apiTokenHeader, token)
	}
	return &Client{http: c}
}

func (c *Client) request(ctx context.Context, wallet string) *resty.Request {
	r := c.http.R().SetContext(ctx)
	if wallet != "" {
		r.SetAuthToken(wallet)
	}
	return r
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if !resp.IsError() {
		return nil
	}
	msg := http.StatusText(resp.StatusCode())
	if body, ok := resp.Error().(*apiErrorBody); ok && body.Error != "" {
		msg = body.Error
	}
	return &APIError{Status: resp.StatusCode(), Message: msg}
}

// CreateWallet asks the daemon to generate (or import) and register a wallet.
func (c *Client) CreateWallet(ctx context.Context, privateKeyHex string) (*WalletInfo, error) {
	var out WalletInfo
	body := map[string]string{}
	if privateKeyHex != "" {
		body["private_key"] = privateKeyHex
	}
	resp, err := c.request(ctx, "").SetBody(body).SetResult(&out).Post("/wallets")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Balance returns the confirmed balance of address.
func (c *Client) Balance(ctx context.Context, address string) (core.Amount, error) {
	var out struct {
		Balance core.Amount `json:"balance"`
	}
	resp, err := c.request(ctx, "").
		SetPathParam("address", address).
		SetResult(&out).
		Get("/wallets/{address}/balance")
	if err := checkResponse(resp, err); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

type submitResult struct {
	TxID     string `json:"tx_id"`
	MemoryID string `json:"memory_id"`
}

func (c *Client) submit(ctx context.Context, wallet, path, idemKey string, body any) (*submitResult, error) {
	var out submitResult
	r := c.request(ctx, wallet).SetBody(body).SetResult(&out)
	if idemKey != "" {
		r.SetHeader(idempotencyHeader, idemKey)
	}
	resp, err := r.Post(path)
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transfer sends amount from wallet to recipient.
func (c *Client) Transfer(ctx context.Context, wallet, recipient string, amount core.Amount, data map[string]any, idemKey string) (string, error) {
	body := map[string]any{"recipient": recipient, "amount": amount}
	if data != nil {
		body["data"] = data
	}
	res, err := c.submit(ctx, wallet, "/transactions", idemKey, body)
	if err != nil {
		return "", err
	}
	return res.TxID, nil
}

// Memory anchors a memory record for wallet.
func (c *Client) Memory(ctx context.Context, wallet, content, embeddingRef, contentType string, metadata map[string]any) (*MemoryReceipt, error) {
	body := map[string]any{
		"content":       content,
		"embedding_ref": embeddingRef,
		"content_type":  contentType,
	}
	if metadata != nil {
		body["metadata"] = metadata
	}
	res, err := c.submit(ctx, wallet, "/transactions/memory", "", body)
	if err != nil {
		return nil, err
	}
	return &MemoryReceipt{TxID: res.TxID, MemoryID: res.MemoryID}, nil
}

// Feedback anchors a feedback record for wallet.
func (c *Client) Feedback(ctx context.Context, wallet, responseID, feedbackType string, rating *float64, comment string) (string, error) {
	body := map[string]any{"response_id": responseID, "feedback_type": feedbackType}
	if rating != nil {
		body["rating"] = *rating
	}
	if comment != "" {
		body["comment"] = comment
	}
	res, err := c.submit(ctx, wallet, "/transactions/feedback", "", body)
	if err != nil {
		return "", err
	}
	return res.TxID, nil
}

// Mine seals the pending transactions, rewarding wallet.
func (c *Client) Mine(ctx context.Context, wallet string) (*MineResult, error) {
	var out MineResult
	resp, err := c.request(ctx, wallet).SetResult(&out).Post("/mine")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Chain fetches every block.
func (c *Client) Chain(ctx context.Context) (*ChainView, error) {
	var out ChainView
	resp, err := c.request(ctx, "").SetResult(&out).Get("/chain")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Block fetches one block by hash.
func (c *Client) Block(ctx context.Context, hash string) (*BlockSummary, error) {
	var out BlockSummary
	resp, err := c.request(ctx, "").SetPathParam("hash", hash).SetResult(&out).Get("/block/{hash}")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pending lists the mempool.
func (c *Client) Pending(ctx context.Context) ([]*core.Transaction, error) {
	var out []*core.Transaction
	resp, err := c.request(ctx, "").SetResult(&out).Get("/transactions/pending")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

// Health probes the daemon.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var out HealthStatus
	resp, err := c.request(ctx, "").SetResult(&out).Get("/health")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}
