// Package relayclient is a Go client for the relayer HTTP API. It signs
// execution intents locally and submits them for gasless execution.
package relayclient

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/domain/relay"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/httputil"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/pkg/intent"
)

const (
	maxResponseBytes = 1 << 20
	// errorSnippetBytes bounds how much of a non-JSON error body is kept.
	errorSnippetBytes = 512
)

// APIError is a non-2xx response from the relayer.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("relayer: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("relayer: %d: %s", e.Status, e.Message)
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Client talks to one relayer deployment.
type Client struct {
	baseURL string
	http    *http.Client
	domain  intent.Domain
	now     func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithClock overrides the time source used for deadlines.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New returns a client for baseURL that signs intents under domain.
func New(baseURL string, domain intent.Domain, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 90 * time.Second},
		domain:  domain,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExecuteRequest is the body of POST /api/relay/execute.
type ExecuteRequest struct {
	Executor   string `json:"executor"`
	ProposalID string `json:"proposalId"`
	Nonce      uint64 `json:"nonce"`
	Deadline   int64  `json:"deadline"`
	Signature  string `json:"signature"`
}

// ExecuteResult is the relayer's answer to a successful submission.
type ExecuteResult struct {
	Success     bool    `json:"success"`
	TxHash      string  `json:"txHash"`
	BlockNumber *uint64 `json:"blockNumber,omitempty"`
	Confirmed   bool    `json:"confirmed"`
	RecordID    string  `json:"recordId"`
}

// ProposalTransactions lists every relay attempt for a proposal.
type ProposalTransactions struct {
	ProposalID   string               `json:"proposalId"`
	Status       relay.ProposalStatus `json:"status"`
	Transactions []relay.Transaction  `json:"transactions"`
}

// FetchNonce returns the executor's next intent nonce.
func (c *Client) FetchNonce(ctx context.Context, executor common.Address) (uint64, error) {
	var out struct {
		Nonce uint64 `json:"nonce"`
	}
	q := url.Values{"address": {executor.Hex()}}
	if err := c.do(ctx, http.MethodGet, "/api/nonce?"+q.Encode(), nil, &out); err != nil {
		return 0, err
	}
	return out.Nonce, nil
}

// Sign builds and signs an intent for proposalID valid for ttl.
func (c *Client) Sign(key *ecdsa.PrivateKey, proposalID common.Hash, nonce uint64, ttl time.Duration) (ExecuteRequest, error) {
	in := intent.ExecutionIntent{
		Executor:   crypto.PubkeyToAddress(key.PublicKey),
		ProposalID: proposalID,
		Nonce:      nonce,
		Deadline:   c.now().Add(ttl).Unix(),
	}
	sig, err := intent.Sign(c.domain, in, key)
	if err != nil {
		return ExecuteRequest{}, err
	}
	return ExecuteRequest{
		Executor:   in.Executor.Hex(),
		ProposalID: proposalID.Hex(),
		Nonce:      nonce,
		Deadline:   in.Deadline,
		Signature:  hexutil.Encode(sig),
	}, nil
}

// Execute submits a signed intent.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	var out ExecuteResult
	if err := c.do(ctx, http.MethodPost, "/api/relay/execute", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SignAndExecute fetches the current nonce, signs an intent with it and
// submits it.
func (c *Client) SignAndExecute(ctx context.Context, key *ecdsa.PrivateKey, proposalID common.Hash, ttl time.Duration) (*ExecuteResult, error) {
	nonce, err := c.FetchNonce(ctx, crypto.PubkeyToAddress(key.PublicKey))
	if err != nil {
		return nil, fmt.Errorf("fetch nonce: %w", err)
	}
	req, err := c.Sign(key, proposalID, nonce, ttl)
	if err != nil {
		return nil, fmt.Errorf("sign intent: %w", err)
	}
	return c.Execute(ctx, req)
}

// Transaction fetches one relayed transaction record.
func (c *Client) Transaction(ctx context.Context, id string) (*relay.Transaction, error) {
	var out relay.Transaction
	if err := c.do(ctx, http.MethodGet, "/api/transactions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProposalTransactions fetches the execution view of a proposal.
func (c *Client) ProposalTransactions(ctx context.Context, proposalID common.Hash) (*ProposalTransactions, error) {
	var out ProposalTransactions
	if err := c.do(ctx, http.MethodGet, "/api/proposals/"+proposalID.Hex()+"/transactions", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	data, err := httputil.ReadAllStrict(resp.Body, maxResponseBytes)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _, err := httputil.ReadAllWithLimit(resp.Body, maxResponseBytes)
	if err != nil {
		return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	var body httputil.ErrorBody
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return &APIError{Status: resp.StatusCode, Code: body.Code, Message: body.Error, Details: body.Details}
	}

	msg := strings.TrimSpace(string(data))
	if len(msg) > errorSnippetBytes {
		msg = msg[:errorSnippetBytes]
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
