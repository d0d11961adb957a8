// Package exchange provides the authenticated client for the exchange's
// private API. Requests are signed with a nonce-based HMAC scheme and
// serialized through a rate-limiting queue.
package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	rateLimitDelay   = 1500 * time.Millisecond
	requestQueueSize = 100
)

// OpenOrder is an order as reported by the exchange
type OpenOrder struct {
	OrderID  string  `json:"order_id"`
	Symbol   string  `json:"instr_name"`
	Side     string  `json:"side"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	Status   string  `json:"status"`
}

// Balance is one currency balance as reported by the exchange
type Balance struct {
	Currency string  `json:"currency"`
	Amount   float64 `json:"amount"`
}

// envelope is the exchange's response wrapper. A present errMsg means the
// call failed; an empty result with no errMsg is a legitimate empty answer.
type envelope struct {
	Result json.RawMessage `json:"result"`
	ErrMsg string          `json:"errMsg"`
}

// APIError is a failure reported inside an otherwise well-formed response
type APIError struct {
	Cmd     string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange api %s: %s", e.Cmd, e.Message)
}

type requestJob struct {
	ctx      context.Context
	cmd      string
	params   interface{}
	resultCh chan requestResult
}

type requestResult struct {
	data json.RawMessage
	err  error
}

// Client is the signed exchange API client. All requests flow through a
// single worker goroutine that enforces the rate limit.
type Client struct {
	apiKey       string
	apiSecret    string
	baseURL      string
	httpClient   *http.Client
	log          zerolog.Logger
	requestQueue chan requestJob
	stopChan     chan struct{}
	workerDone   chan struct{}
	once         sync.Once

	nonceMu   sync.Mutex
	lastNonce int64
}

// NewClient creates a new exchange client and starts its rate-limit worker
func NewClient(apiKey, apiSecret, baseURL string, log zerolog.Logger) *Client {
	c := &Client{
		apiKey:       apiKey,
		apiSecret:    apiSecret,
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		log:          log.With().Str("component", "exchange-client").Logger(),
		requestQueue: make(chan requestJob, requestQueueSize),
		stopChan:     make(chan struct{}),
		workerDone:   make(chan struct{}),
	}

	go c.worker()

	return c
}

// OpenOrders returns all currently open orders on the exchange account.
// An empty slice is a valid answer, distinct from an error.
func (c *Client) OpenOrders(ctx context.Context) ([]OpenOrder, error) {
	raw, err := c.signedRequest(ctx, "getOpenOrders", map[string]interface{}{})
	if err != nil {
		return nil, err
	}

	var orders []OpenOrder
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &orders); err != nil {
			return nil, fmt.Errorf("failed to decode open orders: %w", err)
		}
	}
	return orders, nil
}

// Balances returns the account's currency balances
func (c *Client) Balances(ctx context.Context) ([]Balance, error) {
	raw, err := c.signedRequest(ctx, "getBalances", map[string]interface{}{})
	if err != nil {
		return nil, err
	}

	var balances []Balance
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &balances); err != nil {
			return nil, fmt.Errorf("failed to decode balances: %w", err)
		}
	}
	return balances, nil
}

// signedRequest enqueues a signed call and waits for its result
func (c *Client) signedRequest(ctx context.Context, cmd string, params interface{}) (json.RawMessage, error) {
	select {
	case <-c.stopChan:
		return nil, fmt.Errorf("client is closed")
	default:
	}

	resultCh := make(chan requestResult, 1)
	job := requestJob{ctx: ctx, cmd: cmd, params: params, resultCh: resultCh}

	select {
	case c.requestQueue <- job:
	case <-c.stopChan:
		return nil, fmt.Errorf("client is closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case result := <-resultCh:
		return result.data, result.err
	case <-c.workerDone:
		// The worker may have delivered the result just before exiting
		select {
		case result := <-resultCh:
			return result.data, result.err
		default:
			return nil, fmt.Errorf("client is closed")
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// worker processes queued requests sequentially with rate limiting
func (c *Client) worker() {
	defer close(c.workerDone)

	var lastRequestTime time.Time
	firstRequest := true

	processJob := func(job requestJob) {
		if !firstRequest {
			elapsed := time.Since(lastRequestTime)
			if elapsed < rateLimitDelay {
				time.Sleep(rateLimitDelay - elapsed)
			}
		}
		firstRequest = false

		var result requestResult
		result.data, result.err = c.doSigned(job.ctx, job.cmd, job.params)
		lastRequestTime = time.Now()

		job.resultCh <- result
	}

	for {
		select {
		case <-c.stopChan:
			// Drain whatever was queued before the stop
			for {
				select {
				case job := <-c.requestQueue:
					processJob(job)
				default:
					return
				}
			}
		case job := <-c.requestQueue:
			processJob(job)
		}
	}
}

// Close gracefully shuts down the rate-limit worker
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.stopChan)
		<-c.workerDone
	})
}

// doSigned performs one authenticated call: the signature is an HMAC-SHA256
// hexdigest of the JSON payload concatenated with a strictly increasing nonce
func (c *Client) doSigned(ctx context.Context, cmd string, params interface{}) (json.RawMessage, error) {
	if c.apiKey == "" || c.apiSecret == "" {
		return nil, fmt.Errorf("exchange credentials are not configured")
	}

	payload, err := stringify(params)
	if err != nil {
		return nil, fmt.Errorf("failed to stringify params: %w", err)
	}

	nonce := c.nextNonce()
	signature := sign(c.apiSecret, payload+nonce)

	requestURL := fmt.Sprintf("%s/api/v1/%s", c.baseURL, cmd)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader([]byte(payload)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("X-Api-Nonce", nonce)
	req.Header.Set("X-Api-Sig", signature)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.log.Error().
			Int("status_code", resp.StatusCode).
			Str("cmd", cmd).
			Msg("API returned non-200 status")
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, resp.Status)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if env.ErrMsg != "" {
		return nil, &APIError{Cmd: cmd, Message: env.ErrMsg}
	}

	return env.Result, nil
}

// nextNonce returns a strictly increasing nonce even when calls land within
// the same nanosecond
func (c *Client) nextNonce() string {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	n := time.Now().UnixNano()
	if n <= c.lastNonce {
		n = c.lastNonce + 1
	}
	c.lastNonce = n
	return strconv.FormatInt(n, 10)
}

// sign computes the HMAC-SHA256 hexdigest of message under key
func sign(key, message string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// stringify serializes params to compact JSON without HTML escaping, so the
// signed bytes match the request body exactly
func stringify(params interface{}) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(params); err != nil {
		return "", err
	}
	// Encode appends a trailing newline
	s := buf.String()
	if len(s) > 0 && s[len(s)-1] == '\n' {
		s = s[:len(s)-1]
	}
	return s, nil
}
