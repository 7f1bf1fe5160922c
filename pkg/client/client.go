// Package client provides a Go client library for the poolbroker HTTP API.
//
// It wraps the routes in spec §6.1 with a convenient, idiomatic Go
// interface: one method per route, context-aware, returning typed
// responses instead of raw JSON.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client wraps a poolbroker server's HTTP API for easy programmatic use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New builds a Client against baseURL, e.g. "http://localhost:8000".
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is returned when the server responds with a non-2xx status.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("poolbroker: %d: %s", e.Status, e.Message)
}

// BorrowResult is the response to Borrow.
type BorrowResult struct {
	Item        json.RawMessage `json:"item"`
	BorrowToken string          `json:"borrow_token"`
}

// Borrow requests one item from the pool. wait, if non-nil, asks the
// server to block up to that many seconds waiting for availability.
func (c *Client) Borrow(ctx context.Context, wait *int) (*BorrowResult, error) {
	u := c.baseURL + "/borrow"
	if wait != nil {
		u += "?wait=" + strconv.Itoa(*wait)
	}
	var result BorrowResult
	if err := c.do(ctx, http.MethodGet, u, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AcceptedResult is the response to Return and Submit.
type AcceptedResult struct {
	OperationID string `json:"operation_id"`
	Status      string `json:"status"`
}

// Return returns a previously borrowed item using its borrow token.
func (c *Client) Return(ctx context.Context, item json.RawMessage, borrowToken string) (*AcceptedResult, error) {
	body := map[string]interface{}{"item": item, "borrow_token": borrowToken}
	var result AcceptedResult
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/return", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Submit adds a new item into the pool.
func (c *Client) Submit(ctx context.Context, item json.RawMessage) (*AcceptedResult, error) {
	body := map[string]interface{}{"item": item}
	var result AcceptedResult
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/submit", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// OperationStatus is the response to OperationStatus.
type OperationStatus struct {
	OperationID string `json:"operation_id"`
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
}

// OperationStatus polls the terminal/non-terminal status of an operation.
func (c *Client) OperationStatus(ctx context.Context, id string) (*OperationStatus, error) {
	var result OperationStatus
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/operations/"+url.PathEscape(id), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// StreamOperationEvents opens the SSE stream for an operation and invokes
// onEvent for every decoded event until ctx is cancelled or the stream
// closes. It blocks until then.
func (c *Client) StreamOperationEvents(ctx context.Context, id string, onEvent func(map[string]interface{})) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/operations/"+url.PathEscape(id)+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{Status: resp.StatusCode, Message: string(body)}
	}

	scanner := newSSEScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		payload, ok := cutDataLine(line)
		if !ok {
			continue
		}
		var event map[string]interface{}
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			continue
		}
		onEvent(event)
	}
	return scanner.Err()
}

// do marshals body (if any), issues the request, and decodes into out
// (if non-nil), translating non-2xx responses into *APIError.
func (c *Client) do(ctx context.Context, method, url string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return &APIError{Status: resp.StatusCode, Message: string(respBody)}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}
