package client

import (
	"context"
	"encoding/json"
	"net/http"
)

// ItemsList is the response to ListItems.
type ItemsList struct {
	Items []json.RawMessage `json:"items"`
	Count int               `json:"count"`
}

// ListItems lists every item currently in the free pool.
func (c *Client) ListItems(ctx context.Context) (*ItemsList, error) {
	var result ItemsList
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/admin/items", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// BorrowedItem is one entry of the borrowed-item ledger.
type BorrowedItem struct {
	Item        json.RawMessage `json:"item"`
	BorrowToken string          `json:"borrow_token"`
}

// BorrowedItemsList is the response to ListBorrowed.
type BorrowedItemsList struct {
	Borrowed []BorrowedItem `json:"borrowed"`
	Count    int            `json:"count"`
}

// ListBorrowed lists every currently borrowed item and its token.
func (c *Client) ListBorrowed(ctx context.Context) (*BorrowedItemsList, error) {
	var result BorrowedItemsList
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/admin/borrowed", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SuccessResult is the common success envelope for admin mutations.
type SuccessResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// DeleteItem removes an item from the free pool without returning it anywhere.
func (c *Client) DeleteItem(ctx context.Context, item json.RawMessage) (*SuccessResult, error) {
	var result SuccessResult
	body := map[string]interface{}{"item": item}
	if err := c.do(ctx, http.MethodDelete, c.baseURL+"/admin/items", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteBorrowed removes a ledger entry without returning the item to the pool.
func (c *Client) DeleteBorrowed(ctx context.Context, item json.RawMessage) (*SuccessResult, error) {
	var result SuccessResult
	body := map[string]interface{}{"item": item}
	if err := c.do(ctx, http.MethodDelete, c.baseURL+"/admin/borrowed", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ForceReturn inserts item back into the pool and clears its ledger entry.
func (c *Client) ForceReturn(ctx context.Context, item json.RawMessage) (*SuccessResult, error) {
	var result SuccessResult
	body := map[string]interface{}{"item": item}
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/admin/force-return", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// OperationDetail is one entry of ListOperations.
type OperationDetail struct {
	ID      string          `json:"id"`
	Item    json.RawMessage `json:"item"`
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
}

// OperationsList is the response to ListOperations.
type OperationsList struct {
	Operations []OperationDetail `json:"operations"`
	Count      int               `json:"count"`
}

// ListOperations lists every tracked operation record.
func (c *Client) ListOperations(ctx context.Context) (*OperationsList, error) {
	var result OperationsList
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/admin/operations", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteOperation removes an operation record by id.
func (c *Client) DeleteOperation(ctx context.Context, id string) (*SuccessResult, error) {
	var result SuccessResult
	if err := c.do(ctx, http.MethodDelete, c.baseURL+"/admin/operations/"+id, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Stats is the response to GetStats.
type Stats struct {
	FreeCount         int `json:"free_count"`
	BorrowedCount     int `json:"borrowed_count"`
	PendingOperations int `json:"pending_operations"`
	FailedOperations  int `json:"failed_operations"`
}

// GetStats fetches pool and operation counters.
func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	var result Stats
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/admin/stats", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
