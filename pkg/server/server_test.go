package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/poolbroker/pkg/apierr"
	"github.com/cuemby/poolbroker/pkg/broadcast"
	"github.com/cuemby/poolbroker/pkg/config"
	"github.com/cuemby/poolbroker/pkg/dispatch"
	"github.com/cuemby/poolbroker/pkg/operations"
	"github.com/cuemby/poolbroker/pkg/workflow"
)

// fakeStore mirrors pkg/workflow's test double; an HTTP-facing test has no
// business depending on a live Redis either.
type fakeStore struct {
	mu     sync.Mutex
	pool   map[string]json.RawMessage
	ledger map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{pool: map[string]json.RawMessage{}, ledger: map[string]string{}}
}

func canon(item json.RawMessage) string {
	var v interface{}
	_ = json.Unmarshal(item, &v)
	b, _ := json.Marshal(v)
	return string(b)
}

func (f *fakeStore) Borrow(ctx context.Context) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range f.pool {
		delete(f.pool, k)
		return v, nil
	}
	return nil, apierr.New(apierr.Empty, "no items available")
}

func (f *fakeStore) BorrowBlocking(ctx context.Context, timeout time.Duration) (json.RawMessage, error) {
	deadline := time.Now().Add(timeout)
	for {
		item, err := f.Borrow(ctx)
		if err == nil {
			return item, nil
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (f *fakeStore) ReturnItem(ctx context.Context, item json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pool[canon(item)] = item
	return nil
}

func (f *fakeStore) RecordBorrowed(ctx context.Context, item json.RawMessage, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ledger[canon(item)] = token
	return nil
}

func (f *fakeStore) VerifyBorrowToken(ctx context.Context, item json.RawMessage, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.ledger[canon(item)]
	if !ok {
		return apierr.New(apierr.NotFound, "no borrow record")
	}
	if stored != token {
		return apierr.New(apierr.Unauthorized, "token mismatch")
	}
	return nil
}

func (f *fakeStore) RemoveBorrowedRecord(ctx context.Context, item json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ledger, canon(item))
	return nil
}

func (f *fakeStore) ListItems(ctx context.Context) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []json.RawMessage{}
	for _, v := range f.pool {
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeStore) ListBorrowed(ctx context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.ledger))
	for k, v := range f.ledger {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) DeleteItem(ctx context.Context, item json.RawMessage) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := canon(item)
	_, ok := f.pool[k]
	delete(f.pool, k)
	return ok, nil
}

func (f *fakeStore) DeleteBorrowed(ctx context.Context, item json.RawMessage) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := canon(item)
	_, ok := f.ledger[k]
	delete(f.ledger, k)
	return ok, nil
}

func (f *fakeStore) ForceReturn(ctx context.Context, item json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := canon(item)
	f.pool[k] = item
	delete(f.ledger, k)
	return nil
}

func (f *fakeStore) TestConnection(ctx context.Context) error { return nil }

func newTestServer(st *fakeStore) *Server {
	eng := workflow.New(st, dispatch.NewWithPolling(5*time.Millisecond, 50), operations.NewRegistry(), broadcast.NewBus(), &config.Config{})
	return New(eng)
}

func TestBorrowEmptyPoolReturns503(t *testing.T) {
	s := newTestServer(newFakeStore())
	req := httptest.NewRequest(http.MethodGet, "/borrow", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestBorrowReturnsItemFromPool(t *testing.T) {
	st := newFakeStore()
	st.pool["1"] = json.RawMessage(`{"id":1}`)
	s := newTestServer(st)

	req := httptest.NewRequest(http.MethodGet, "/borrow", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp borrowResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.NotEmpty(t, resp.BorrowToken)
	assert.JSONEq(t, `{"id":1}`, string(resp.Item))
}

func TestReturnWrongTokenIsRejected(t *testing.T) {
	st := newFakeStore()
	item := json.RawMessage(`{"id":2}`)
	st.ledger[canon(item)] = "real-token"
	s := newTestServer(st)

	body, _ := json.Marshal(returnRequest{Item: item, BorrowToken: "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/return", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReturnHappyPathIsAcceptedAndEventuallySucceeds(t *testing.T) {
	st := newFakeStore()
	item := json.RawMessage(`{"id":3}`)
	st.ledger[canon(item)] = "tok"
	s := newTestServer(st)

	body, _ := json.Marshal(returnRequest{Item: item, BorrowToken: "tok"})
	req := httptest.NewRequest(http.MethodPost, "/return", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp acceptedResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotEmpty(t, resp.OperationID)

	deadline := time.Now().Add(time.Second)
	var status operationStatusResponse
	for time.Now().Before(deadline) {
		sreq := httptest.NewRequest(http.MethodGet, "/operations/"+resp.OperationID, nil)
		sw := httptest.NewRecorder()
		s.Handler().ServeHTTP(sw, sreq)
		_ = json.NewDecoder(sw.Body).Decode(&status)
		if status.Status == "succeeded" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, "succeeded", status.Status)
}

func TestUnknownOperationIsNotFound(t *testing.T) {
	s := newTestServer(newFakeStore())
	req := httptest.NewRequest(http.MethodGet, "/operations/does-not-exist", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminItemsListAndDelete(t *testing.T) {
	st := newFakeStore()
	st.pool["x"] = json.RawMessage(`{"id":"x"}`)
	s := newTestServer(st)

	req := httptest.NewRequest(http.MethodGet, "/admin/items", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var list itemsListResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	assert.Equal(t, 1, list.Count)

	delBody, _ := json.Marshal(map[string]json.RawMessage{"item": json.RawMessage(`{"id":"x"}`)})
	dreq := httptest.NewRequest(http.MethodDelete, "/admin/items", bytes.NewReader(delBody))
	dw := httptest.NewRecorder()
	s.Handler().ServeHTTP(dw, dreq)
	assert.Equal(t, http.StatusOK, dw.Code)

	dw2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(dw2, httptest.NewRequest(http.MethodDelete, "/admin/items", bytes.NewReader(delBody)))
	assert.Equal(t, http.StatusNotFound, dw2.Code)
}

func TestAdminStats(t *testing.T) {
	st := newFakeStore()
	st.pool["x"] = json.RawMessage(`{"id":"x"}`)
	st.ledger["y"] = "tok"
	s := newTestServer(st)

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var stats statsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&stats))
	assert.Equal(t, 1, stats.FreeCount)
	assert.Equal(t, 1, stats.BorrowedCount)
}

func TestAdminUIServesHTML(t *testing.T) {
	s := newTestServer(newFakeStore())
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
}

func TestOpenAPIHasExpectedPaths(t *testing.T) {
	doc := OpenAPI()
	paths, ok := doc["paths"].(map[string]interface{})
	require.True(t, ok)
	for _, p := range []string{"/borrow", "/return", "/submit", "/operations/{id}", "/admin/stats"} {
		_, ok := paths[p]
		assert.True(t, ok, "missing path %s", p)
	}
}
